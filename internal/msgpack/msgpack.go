// Package msgpack is the thin boundary over the MessagePack value codec
// that RexPro uses to serialize and parse message payloads. It does not
// implement MessagePack itself; it wraps vmihailenco/msgpack so the rest of
// the module depends on one, narrow surface instead of a third-party API.
package msgpack

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes v, which must be built only from the supported value
// universe: bool, the signed/unsigned integer types, float32/float64,
// string, []byte, []any, and map[string]any.
func Encode(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rexpro: msgpack encode: %w", err)
	}
	return b, nil
}

// Decode parses b into v, which is typically a pointer to []any or to a
// concrete struct field.
func Decode(b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("rexpro: msgpack decode: %w", err)
	}
	return nil
}

// DecodeValue decodes b into the generic JSON-ish value universe: nil,
// bool, a sized integer (int8..int64 or uint8..uint64, following the width
// the encoder chose), float32/float64, string, []byte, []any,
// map[string]any.
// Raw byte strings (used for session and request ids) stay distinct from
// text strings, matching the msgpack str/bin family split.
func DecodeValue(b []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("rexpro: msgpack decode: %w", err)
	}
	return v, nil
}
