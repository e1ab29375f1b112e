package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Variant selects one of the two RexPro envelope generations. A Connection
// is bound to exactly one variant for its whole lifetime; the two are never
// auto-detected (spec §9 design note: the server flavor is a deployment
// fact, not something to sniff at runtime).
type Variant int

const (
	// V0 prefixes every message with [msg_type:1][msg_len:4-be][payload].
	V0 Variant = iota
	// V1 prefixes every message with
	// [proto_ver:1][serializer:1][reserved:4][msg_type:1][msg_len:4-be][payload].
	V1
)

// MessageType is the wire tag identifying a message's shape. Values are
// stable across both envelope variants.
type MessageType uint8

const (
	MsgError                 MessageType = 0
	MsgSessionRequest        MessageType = 1
	MsgSessionResponse       MessageType = 2
	MsgScriptRequest         MessageType = 3
	MsgConsoleScriptResponse MessageType = 4 // V0 only, ignored on input
	MsgScriptResponse        MessageType = 5 // V1 SCRIPT_RESPONSE / V0 MSGPACK_SCRIPT_RESPONSE

	maxKnownMessageType = MsgScriptResponse
)

const (
	protoVersion      byte = 1
	serializerMsgPack byte = 0
)

// ErrConnClosed signals the peer closed the stream cleanly at a frame
// boundary.
var ErrConnClosed = errors.New("rexpro: connection closed by peer")

// ErrShortFrame signals the stream ended, or otherwise failed, in the
// middle of a frame. Per spec §4.5 this is always fatal for the
// Connection; there is no resuming a half-read frame.
var ErrShortFrame = errors.New("rexpro: short read mid-frame")

// ErrUnknownMessageType is returned by ReadFrame when the peer sends a
// message type tag outside the known catalogue.
var ErrUnknownMessageType = errors.New("rexpro: unknown message type")

func putUint32BE(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}

func uint32BE(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// WriteFrame writes the envelope for msgType/payload in the given variant.
// The declared length always equals len(payload) (spec §3 invariant).
func WriteFrame(t Transport, variant Variant, msgType MessageType, payload []byte) error {
	var header []byte
	switch variant {
	case V1:
		header = []byte{protoVersion, serializerMsgPack, 0, 0, 0, 0, byte(msgType)}
	default:
		header = []byte{byte(msgType)}
	}
	header = append(header, putUint32BE(uint32(len(payload)))...)

	if err := t.WriteAll(header); err != nil {
		return fmt.Errorf("rexpro: write frame header: %w", err)
	}
	if len(payload) > 0 {
		if err := t.WriteAll(payload); err != nil {
			return fmt.Errorf("rexpro: write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one full envelope for the given variant and returns its
// message type tag and raw payload bytes. Unknown message types and
// malformed fixed fields (V1's proto/serializer bytes) fail with a
// connection-level error; a clean peer close at the frame boundary
// surfaces as ErrConnClosed, and any error after that point is
// ErrShortFrame (spec §4.4, §4.5, §9: V0's original reference
// implementation read msg_len in a single unbounded call and could
// under-read a large payload; ReadExact here always loops to the exact
// count regardless of variant).
func ReadFrame(t Transport, variant Variant) (MessageType, []byte, error) {
	var msgType MessageType

	switch variant {
	case V1:
		hdr, err := t.ReadExact(7)
		if err != nil {
			return 0, nil, wrapHeaderErr(err)
		}
		if hdr[0] != protoVersion {
			return 0, nil, fmt.Errorf("rexpro: unsupported protocol version byte %#x", hdr[0])
		}
		if hdr[1] != serializerMsgPack {
			return 0, nil, fmt.Errorf("rexpro: unsupported serializer byte %#x", hdr[1])
		}
		msgType = MessageType(hdr[6])
	default:
		hdr, err := t.ReadExact(1)
		if err != nil {
			return 0, nil, wrapHeaderErr(err)
		}
		msgType = MessageType(hdr[0])
	}

	if msgType > maxKnownMessageType {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, msgType)
	}

	lenBytes, err := t.ReadExact(4)
	if err != nil {
		return 0, nil, wrapBodyErr(err)
	}
	n := uint32BE(lenBytes)

	payload, err := t.ReadExact(int(n))
	if err != nil {
		return 0, nil, wrapBodyErr(err)
	}

	return msgType, payload, nil
}

// wrapHeaderErr classifies an error reading the fixed-size header that
// begins every frame: a clean EOF here means the peer hung up between
// frames, which is the normal, expected way a connection closes.
func wrapHeaderErr(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrConnClosed
	}
	return fmt.Errorf("%w: %v", ErrShortFrame, err)
}

// wrapBodyErr classifies an error reading any byte past the first header
// byte: there is no clean-close interpretation once inside a frame.
func wrapBodyErr(err error) error {
	return fmt.Errorf("%w: %v", ErrShortFrame, err)
}
