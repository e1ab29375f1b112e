package msgpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeArray(t *testing.T) {
	in := []any{int64(1982), "groovy", []byte{0xde, 0xad, 0xbe, 0xef}, nil, true, 3.14}

	b, err := Encode(in)
	require.NoError(t, err)

	out, err := DecodeValue(b)
	require.NoError(t, err)

	arr, ok := out.([]any)
	require.True(t, ok, "expected []any, got %T", out)
	require.Len(t, arr, len(in))

	assert.EqualValues(t, 1982, arr[0])
	assert.Equal(t, "groovy", arr[1])
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, arr[2])
	assert.Nil(t, arr[3])
	assert.Equal(t, true, arr[4])
	assert.InDelta(t, 3.14, arr[5], 0.0001)
}

func TestDecodeValueMap(t *testing.T) {
	in := map[string]any{"graphName": "graph", "inSession": true}
	b, err := Encode(in)
	require.NoError(t, err)

	out, err := DecodeValue(b)
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok, "expected map[string]any, got %T", out)
	assert.Equal(t, "graph", m["graphName"])
	assert.Equal(t, true, m["inSession"])
}

func TestByteStringDistinctFromText(t *testing.T) {
	raw := []byte("0123456789abcdef")
	b, err := Encode(raw)
	require.NoError(t, err)

	out, err := DecodeValue(b)
	require.NoError(t, err)

	got, ok := out.([]byte)
	require.True(t, ok, "raw bytes must decode back to []byte, got %T", out)
	assert.Equal(t, raw, got)
}
