package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTripV1(t *testing.T) {
	tt := &TestTransport{}
	payload := []byte("hello rexpro")

	require.NoError(t, WriteFrame(tt, V1, MsgScriptRequest, payload))

	writes := tt.Writes()
	require.Len(t, writes, 2, "header and payload written separately")
	tt.QueueRead(writes[0])
	tt.QueueRead(writes[1])

	msgType, got, err := ReadFrame(tt, V1)
	require.NoError(t, err)
	assert.Equal(t, MsgScriptRequest, msgType)
	assert.Equal(t, payload, got)
}

func TestWriteReadFrameRoundTripV0(t *testing.T) {
	tt := &TestTransport{}
	payload := []byte("short")

	require.NoError(t, WriteFrame(tt, V0, MsgSessionResponse, payload))
	for _, w := range tt.Writes() {
		tt.QueueRead(w)
	}

	msgType, got, err := ReadFrame(tt, V0)
	require.NoError(t, err)
	assert.Equal(t, MsgSessionResponse, msgType)
	assert.Equal(t, payload, got)
}

func TestFrameLengthMatchesPayload(t *testing.T) {
	tt := &TestTransport{}
	payload := []byte("0123456789")
	require.NoError(t, WriteFrame(tt, V1, MsgScriptResponse, payload))

	writes := tt.Writes()
	header := writes[0]
	length := uint32BE(header[7:11])
	assert.EqualValues(t, len(payload), length)
}

func TestReadFrameEmptyIsConnClosed(t *testing.T) {
	tt := &TestTransport{}
	_, _, err := ReadFrame(tt, V1)
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestReadFrameShortMidFrame(t *testing.T) {
	tt := &TestTransport{}
	// Only the first byte of a V1 header: a real peer started a frame and
	// then vanished.
	tt.QueueRead([]byte{protoVersion})
	_, _, err := ReadFrame(tt, V1)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestReadFrameUnknownMessageType(t *testing.T) {
	tt := &TestTransport{}
	tt.QueueRead([]byte{99})
	tt.QueueRead(putUint32BE(0))
	_, _, err := ReadFrame(tt, V0)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestReadFrameUnsupportedVersionNamesByte(t *testing.T) {
	tt := &TestTransport{}
	tt.QueueRead([]byte{0x2, serializerMsgPack, 0, 0, 0, 0, byte(MsgError)})
	_, _, err := ReadFrame(tt, V1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x2")
}

func TestReadFrameUnsupportedSerializerNamesByte(t *testing.T) {
	tt := &TestTransport{}
	tt.QueueRead([]byte{protoVersion, 0x7, 0, 0, 0, 0, byte(MsgError)})
	_, _, err := ReadFrame(tt, V1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x7")
}

func TestErrShortFrameIsDistinctFromConnClosed(t *testing.T) {
	assert.False(t, errors.Is(ErrShortFrame, ErrConnClosed))
}
