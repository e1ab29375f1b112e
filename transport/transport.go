// Package transport is the blocking byte-stream abstraction RexPro frames
// ride on top of (C5), plus the frame codec for the two wire envelope
// variants (C4). It knows nothing about sessions, scripts, or the
// MessagePack payload shapes a layer up; it only moves exact byte counts.
package transport

import (
	"errors"
	"io"
	"sync"
)

// Transport is a thin, blocking, single-outstanding-request-at-a-time byte
// stream. Implementations must not reorder or interleave reads/writes; a
// Connection drives at most one in-flight request at a time (see spec §5).
type Transport interface {
	// ReadExact blocks until exactly n bytes have been read, or an error
	// occurs. A zero-byte read at the very start of a frame surfaces as
	// io.EOF so callers can tell a clean peer close from a mid-frame one.
	ReadExact(n int) ([]byte, error)

	// WriteAll writes b in its entirety or returns an error.
	WriteAll(b []byte) error

	// Close releases the underlying stream. Implementations should make
	// this idempotent.
	Close() error
}

// ErrStreamBusy reports that a transport stream is already in use.
// TestTransport never returns it: it serializes concurrent callers with a
// mutex instead.
var ErrStreamBusy = errors.New("rexpro: transport stream is already active")

// TestTransport is an in-memory Transport for exercising message
// serialization, the frame codec, and Connection logic without a socket.
// Callers queue raw bytes with QueueRead (typically whole frames written
// with WriteFrame) and inspect what was sent with Writes.
type TestTransport struct {
	mu     sync.Mutex
	inBuf  []byte
	writes [][]byte
	closed bool
}

// QueueRead appends b to the bytes that future ReadExact calls will hand
// out, in order.
func (t *TestTransport) QueueRead(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inBuf = append(t.inBuf, b...)
}

// ReadExact implements Transport.
func (t *TestTransport) ReadExact(n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n == 0 {
		return nil, nil
	}
	if t.closed || len(t.inBuf) == 0 {
		return nil, io.EOF
	}
	if len(t.inBuf) < n {
		return nil, errShortRead
	}

	b := make([]byte, n)
	copy(b, t.inBuf[:n])
	t.inBuf = t.inBuf[n:]
	return b, nil
}

// WriteAll implements Transport.
func (t *TestTransport) WriteAll(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make([]byte, len(b))
	copy(cp, b)
	t.writes = append(t.writes, cp)
	return nil
}

// Writes returns every byte slice passed to WriteAll, in order.
func (t *TestTransport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.writes...)
}

// Close marks the transport closed; subsequent reads behave as though the
// peer hung up.
func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

var errShortRead = errors.New("rexpro: short read mid-frame (test transport underfilled)")
