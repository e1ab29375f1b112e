// Package tcp provides the concrete RexPro Transport: a raw (optionally
// TLS-wrapped) TCP socket. RexPro carries its own username/password
// authentication inside the session-open message payload (spec §3, §6),
// so unlike NETCONF there is no subsystem/channel negotiation to do after
// connecting — the socket itself is the whole transport.
package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"rexpro.io/rexpro/transport"
)

// Transport implements transport.Transport over a net.Conn.
type Transport struct {
	conn net.Conn

	// managedConn is true when this Transport owns the underlying
	// connection's lifecycle (created via Dial/DialTLS). When false (the
	// connection was handed to NewTransport by the caller), Close leaves
	// the socket open for the caller to manage.
	managedConn bool
}

// Dial connects to addr over network (normally "tcp") and returns a ready
// Transport. The connection is closed when the Transport is closed.
func Dial(ctx context.Context, network, addr string) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("rexpro: dial %s: %w", addr, err)
	}
	return &Transport{conn: conn, managedConn: true}, nil
}

// DialTLS is like Dial but negotiates TLS before returning. RexPro itself
// has no say in TLS (spec §1 non-goals); this only exists because the
// underlying socket needs to be established somehow when a deployment
// terminates RexPro behind TLS.
func DialTLS(ctx context.Context, network, addr string, config *tls.Config) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("rexpro: dial %s: %w", addr, err)
	}

	tlsConn := tls.Client(conn, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		return nil, fmt.Errorf("rexpro: tls handshake %s: %w", addr, err)
	}

	return &Transport{conn: tlsConn, managedConn: true}, nil
}

// NewTransport wraps an already-connected net.Conn. Unlike Dial, Close
// will not close conn; the caller keeps ownership of it.
func NewTransport(conn net.Conn) *Transport {
	return &Transport{conn: conn}
}

// ReadExact implements transport.Transport.
func (t *Transport) ReadExact(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// WriteAll implements transport.Transport.
func (t *Transport) WriteAll(b []byte) error {
	_, err := t.conn.Write(b)
	return err
}

// SetDeadline sets a deadline on the underlying socket for both reads and
// writes. Callers (normally Connection) use this to impose a timeout on
// the next blocking operation; the core itself has no cancellation
// primitive for I/O already in flight (spec §5).
func (t *Transport) SetDeadline(d time.Time) error {
	return t.conn.SetDeadline(d)
}

// Close closes the transport. If this Transport owns the underlying
// connection (created via Dial/DialTLS) the socket is closed too;
// otherwise the caller-supplied net.Conn is left open.
func (t *Transport) Close() error {
	if !t.managedConn {
		return nil
	}
	return t.conn.Close()
}

var _ transport.Transport = (*Transport)(nil)
