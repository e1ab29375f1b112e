package rexpro

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rexpro.io/rexpro/transport"
)

// fakeConnection builds a Connection wired to an in-memory transport, bypassing
// the real handshake, so pool tests can focus purely on pool bookkeeping.
func fakeConnection() *Connection {
	return &Connection{tr: &transport.TestTransport{}, variant: V1, hasSession: true}
}

// newTestPool builds a Pool without exercising NewPool's pre-fill dialing
// (capacity 0), then sets the desired capacity directly so individual tests
// can drive the idle queue themselves. Pre-fill itself is covered separately
// below.
func newTestPool(t *testing.T, capacity int, dial DialFunc) *Pool {
	t.Helper()
	p, err := NewPool(context.Background(), 0, dial)
	require.NoError(t, err)
	p.capacity = capacity
	return p
}

func TestNewPoolPreFillsIdleConnections(t *testing.T) {
	dialCalls := 0
	p, err := NewPool(context.Background(), 3, func(ctx context.Context) (*Connection, error) {
		dialCalls++
		return fakeConnection(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, dialCalls)
	assert.Len(t, p.idle, 3)

	// The pre-filled Connections are genuinely idle and ready to hand out
	// without dialing further.
	for i := 0; i < 3; i++ {
		_, err := p.Get(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, dialCalls)
}

func TestNewPoolWithNonPositiveCapacityDialsNothing(t *testing.T) {
	dialCalls := 0
	p, err := NewPool(context.Background(), 0, func(ctx context.Context) (*Connection, error) {
		dialCalls++
		return fakeConnection(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, dialCalls)
	assert.Empty(t, p.idle)
}

func TestNewPoolClosesAlreadyDialedConnectionsOnDialFailure(t *testing.T) {
	wantErr := errors.New("dial failed")
	var built []*Connection
	p, err := NewPool(context.Background(), 3, func(ctx context.Context) (*Connection, error) {
		if len(built) == 1 {
			return nil, wantErr
		}
		c := fakeConnection()
		built = append(built, c)
		return c, nil
	})
	require.ErrorIs(t, err, wantErr)
	assert.Nil(t, p)
	require.Len(t, built, 1)
	assert.True(t, built[0].closed, "the one Connection dialed before the failure must be closed, not leaked")
}

func TestPoolGetReturnsIdleConnectionBeforeDialing(t *testing.T) {
	want := fakeConnection()
	dialCalls := 0
	p := newTestPool(t, 2, func(ctx context.Context) (*Connection, error) {
		dialCalls++
		return fakeConnection(), nil
	})
	p.Put(want)

	got, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, 0, dialCalls)
}

func TestPoolGetDialsWhenIdleQueueEmpty(t *testing.T) {
	dialed := fakeConnection()
	p := newTestPool(t, 2, func(ctx context.Context) (*Connection, error) {
		return dialed, nil
	})

	got, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, dialed, got)
}

func TestPoolIsFIFO(t *testing.T) {
	first, second := fakeConnection(), fakeConnection()
	p := newTestPool(t, 2, nil)
	p.Put(first)
	p.Put(second)

	got1, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, got1)

	got2, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, second, got2)
}

func TestPoolPrunesAtReturnNotAcquire(t *testing.T) {
	p := newTestPool(t, 1, nil)
	first := fakeConnection()
	second := fakeConnection()

	p.Put(first)
	p.Put(second) // queue already has capacity idle conns: second is pruned (closed), not queued

	assert.True(t, second.closed)
	assert.False(t, first.closed)

	got, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestPoolPutClosesConnectionReturnedAlreadyClosed(t *testing.T) {
	dialCalls := 0
	p := newTestPool(t, 2, func(ctx context.Context) (*Connection, error) {
		dialCalls++
		return fakeConnection(), nil
	})
	c := fakeConnection()
	require.NoError(t, c.Close())

	p.Put(c)

	_, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dialCalls, "a closed connection must not be handed back out of the idle queue")
}

func TestPoolCloseClosesIdleConnectionsAndRejectsFurtherGets(t *testing.T) {
	p := newTestPool(t, 2, nil)
	c := fakeConnection()
	p.Put(c)

	require.NoError(t, p.Close())
	assert.True(t, c.closed)

	_, err := p.Get(context.Background())
	var usageErr *UsageError
	assert.ErrorAs(t, err, &usageErr)
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	p := newTestPool(t, 1, nil)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestWithConnectionReturnsConnectionOnError(t *testing.T) {
	c := fakeConnection()
	p := newTestPool(t, 1, nil)
	p.Put(c)

	sentinel := assertErr{"boom"}
	err := p.WithConnection(context.Background(), func(ctx context.Context, conn *Connection) error {
		assert.Same(t, c, conn)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, c, got)
}
