package rexpro

import (
	"context"
	"log"
	"sync"
)

// DialFunc opens one new Connection for a Pool to use when its idle queue is
// empty. It is typically a closure over Dial and its host/port/graph/creds.
type DialFunc func(ctx context.Context) (*Connection, error)

// Pool is a bounded, single-address connection pool: a FIFO queue of idle
// Connections plus an advisory capacity. Unlike the multi-address,
// resolver-driven load-balancing pool this shape is adapted from, RexPro
// has exactly one backend per Pool, so there is no address resolution,
// health checking, or balancer policy here — just reuse.
//
// Get never blocks waiting for an idle slot: an empty queue simply dials a
// new Connection. Capacity is enforced at Put time ("prune at return"), not
// at Get time, so a burst of concurrent callers can temporarily check out
// more than capacity Connections; only the ones returned once the idle
// queue is already full get closed instead of requeued.
type Pool struct {
	mu       sync.Mutex
	idle     []*Connection
	capacity int
	closed   bool

	dial DialFunc
}

// NewPool dials capacity Connections with dial and returns a Pool with all
// of them idle: "new(host, port, size) pre-fills the pool with size live
// Connections." A non-positive capacity dials nothing and means no
// Connection is ever kept idle afterward: every Put closes it.
//
// If dial fails partway through, every Connection already dialed is closed
// and the error is returned; no Pool is returned in that case.
func NewPool(ctx context.Context, capacity int, dial DialFunc) (*Pool, error) {
	p := &Pool{capacity: capacity, dial: dial}
	for i := 0; i < capacity; i++ {
		c, err := dial(ctx)
		if err != nil {
			for _, idle := range p.idle {
				if cerr := idle.Close(); cerr != nil {
					log.Printf("rexpro: failed to close connection while rolling back a failed pool pre-fill: %v", cerr)
				}
			}
			return nil, err
		}
		p.idle = append(p.idle, c)
	}
	return p, nil
}

// Get returns an idle Connection if one is queued, or dials a new one.
// It never blocks on pool state; a dial failure surfaces as whatever error
// DialFunc returned (typically a *ConnectionError).
func (p *Pool) Get(ctx context.Context) (*Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, usageErrf("pool is closed")
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	return p.dial(ctx)
}

// Put returns c to the pool. A Connection that is closed, or returned to an
// already-full or closed pool, is closed instead of requeued.
func (p *Pool) Put(c *Connection) {
	if c == nil {
		return
	}

	p.mu.Lock()
	if p.closed || c.closed || len(p.idle) >= p.capacity {
		p.mu.Unlock()
		if err := c.Close(); err != nil {
			log.Printf("rexpro: failed to close pruned connection: %v", err)
		}
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// WithConnection checks out a Connection, runs fn, and always returns it to
// the pool afterward — including when fn returns an error or panics.
func (p *Pool) WithConnection(ctx context.Context, fn func(ctx context.Context, c *Connection) error) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(c)

	return fn(ctx, c)
}

// Close closes every idle Connection and marks the Pool closed; subsequent
// Get calls fail and subsequent Put calls close their argument outright.
// Connections already checked out are unaffected until returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, c := range idle {
		if err := c.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				log.Printf("rexpro: failed to close idle connection: %v", err)
			}
		}
	}
	return firstErr
}
