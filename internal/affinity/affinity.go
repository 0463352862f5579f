// Package affinity implements worker-affine connection reuse.
//
// A worker is whatever unit of sequential execution the host uses to process
// requests: a goroutine in a fixed worker pool, a request loop, a test's
// goroutine. The first time a worker talks to a given backend address it dials
// a connection of its own; after that it reuses it without locking, because no
// other worker ever sees it.
//
// Pooled connections belong to the Pool, not to the session that dialed them.
// Closing a session leaves them open; Shutdown closes all of them at process
// teardown.
package affinity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("affinity: pool is shut down")

// ErrNoWorker is returned when a context carries no worker identity.
var ErrNoWorker = errors.New("affinity: no worker in context")

// WorkerID identifies a worker. Zero is not a valid id.
type WorkerID uint64

type workerKey struct{}

// WithWorker tags ctx with the calling worker's identity.
func WithWorker(ctx context.Context, id WorkerID) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

// WorkerFrom returns the worker identity carried by ctx.
func WorkerFrom(ctx context.Context) (WorkerID, bool) {
	id, ok := ctx.Value(workerKey{}).(WorkerID)
	return id, ok && id != 0
}

type poolKey struct {
	scope  string
	worker WorkerID
}

func (k poolKey) String() string {
	return strconv.FormatUint(uint64(k.worker), 10) + "@" + k.scope
}

// Pool caches one connection per (scope, worker). Scope is normally the
// backend address, so workers talking to two backends hold two connections.
type Pool[C io.Closer] struct {
	mu     sync.Mutex
	conns  map[poolKey]C
	closed bool
	dials  singleflight.Group

	// OnChange, if set, is called with the pool size after it changes.
	OnChange func(n int)
}

// NewPool creates an empty pool.
func NewPool[C io.Closer]() *Pool[C] {
	return &Pool[C]{conns: make(map[poolKey]C)}
}

// Acquire returns the worker's connection for scope, dialing it on first use.
// Dials run outside the pool lock, so a slow backend only holds up callers
// waiting on the same (scope, worker); concurrent dials for one key are
// collapsed into one.
func (p *Pool[C]) Acquire(scope string, worker WorkerID, dial func() (C, error)) (C, error) {
	var zero C
	if worker == 0 {
		return zero, ErrNoWorker
	}
	key := poolKey{scope: scope, worker: worker}

	if c, ok, err := p.lookup(key); ok || err != nil {
		return c, err
	}
	v, err, _ := p.dials.Do(key.String(), func() (any, error) {
		// An earlier flight for this key may have finished since the lookup.
		if c, ok, err := p.lookup(key); ok || err != nil {
			return c, err
		}
		c, err := dial()
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			c.Close()
			return nil, ErrPoolClosed
		}
		p.conns[key] = c
		p.changed()
		return c, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(C), nil
}

func (p *Pool[C]) lookup(key poolKey) (C, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero C
	if p.closed {
		return zero, false, ErrPoolClosed
	}
	c, ok := p.conns[key]
	return c, ok, nil
}

// Evict removes and closes the worker's connection for scope, if any. Drivers
// call it when the connection is broken so the next Acquire dials afresh.
func (p *Pool[C]) Evict(scope string, worker WorkerID) error {
	key := poolKey{scope: scope, worker: worker}

	p.mu.Lock()
	c, ok := p.conns[key]
	if ok {
		delete(p.conns, key)
		p.changed()
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return c.Close()
}

// Len returns the number of pooled connections.
func (p *Pool[C]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Shutdown closes every pooled connection and makes later Acquire calls fail.
// It must run after the workers have stopped issuing commands.
func (p *Pool[C]) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.conns
	p.conns = make(map[poolKey]C)
	p.changed()
	p.mu.Unlock()

	var g errgroup.Group
	for key, c := range conns {
		key, c := key, c
		g.Go(func() error {
			if err := c.Close(); err != nil {
				return fmt.Errorf("close %s (worker %d): %w", key.scope, key.worker, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool[C]) changed() {
	if p.OnChange != nil {
		p.OnChange(len(p.conns))
	}
}
