package redis

import (
	"context"
	"errors"
	"sync"

	"github.com/gomodule/redigo/redis"

	"github.com/oriys/keystore/internal/affinity"
	"github.com/oriys/keystore/internal/logging"
	"github.com/oriys/keystore/internal/metrics"
	"github.com/oriys/keystore/internal/reply"
)

// dispatcher issues one command and returns its reply. A non-nil error means
// no reply was received; an Error reply is returned as a Reply.
type dispatcher interface {
	do(ctx context.Context, cmd string, args ...any) (reply.Reply, error)
	close() error
}

// roundTrip pipelines one command on c and reads exactly one reply.
func roundTrip(c redis.Conn, cmd string, args ...any) (reply.Reply, error) {
	if err := c.Send(cmd, args...); err != nil {
		return reply.Reply{}, err
	}
	if err := c.Flush(); err != nil {
		return reply.Reply{}, err
	}
	return decode(c.Receive())
}

// decode maps redigo's reply values onto the tagged Reply.
func decode(v any, err error) (reply.Reply, error) {
	if err != nil {
		var re redis.Error
		if errors.As(err, &re) {
			return reply.Reply{Kind: reply.Error, Text: string(re)}, nil
		}
		return reply.Reply{}, err
	}
	switch v := v.(type) {
	case nil:
		return reply.Reply{Kind: reply.Nil}, nil
	case int64:
		return reply.Reply{Kind: reply.Integer, Int: v}, nil
	case string:
		return reply.Reply{Kind: reply.Status, Text: v}, nil
	case []byte:
		return reply.Reply{Kind: reply.String, Bytes: v}, nil
	case redis.Error:
		return reply.Reply{Kind: reply.Error, Text: string(v)}, nil
	default:
		return reply.Reply{Kind: reply.Other}, nil
	}
}

// shared is the one-connection discipline. The mutex covers send, flush and
// receive, so concurrent callers never read each other's replies.
type shared struct {
	driver string
	dial   func(context.Context) (redis.Conn, error)

	mu     sync.Mutex
	conn   redis.Conn
	closed bool
}

func (s *shared) do(ctx context.Context, cmd string, args ...any) (reply.Reply, error) {
	if err := ctx.Err(); err != nil {
		return reply.Reply{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return reply.Reply{}, errors.New("redis: connection closed")
	}
	// redigo marks a connection permanently broken after an I/O error.
	// Re-dial before the next command; the command that failed is not retried.
	if s.conn == nil || s.conn.Err() != nil {
		if err := s.redial(ctx); err != nil {
			return reply.Reply{}, err
		}
	}
	return roundTrip(s.conn, cmd, args...)
}

func (s *shared) redial(ctx context.Context) error {
	if s.conn != nil {
		logging.Component(s.driver).Warn("redis: connection broken, reconnecting", "error", s.conn.Err())
		s.conn.Close()
		s.conn = nil
	}
	c, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.conn = c
	metrics.RecordReconnect(s.driver)
	return nil
}

func (s *shared) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// affine is the worker-affine discipline. Each worker drives its own pooled
// connection, so no lock is held across the round trip. A worker id must not
// be used by two goroutines at once.
type affine struct {
	driver string
	pool   *affinity.Pool[redis.Conn]
	scope  string
	dial   func(context.Context) (redis.Conn, error)
}

func (a *affine) acquire(ctx context.Context, worker affinity.WorkerID) (redis.Conn, error) {
	return a.pool.Acquire(a.scope, worker, func() (redis.Conn, error) {
		return a.dial(ctx)
	})
}

// warm checks the backend is reachable at open time.
func (a *affine) warm(ctx context.Context) error {
	if worker, ok := affinity.WorkerFrom(ctx); ok {
		_, err := a.acquire(ctx, worker)
		return err
	}
	c, err := a.dial(ctx)
	if err != nil {
		return err
	}
	return c.Close()
}

func (a *affine) do(ctx context.Context, cmd string, args ...any) (reply.Reply, error) {
	if err := ctx.Err(); err != nil {
		return reply.Reply{}, err
	}
	worker, ok := affinity.WorkerFrom(ctx)
	if !ok {
		return reply.Reply{}, affinity.ErrNoWorker
	}
	c, err := a.acquire(ctx, worker)
	if err != nil {
		return reply.Reply{}, err
	}
	r, err := roundTrip(c, cmd, args...)
	if c.Err() != nil {
		logging.Component(a.driver).Warn("redis: dropping broken worker connection",
			"worker", uint64(worker), "error", c.Err())
		a.pool.Evict(a.scope, worker)
		metrics.RecordReconnect(a.driver)
	}
	return r, err
}

// close leaves pooled connections alone; they belong to the pool.
func (a *affine) close() error {
	return nil
}
