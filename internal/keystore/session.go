package keystore

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/oriys/keystore/internal/logging"
	"github.com/oriys/keystore/internal/metrics"
	"github.com/oriys/keystore/internal/observability"
	"github.com/oriys/keystore/internal/workspace"
	"go.opentelemetry.io/otel/attribute"
)

// Session is an open handle on one backend, bound to the driver that created
// it. It is safe for concurrent use to the extent the driver's Conn is, which
// every built-in driver guarantees. A failed operation leaves the session
// usable; only Close ends it.
type Session struct {
	id     string
	driver Driver
	conn   Conn
	raw    RawConn
	desc   string
	closed atomic.Bool
}

// ID is a unique identifier used in logs, spans and audit entries.
func (s *Session) ID() string {
	return s.id
}

// Driver returns the name of the bound driver.
func (s *Session) Driver() string {
	return s.driver.Name()
}

// Supports reports whether the bound driver implements an optional capability.
func (s *Session) Supports(c Capability) bool {
	switch c {
	case CapRaw:
		return s.raw != nil
	}
	return false
}

// Get returns the value stored at key, copied into scope. A nil scope copies
// onto the heap.
func (s *Session) Get(ctx context.Context, scope workspace.Scope, key string) ([]byte, bool, error) {
	if scope == nil {
		scope = workspace.Heap
	}
	var (
		value []byte
		found bool
	)
	err := s.run(ctx, "get", key, func(ctx context.Context) (bool, error) {
		var err error
		value, found, err = s.conn.Get(ctx, scope, key)
		return found, err
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Add stores value at key only if the key is absent.
func (s *Session) Add(ctx context.Context, key, value string) (bool, error) {
	var added bool
	err := s.run(ctx, "add", key, func(ctx context.Context) (bool, error) {
		var err error
		added, err = s.conn.Add(ctx, key, value)
		return added, err
	})
	return added, err
}

// Set stores value at key.
func (s *Session) Set(ctx context.Context, key, value string) error {
	return s.run(ctx, "set", key, func(ctx context.Context) (bool, error) {
		return true, s.conn.Set(ctx, key, value)
	})
}

// Exists reports whether key is present.
func (s *Session) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.run(ctx, "exists", key, func(ctx context.Context) (bool, error) {
		var err error
		exists, err = s.conn.Exists(ctx, key)
		return exists, err
	})
	return exists, err
}

// Delete removes key and reports whether it was present.
func (s *Session) Delete(ctx context.Context, key string) (bool, error) {
	var deleted bool
	err := s.run(ctx, "delete", key, func(ctx context.Context) (bool, error) {
		var err error
		deleted, err = s.conn.Delete(ctx, key)
		return deleted, err
	})
	return deleted, err
}

// Expire sets key to expire after ttl and reports whether the key existed.
func (s *Session) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.run(ctx, "expire", key, func(ctx context.Context) (bool, error) {
		var err error
		ok, err = s.conn.Expire(ctx, key, ttl)
		return ok, err
	})
	return ok, err
}

// Increment adds one to the integer at key and returns the new value.
func (s *Session) Increment(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.run(ctx, "increment", key, func(ctx context.Context) (bool, error) {
		var err error
		n, err = s.conn.Increment(ctx, key)
		return true, err
	})
	return n, err
}

// Decrement subtracts one from the integer at key and returns the new value.
func (s *Session) Decrement(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.run(ctx, "decrement", key, func(ctx context.Context) (bool, error) {
		var err error
		n, err = s.conn.Decrement(ctx, key)
		return true, err
	})
	return n, err
}

// Raw passes command to the backend verbatim. It fails with
// ErrCapabilityUnsupported when the driver has no passthrough.
func (s *Session) Raw(ctx context.Context, scope workspace.Scope, command string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrSessionClosed
	}
	if s.raw == nil {
		return nil, false, Unsupported(s.driver.Name(), "raw")
	}
	if scope == nil {
		scope = workspace.Heap
	}
	var (
		result []byte
		found  bool
	)
	err := s.run(ctx, "raw", "", func(ctx context.Context) (bool, error) {
		var err error
		result, found, err = s.raw.Raw(ctx, scope, command)
		return found, err
	})
	if err != nil {
		return nil, false, err
	}
	return result, found, nil
}

// Close releases the backend state. A second Close returns ErrSessionClosed.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	metrics.RecordSessionClosed(s.driver.Name())
	if err := s.conn.Close(); err != nil {
		logging.Op().Warn("keystore: close failed", "session", s.id, "driver", s.driver.Name(), "error", err)
		return err
	}
	logging.Op().Info("keystore: session closed", "session", s.id, "driver", s.driver.Name())
	return nil
}

// run wraps one uniform operation with tracing, metrics and logging, and
// normalizes driver errors to CommandError.
func (s *Session) run(ctx context.Context, op, key string, fn func(context.Context) (bool, error)) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	driver := s.driver.Name()
	attrs := []attribute.KeyValue{
		observability.AttrDriver.String(driver),
		observability.AttrOp.String(op),
		observability.AttrSessionID.String(s.id),
	}
	if key != "" {
		attrs = append(attrs, observability.AttrKey.String(key))
	}
	ctx, span := observability.StartSpan(ctx, "keystore."+op, attrs...)
	defer span.End()

	start := time.Now()
	found, err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil && !errors.Is(err, ErrCommandFailed) && !errors.Is(err, ErrCapabilityUnsupported) {
		err = CommandFailed(driver, op, key, err)
	}
	metrics.RecordCommand(driver, op, elapsed, err)

	traceID, spanID := observability.TraceIDs(ctx)
	entry := &logging.CommandLog{
		SessionID:  s.id,
		TraceID:    traceID,
		Driver:     driver,
		Op:         op,
		Key:        key,
		DurationUs: elapsed.Microseconds(),
		Success:    err == nil,
		Found:      found,
	}

	if err != nil {
		entry.Error = err.Error()
		observability.SetSpanError(span, err)
		logging.OpWithTrace(traceID, spanID).Warn("keystore: command failed",
			"session", s.id, "driver", driver, "op", op, "key", key, "error", err)
	} else {
		span.SetAttributes(observability.AttrFound.Bool(found))
		observability.SetSpanOK(span)
	}
	logging.Default().Log(entry)
	return err
}
