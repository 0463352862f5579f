// Package keystore is a pluggable key-value abstraction. A Registry maps
// driver names to Driver implementations; Registry.Open resolves a DSN such as
//
//	redis:host=127.0.0.1;port=6379;timeout=1.5
//
// into a Session that forwards the uniform operations (get, set, add, exists,
// delete, expire, increment, decrement and the optional raw passthrough) to the
// selected backend.
package keystore

import (
	"context"
	"time"

	"github.com/oriys/keystore/internal/dsn"
	"github.com/oriys/keystore/internal/workspace"
)

// Driver opens backend connections for one named backend family.
type Driver interface {
	// Name is matched exactly against the DSN's driver prefix.
	Name() string
	// Open connects using the parsed DSN. It must return a usable Conn or an
	// error; a nil Conn with a nil error is treated as a failed connection.
	Open(ctx context.Context, params dsn.Params) (Conn, error)
}

// Conn is the backend state behind a Session. Implementations choose their own
// concurrency discipline but must be safe for use by concurrent callers.
type Conn interface {
	// Get copies the value of key into scope. found is false when the key is
	// absent.
	Get(ctx context.Context, scope workspace.Scope, key string) (value []byte, found bool, err error)
	// Add stores value only if key is absent. It returns false, without an
	// error, when the key already exists.
	Add(ctx context.Context, key, value string) (bool, error)
	// Set stores value unconditionally and clears any expiry.
	Set(ctx context.Context, key, value string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Delete returns false when there was nothing to delete.
	Delete(ctx context.Context, key string) (bool, error)
	// Expire sets a time to live. It returns false when the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Increment and Decrement treat an absent key as 0.
	Increment(ctx context.Context, key string) (int64, error)
	Decrement(ctx context.Context, key string) (int64, error)
	// Close releases the backend state. It is called exactly once.
	Close() error
}

// RawConn is implemented by connections that can pass an arbitrary backend
// command through.
type RawConn interface {
	Raw(ctx context.Context, scope workspace.Scope, command string) (result []byte, found bool, err error)
}

// Capability names an optional operation.
type Capability string

// CapRaw is the raw passthrough capability.
const CapRaw Capability = "raw"
