// Package workspace provides the request-scoped arena that string-returning
// keystore operations copy their results into. A result slice stays valid
// until the workspace is reset, which the caller does when the request or
// operation scope ends.
package workspace

import (
	"errors"
	"sync"
)

// ErrOverflow is returned when a copy does not fit in the remaining space.
var ErrOverflow = errors.New("workspace: overflow")

// DefaultSize is the arena size used when a caller does not pick one.
const DefaultSize = 64 * 1024

// Scope is what drivers copy results into.
type Scope interface {
	// Copy stores b in the scope and returns the stored copy.
	Copy(b []byte) ([]byte, error)
}

// Workspace is a fixed-capacity bump arena. It is safe for concurrent use,
// although a request scope normally belongs to one goroutine.
type Workspace struct {
	mu   sync.Mutex
	buf  []byte
	used int
}

// New creates a workspace of size bytes. A non-positive size selects
// DefaultSize.
func New(size int) *Workspace {
	if size <= 0 {
		size = DefaultSize
	}
	return &Workspace{buf: make([]byte, size)}
}

// Copy appends b to the arena. The returned slice has its capacity clipped so
// appends by the caller cannot spill into later copies.
func (w *Workspace) Copy(b []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(b) > len(w.buf)-w.used {
		return nil, ErrOverflow
	}
	start := w.used
	w.used += copy(w.buf[start:], b)
	return w.buf[start:w.used:w.used], nil
}

// Free returns the number of unused bytes.
func (w *Workspace) Free() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf) - w.used
}

// Used returns the number of bytes handed out since the last reset.
func (w *Workspace) Used() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.used
}

// Reset ends the scope. Slices returned by earlier copies must not be used
// afterwards; their bytes will be overwritten.
func (w *Workspace) Reset() {
	w.mu.Lock()
	w.used = 0
	w.mu.Unlock()
}

type heap struct{}

func (heap) Copy(b []byte) ([]byte, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

// Heap is an unbounded scope backed by ordinary allocations, for callers that
// have no request scope (CLI tools, tests).
var Heap Scope = heap{}
