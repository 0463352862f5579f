// Package memory is an in-process keystore driver. It needs no backend, which
// makes it the default for tests and dry runs.
//
// The DSN host names a store: sessions opened with the same host share data
// for as long as at least one of them is open.
//
//	memory:host=scratch
package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/oriys/keystore/internal/dsn"
	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/logging"
	"github.com/oriys/keystore/internal/workspace"
)

// Name is the DSN driver name.
const Name = "memory"

// DefaultEvictInterval is how often expired entries are swept.
const DefaultEvictInterval = 30 * time.Second

var errNotInteger = errors.New("value is not an integer or out of range")

// Driver keeps the named stores alive across sessions.
type Driver struct {
	// EvictInterval overrides DefaultEvictInterval when positive.
	EvictInterval time.Duration

	mu     sync.Mutex
	stores map[string]*store
}

// New returns a driver with no stores.
func New() *Driver {
	return &Driver{stores: make(map[string]*store)}
}

func (d *Driver) Name() string { return Name }

// Open attaches to the store named by the host attribute, creating it on first
// use. The port and timeout are ignored.
func (d *Driver) Open(_ context.Context, p dsn.Params) (keystore.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stores == nil {
		d.stores = make(map[string]*store)
	}
	s, ok := d.stores[p.Host]
	if !ok {
		interval := d.EvictInterval
		if interval <= 0 {
			interval = DefaultEvictInterval
		}
		s = newStore(interval)
		d.stores[p.Host] = s
		logging.Op().Debug("memory: store created", "store", p.Host)
	}
	s.refs++
	return &conn{driver: d, name: p.Host, store: s}, nil
}

func (d *Driver) release(name string, s *store) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s.refs--
	if s.refs > 0 {
		return
	}
	if d.stores[name] == s {
		delete(d.stores, name)
	}
	s.close()
	logging.Op().Debug("memory: store dropped", "store", name)
}

type entry struct {
	value     string
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	refs    int
	stop    chan struct{}
}

func newStore(interval time.Duration) *store {
	s := &store{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	go s.evictLoop(interval)
	return s
}

func (s *store) close() {
	close(s.stop)
}

func (s *store) evictLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// live returns the unexpired entry for key. Callers hold s.mu.
func (s *store) live(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e, true
}

// conn is one session's view of a store. All state is in the store, which
// serializes access with its own lock.
type conn struct {
	driver *Driver
	name   string
	store  *store
	once   sync.Once
}

func (c *conn) Get(_ context.Context, scope workspace.Scope, key string) ([]byte, bool, error) {
	c.store.mu.RLock()
	e, ok := c.store.live(key)
	var v string
	if ok {
		v = e.value
	}
	c.store.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	b, err := scope.Copy([]byte(v))
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *conn) Add(_ context.Context, key, value string) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if _, ok := c.store.live(key); ok {
		return false, nil
	}
	c.store.entries[key] = &entry{value: value}
	return true, nil
}

func (c *conn) Set(_ context.Context, key, value string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.entries[key] = &entry{value: value}
	return nil
}

func (c *conn) Exists(_ context.Context, key string) (bool, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	_, ok := c.store.live(key)
	return ok, nil
}

func (c *conn) Delete(_ context.Context, key string) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	_, ok := c.store.live(key)
	delete(c.store.entries, key)
	return ok, nil
}

// Expire with a non-positive ttl deletes the key, as Redis does.
func (c *conn) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	e, ok := c.store.live(key)
	if !ok {
		delete(c.store.entries, key)
		return false, nil
	}
	if ttl <= 0 {
		delete(c.store.entries, key)
		return true, nil
	}
	e.expiresAt = time.Now().Add(ttl)
	return true, nil
}

func (c *conn) Increment(_ context.Context, key string) (int64, error) {
	return c.add(key, 1)
}

func (c *conn) Decrement(_ context.Context, key string) (int64, error) {
	return c.add(key, -1)
}

// add applies delta to the integer at key, keeping any expiry.
func (c *conn) add(key string, delta int64) (int64, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	e, ok := c.store.live(key)
	if !ok {
		e = &entry{value: "0"}
		c.store.entries[key] = e
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, errNotInteger
	}
	if (delta > 0 && n > n+delta) || (delta < 0 && n < n+delta) {
		return 0, errNotInteger
	}
	n += delta
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (c *conn) Close() error {
	c.once.Do(func() {
		c.driver.release(c.name, c.store)
	})
	return nil
}
