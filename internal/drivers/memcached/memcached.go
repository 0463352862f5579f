// Package memcached is the Memcached-family keystore driver, built on
// gomemcache.
//
//	memcached:host=10.0.0.7;port=11211;timeout=0.2
//	memcached:host=/var/run/memcached.sock
//
// The client is safe for concurrent use and pools its own connections, so a
// session needs no locking of its own. Memcached has no passthrough command
// surface; the raw capability is not offered.
package memcached

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/oriys/keystore/internal/dsn"
	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/logging"
	"github.com/oriys/keystore/internal/workspace"
)

// Name is the DSN driver name.
const Name = "memcached"

// AttrMaxIdle sets the number of idle connections kept per server.
const AttrMaxIdle = "max_idle"

// probeKey is fetched at open time to check the server answers.
const probeKey = "keystore:probe"

// maxRelative is the largest expiry memcached reads as relative seconds.
// Larger values are taken as a unix timestamp.
const maxRelative = 30 * 24 * time.Hour

// Driver opens Memcached sessions.
type Driver struct{}

// New returns the memcached driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return Name }

// Open creates a client for p and checks the server answers. A zero timeout
// keeps the client's default.
func (d *Driver) Open(ctx context.Context, p dsn.Params) (keystore.Conn, error) {
	addr := p.Host
	if !p.Local() {
		addr = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	}
	client := memcache.New(addr)
	if !p.Timeout.IsZero() {
		client.Timeout = p.Timeout.Duration()
	}
	if v := p.Attr(AttrMaxIdle, ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("memcached: invalid %s %q", AttrMaxIdle, v)
		}
		client.MaxIdleConns = n
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := client.Get(probeKey); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return nil, fmt.Errorf("memcached: %s: %w", addr, err)
	}
	logging.Component(Name).Debug("memcached: connected", "address", addr)
	return &conn{client: client}, nil
}

type conn struct {
	client *memcache.Client
}

func (c *conn) Get(ctx context.Context, scope workspace.Scope, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item, err := c.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	b, err := scope.Copy(item.Value)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Add reports a NOT_STORED collision as false, not as an error.
func (c *conn) Add(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := c.client.Add(&memcache.Item{Key: key, Value: []byte(value)})
	if errors.Is(err, memcache.ErrNotStored) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *conn) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{Key: key, Value: []byte(value)})
}

func (c *conn) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := c.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *conn) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := c.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Expire touches the key. A non-positive ttl deletes it.
func (c *conn) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return c.Delete(ctx, key)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := c.client.Touch(key, expiration(ttl, time.Now()))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// expiration converts ttl to memcached's exptime: relative seconds up to 30
// days, an absolute unix time beyond that.
func expiration(ttl time.Duration, now time.Time) int32 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if ttl > maxRelative {
		secs = now.Add(ttl).Unix()
	}
	return int32(secs)
}

// Increment seeds a missing key with 1.
func (c *conn) Increment(ctx context.Context, key string) (int64, error) {
	return c.arith(ctx, key, "1", c.client.Increment)
}

// Decrement seeds a missing key with 0. Memcached counters are unsigned, so
// decrementing 0 stays at 0.
func (c *conn) Decrement(ctx context.Context, key string) (int64, error) {
	return c.arith(ctx, key, "0", c.client.Decrement)
}

// arith applies op, creating the key with seed when it is missing. If another
// writer creates the key between the miss and the add, op runs once more.
func (c *conn) arith(ctx context.Context, key, seed string, op func(string, uint64) (uint64, error)) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := op(key, 1)
	if err == nil {
		return int64(n), nil
	}
	if !errors.Is(err, memcache.ErrCacheMiss) {
		return 0, err
	}

	err = c.client.Add(&memcache.Item{Key: key, Value: []byte(seed)})
	if err == nil {
		v, _ := strconv.ParseInt(seed, 10, 64)
		return v, nil
	}
	if !errors.Is(err, memcache.ErrNotStored) {
		return 0, err
	}
	n, err = op(key, 1)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// Close closes the client's idle sockets.
func (c *conn) Close() error {
	return c.client.Close()
}
