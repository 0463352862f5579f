// Package redis is the Redis-family keystore driver, built on redigo.
//
// The affinity attribute selects the concurrency discipline:
//
//	redis:host=10.0.0.5;port=6379;timeout=0.5                 one shared connection, commands serialized
//	redis:host=10.0.0.5;port=6379;affinity=worker             one connection per worker, no locking
//	redis:host=/var/run/redis.sock                            no port: unix domain socket
//
// Worker-affine connections live in the driver's affinity pool, not in the
// session. The caller must tag each context with affinity.WithWorker and must
// shut the pool down at process exit.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/oriys/keystore/internal/affinity"
	"github.com/oriys/keystore/internal/breaker"
	"github.com/oriys/keystore/internal/dsn"
	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/logging"
)

// Name is the DSN driver name.
const Name = "redis"

// Extra DSN attributes understood by this driver.
const (
	AttrAffinity     = "affinity"
	AttrPassword     = "password"
	AttrDB           = "db"
	AttrReadTimeout  = "read_timeout"
	AttrWriteTimeout = "write_timeout"
)

// Affinity modes.
const (
	Shared = "shared"
	Worker = "worker"
)

// DialFunc opens one redigo connection. redis.DialContext is the default.
type DialFunc func(ctx context.Context, network, address string, options ...redis.DialOption) (redis.Conn, error)

// Driver opens Redis sessions.
type Driver struct {
	name     string
	pool     *affinity.Pool[redis.Conn]
	dial     DialFunc
	breakers *breaker.Set
}

// Option configures a Driver.
type Option func(*Driver)

// WithDial replaces the dialer. Tests use it to inject fake connections.
func WithDial(dial DialFunc) Option {
	return func(d *Driver) { d.dial = dial }
}

// WithBreakers guards every dial with the endpoint's breaker, so a server
// that keeps refusing connections fails fast instead of being re-dialed on
// every command.
func WithBreakers(s *breaker.Set) Option {
	return func(d *Driver) { d.breakers = s }
}

// WithName registers the driver under another name, for a second Redis-family
// backend with different defaults.
func WithName(name string) Option {
	return func(d *Driver) { d.name = name }
}

// New returns a driver whose worker-affine sessions draw from pool. A nil pool
// gets a private one; its connections are then only closed by Shutdown.
func New(pool *affinity.Pool[redis.Conn], opts ...Option) *Driver {
	if pool == nil {
		pool = affinity.NewPool[redis.Conn]()
	}
	d := &Driver{name: Name, pool: pool, dial: redis.DialContext}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Name() string { return d.name }

// Pool returns the worker-affine connection pool.
func (d *Driver) Pool() *affinity.Pool[redis.Conn] { return d.pool }

// Shutdown closes every worker-affine connection.
func (d *Driver) Shutdown() error { return d.pool.Shutdown() }

// Open connects according to p. In shared mode the connection is dialed now;
// in worker mode the caller's worker connection is dialed now if ctx carries
// a worker, and a probe connection is dialed and dropped otherwise.
func (d *Driver) Open(ctx context.Context, p dsn.Params) (keystore.Conn, error) {
	cfg, err := parseConfig(p)
	if err != nil {
		return nil, err
	}
	guard := d.breakers.Get(cfg.endpoint())
	dial := func(ctx context.Context) (redis.Conn, error) {
		var c redis.Conn
		err := breaker.Guard(guard, func() error {
			var err error
			c, err = d.dial(ctx, cfg.network, cfg.address, cfg.options...)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("dial %s %s: %w", cfg.network, cfg.address, err)
		}
		logging.Component(d.name).Debug("redis: connected", "network", cfg.network, "address", cfg.address)
		return c, nil
	}

	switch cfg.affinity {
	case Worker:
		a := &affine{driver: d.name, pool: d.pool, scope: cfg.scope(), dial: dial}
		if err := a.warm(ctx); err != nil {
			return nil, err
		}
		return &conn{driver: d.name, mode: Worker, dispatch: a}, nil
	default:
		c, err := dial(ctx)
		if err != nil {
			return nil, err
		}
		return &conn{driver: d.name, mode: Shared, dispatch: &shared{driver: d.name, conn: c, dial: dial}}, nil
	}
}

type config struct {
	network  string
	address  string
	db       int
	affinity string
	options  []redis.DialOption
	// dialKey records every option that changes how a dial authenticates or
	// times out. The password only appears as a digest.
	dialKey []string
}

// endpoint names the server.
func (c config) endpoint() string {
	return c.network + "://" + c.address
}

// scope keys the affinity pool. Sessions share a worker's connection only
// when they name the same server and database with the same dial options.
func (c config) scope() string {
	s := c.endpoint() + "/" + strconv.Itoa(c.db)
	if len(c.dialKey) > 0 {
		s += "?" + strings.Join(c.dialKey, "&")
	}
	return s
}

func digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}

func parseConfig(p dsn.Params) (config, error) {
	cfg := config{network: "tcp", affinity: p.Attr(AttrAffinity, Shared)}
	if p.Local() {
		cfg.network = "unix"
		cfg.address = p.Host
	} else {
		cfg.address = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	}
	if cfg.affinity != Shared && cfg.affinity != Worker {
		return cfg, fmt.Errorf("redis: unknown affinity %q (want %s or %s)", cfg.affinity, Shared, Worker)
	}

	if !p.Timeout.IsZero() {
		cfg.options = append(cfg.options, redis.DialConnectTimeout(p.Timeout.Duration()))
		cfg.dialKey = append(cfg.dialKey, "timeout="+p.Timeout.Duration().String())
	}
	if pw := p.Attr(AttrPassword, ""); pw != "" {
		cfg.options = append(cfg.options, redis.DialPassword(pw))
		cfg.dialKey = append(cfg.dialKey, "auth="+digest(pw))
	}
	if v := p.Attr(AttrDB, ""); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return cfg, fmt.Errorf("redis: invalid db %q", v)
		}
		cfg.db = db
		cfg.options = append(cfg.options, redis.DialDatabase(db))
	}
	for _, t := range []struct {
		attr string
		opt  func(time.Duration) redis.DialOption
	}{
		{AttrReadTimeout, redis.DialReadTimeout},
		{AttrWriteTimeout, redis.DialWriteTimeout},
	} {
		v := p.Attr(t.attr, "")
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return cfg, fmt.Errorf("redis: invalid %s %q", t.attr, v)
		}
		cfg.options = append(cfg.options, t.opt(d))
		cfg.dialKey = append(cfg.dialKey, t.attr+"="+d.String())
	}
	return cfg, nil
}
