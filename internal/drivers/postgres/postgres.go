// Package postgres is a keystore driver that keeps keys in a PostgreSQL table.
//
//	postgres:host=db.internal;port=5432;user=kv;password=...;database=app;table=kv_cache
//	postgres:host=/var/run/postgresql;database=app            no port: unix socket directory
//
// Expired rows are treated as absent by every operation and overwritten by
// the next write; nothing sweeps them in the background.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/keystore/internal/dsn"
	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/logging"
	"github.com/oriys/keystore/internal/workspace"
)

// Name is the DSN driver name.
const Name = "postgres"

// DefaultTable is used when the DSN has no table attribute.
const DefaultTable = "keystore"

// Extra DSN attributes understood by this driver.
const (
	AttrUser     = "user"
	AttrPassword = "password"
	AttrDatabase = "database"
	AttrTable    = "table"
	AttrSSLMode  = "sslmode"
	AttrMaxConns = "max_conns"
)

const defaultPort = 5432

var sslModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

// Driver opens PostgreSQL sessions. Every session owns a pgx pool.
type Driver struct{}

// New returns the postgres driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return Name }

// Open connects, pings and creates the table if it is missing.
func (d *Driver) Open(ctx context.Context, p dsn.Params) (keystore.Conn, error) {
	cfg, err := poolConfig(p)
	if err != nil {
		return nil, err
	}
	q, err := newQueries(p.Attr(AttrTable, DefaultTable))
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	c := &conn{pool: pool, q: q}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := c.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logging.Component(Name).Debug("postgres: connected",
		"host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database, "table", q.table)
	return c, nil
}

func poolConfig(p dsn.Params) (*pgxpool.Config, error) {
	connString := ""
	if mode := p.Attr(AttrSSLMode, ""); mode != "" {
		if !sslModes[mode] {
			return nil, fmt.Errorf("postgres: invalid %s %q", AttrSSLMode, mode)
		}
		connString = "sslmode=" + mode
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("error parsing pool config: %w", err)
	}

	port := p.Port
	if p.Local() {
		port = defaultPort
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("postgres: invalid port %d", p.Port)
	}
	cfg.ConnConfig.Host = p.Host
	cfg.ConnConfig.Port = uint16(port)
	cfg.ConnConfig.Fallbacks = nil
	if v := p.Attr(AttrUser, ""); v != "" {
		cfg.ConnConfig.User = v
	}
	if v := p.Attr(AttrPassword, ""); v != "" {
		cfg.ConnConfig.Password = v
	}
	if v := p.Attr(AttrDatabase, ""); v != "" {
		cfg.ConnConfig.Database = v
	}
	if !p.Timeout.IsZero() {
		cfg.ConnConfig.ConnectTimeout = p.Timeout.Duration()
	}
	if v := p.Attr(AttrMaxConns, ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("postgres: invalid %s %q", AttrMaxConns, v)
		}
		cfg.MaxConns = int32(n)
	}
	return cfg, nil
}

type conn struct {
	pool *pgxpool.Pool
	q    queries
}

func (c *conn) ensureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, c.q.schema); err != nil {
		return fmt.Errorf("ensure table %s: %w", c.q.table, err)
	}
	return nil
}

func (c *conn) Get(ctx context.Context, scope workspace.Scope, key string) ([]byte, bool, error) {
	var value string
	err := c.pool.QueryRow(ctx, c.q.get, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	b, err := scope.Copy([]byte(value))
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *conn) Add(ctx context.Context, key, value string) (bool, error) {
	ct, err := c.pool.Exec(ctx, c.q.add, key, value)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (c *conn) Set(ctx context.Context, key, value string) error {
	_, err := c.pool.Exec(ctx, c.q.set, key, value)
	return err
}

func (c *conn) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	if err := c.pool.QueryRow(ctx, c.q.exists, key).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (c *conn) Delete(ctx context.Context, key string) (bool, error) {
	var live bool
	err := c.pool.QueryRow(ctx, c.q.del, key).Scan(&live)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return live, nil
}

// Expire with a non-positive ttl deletes the key.
func (c *conn) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return c.Delete(ctx, key)
	}
	ct, err := c.pool.Exec(ctx, c.q.expire, key, ttl.Microseconds())
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (c *conn) Increment(ctx context.Context, key string) (int64, error) {
	return c.add(ctx, key, 1)
}

func (c *conn) Decrement(ctx context.Context, key string) (int64, error) {
	return c.add(ctx, key, -1)
}

func (c *conn) add(ctx context.Context, key string, delta int64) (int64, error) {
	var n int64
	if err := c.pool.QueryRow(ctx, c.q.incr, key, delta).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Raw runs command as SQL and returns the first column of the first row.
// No row, or a NULL, is absent.
func (c *conn) Raw(ctx context.Context, scope workspace.Scope, command string) ([]byte, bool, error) {
	rows, err := c.pool.Query(ctx, command)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	values, err := rows.Values()
	if err != nil {
		return nil, false, err
	}
	if len(values) == 0 || values[0] == nil {
		return nil, false, nil
	}
	b, err := scope.Copy(text(values[0]))
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func text(v any) []byte {
	switch v := v.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	case time.Time:
		return []byte(v.Format(time.RFC3339Nano))
	default:
		return []byte(fmt.Sprint(v))
	}
}

func (c *conn) Close() error {
	c.pool.Close()
	return nil
}
