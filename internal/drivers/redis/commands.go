package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oriys/keystore/internal/observability"
	"github.com/oriys/keystore/internal/reply"
	"github.com/oriys/keystore/internal/workspace"
)

var errEmptyCommand = errors.New("redis: empty command")

// conn maps the uniform operations onto Redis commands.
type conn struct {
	driver   string
	mode     string
	dispatch dispatcher
}

// call runs one command inside a client span and fails on an Error reply.
func (c *conn) call(ctx context.Context, cmd string, args ...any) (reply.Reply, error) {
	ctx, span := observability.StartClientSpan(ctx, "redis "+cmd,
		observability.AttrDriver.String(c.driver),
		observability.AttrAffinity.String(c.mode),
	)
	defer span.End()

	r, err := c.dispatch.do(ctx, cmd, args...)
	if err == nil {
		err = r.Err()
	}
	if err != nil {
		observability.SetSpanError(span, err)
		return r, err
	}
	observability.SetSpanOK(span)
	return r, nil
}

func (c *conn) Get(ctx context.Context, scope workspace.Scope, key string) ([]byte, bool, error) {
	r, err := c.call(ctx, "GET", key)
	if err != nil {
		return nil, false, err
	}
	return r.Copy(scope)
}

func (c *conn) Add(ctx context.Context, key, value string) (bool, error) {
	r, err := c.call(ctx, "SETNX", key, value)
	if err != nil {
		return false, err
	}
	return r.Changed(), nil
}

func (c *conn) Set(ctx context.Context, key, value string) error {
	r, err := c.call(ctx, "SET", key, value)
	if err != nil {
		return err
	}
	if !r.OK() {
		return fmt.Errorf("redis: SET answered %s %q", r.Kind, r.Text)
	}
	return nil
}

func (c *conn) Exists(ctx context.Context, key string) (bool, error) {
	r, err := c.call(ctx, "EXISTS", key)
	if err != nil {
		return false, err
	}
	return r.Present(), nil
}

func (c *conn) Delete(ctx context.Context, key string) (bool, error) {
	r, err := c.call(ctx, "DEL", key)
	if err != nil {
		return false, err
	}
	return r.Changed(), nil
}

// Expire sends whole seconds, rounded to nearest.
func (c *conn) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	secs := int64(math.Round(ttl.Seconds()))
	r, err := c.call(ctx, "EXPIRE", key, secs)
	if err != nil {
		return false, err
	}
	return r.Changed(), nil
}

func (c *conn) Increment(ctx context.Context, key string) (int64, error) {
	return c.counter(ctx, "INCR", key)
}

func (c *conn) Decrement(ctx context.Context, key string) (int64, error) {
	return c.counter(ctx, "DECR", key)
}

func (c *conn) counter(ctx context.Context, cmd, key string) (int64, error) {
	r, err := c.call(ctx, cmd, key)
	if err != nil {
		return 0, err
	}
	if r.Kind != reply.Integer {
		return 0, fmt.Errorf("redis: %s answered %s", cmd, r.Kind)
	}
	return r.Int, nil
}

// Raw splits command on whitespace and sends it as is.
func (c *conn) Raw(ctx context.Context, scope workspace.Scope, command string) ([]byte, bool, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, false, errEmptyCommand
	}
	args := make([]any, len(fields)-1)
	for i, f := range fields[1:] {
		args[i] = f
	}
	r, err := c.call(ctx, fields[0], args...)
	if err != nil {
		return nil, false, err
	}
	return r.Render(scope)
}

func (c *conn) Close() error {
	return c.dispatch.close()
}
