package memcached

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/keystore/internal/drivers/drivertest"
	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/logging"
)

func init() {
	logging.Discard()
}

func newRegistry() *keystore.Registry {
	return keystore.NewBuilder().MustRegister(New()).Build()
}

func open(t *testing.T, reg *keystore.Registry, s string) *keystore.Session {
	t.Helper()
	sess, err := reg.Open(context.Background(), s)
	require.NoError(t, err)
	return sess
}

func TestContract(t *testing.T) {
	srv := startFakeServer(t)
	reg := newRegistry()
	drivertest.Run(t, func(t *testing.T) *keystore.Session {
		return open(t, reg, srv.dsn()+";timeout=2")
	})
}

func TestOpen_ProbesServer(t *testing.T) {
	srv := startFakeServer(t)
	sess := open(t, newRegistry(), srv.dsn())
	defer sess.Close()
	assert.Equal(t, 1, srv.seen("gets"))
	assert.False(t, sess.Supports(keystore.CapRaw))
}

func TestClose_ReleasesSockets(t *testing.T) {
	srv := startFakeServer(t)
	sess := open(t, newRegistry(), srv.dsn())
	require.NoError(t, sess.Set(context.Background(), "k", "v"))
	assert.Zero(t, srv.disconnects())

	require.NoError(t, sess.Close())
	assert.Eventually(t, func() bool { return srv.disconnects() >= 1 },
		2*time.Second, 10*time.Millisecond, "idle socket still open after close")
}

func TestOpen_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	_, err = newRegistry().Open(context.Background(),
		"memcached:host=127.0.0.1;port="+strconv.Itoa(addr.Port)+";timeout=0.5")
	assert.ErrorIs(t, err, keystore.ErrConnectionFailed)
}

func TestOpen_InvalidMaxIdle(t *testing.T) {
	srv := startFakeServer(t)
	_, err := newRegistry().Open(context.Background(), srv.dsn()+";max_idle=lots")
	assert.ErrorIs(t, err, keystore.ErrConnectionFailed)
}

func TestIncrement_SeedsMissingKey(t *testing.T) {
	srv := startFakeServer(t)
	sess := open(t, newRegistry(), srv.dsn())
	defer sess.Close()
	ctx := context.Background()

	n, err := sess.Increment(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, srv.seen("add"))

	n, err = sess.Increment(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, srv.seen("add"))
}

func TestDecrement_FloorsAtZero(t *testing.T) {
	srv := startFakeServer(t)
	sess := open(t, newRegistry(), srv.dsn())
	defer sess.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		n, err := sess.Decrement(ctx, "floor")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	}
}

func TestIncrement_NonNumericFails(t *testing.T) {
	srv := startFakeServer(t)
	sess := open(t, newRegistry(), srv.dsn())
	defer sess.Close()
	ctx := context.Background()

	require.NoError(t, sess.Set(ctx, "word", "abc"))
	_, err := sess.Increment(ctx, "word")
	assert.ErrorIs(t, err, keystore.ErrCommandFailed)
}

func TestExpire(t *testing.T) {
	srv := startFakeServer(t)
	sess := open(t, newRegistry(), srv.dsn())
	defer sess.Close()
	ctx := context.Background()

	require.NoError(t, sess.Set(ctx, "k", "v"))
	ok, err := sess.Expire(ctx, "k", 1500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
	srv.mu.Lock()
	assert.Equal(t, int64(2), srv.exptimes["k"])
	srv.mu.Unlock()

	ok, err = sess.Expire(ctx, "k", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	exists, err := sess.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExpiration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, int32(1), expiration(time.Millisecond, now))
	assert.Equal(t, int32(60), expiration(time.Minute, now))
	assert.Equal(t, int32(30*24*3600), expiration(maxRelative, now))
	assert.Equal(t, int32(1_700_000_000+31*24*3600), expiration(31*24*time.Hour, now))
}

func TestCanceledContext(t *testing.T) {
	srv := startFakeServer(t)
	sess := open(t, newRegistry(), srv.dsn())
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := sess.Get(ctx, nil, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestLive runs the contract against a real memcached when one listens on
// KEYSTORE_TEST_MEMCACHED_ADDR (default localhost:11211).
func TestLive(t *testing.T) {
	addr := os.Getenv("KEYSTORE_TEST_MEMCACHED_ADDR")
	if addr == "" {
		addr = "localhost:11211"
	}
	c, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Skipf("Memcached not available, skipping: %v", err)
	}
	c.Close()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	reg := newRegistry()
	drivertest.Run(t, func(t *testing.T) *keystore.Session {
		return open(t, reg, "memcached:host="+host+";port="+port+";timeout=1")
	})
}
