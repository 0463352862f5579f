package redis_test

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/oriys/keystore/internal/affinity"
	"github.com/oriys/keystore/internal/drivers/drivertest"
	"github.com/oriys/keystore/internal/drivers/redis"
	"github.com/oriys/keystore/internal/keystore"
)

const liveDB = "15"

func liveAddr() string {
	if addr := os.Getenv("KEYSTORE_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// newTestRedisClient is an independent client used to check what the driver
// wrote. It skips the test when no server is running.
func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr: liveAddr(),
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func liveDSN(t *testing.T, extra string) string {
	t.Helper()
	host, port, err := net.SplitHostPort(liveAddr())
	if err != nil {
		t.Fatalf("bad KEYSTORE_TEST_REDIS_ADDR: %v", err)
	}
	return "redis:host=" + host + ";port=" + port + ";timeout=2;db=" + liveDB + extra
}

func liveRegistry(t *testing.T) (*redis.Driver, *keystore.Registry) {
	t.Helper()
	d := redis.New(nil)
	t.Cleanup(func() { d.Shutdown() })
	return d, keystore.NewBuilder().MustRegister(d).Build()
}

func TestLive_Contract(t *testing.T) {
	newTestRedisClient(t)
	for _, mode := range []string{redis.Shared, redis.Worker} {
		t.Run(mode, func(t *testing.T) {
			_, reg := liveRegistry(t)
			drivertest.Run(t, func(t *testing.T) *keystore.Session {
				s, err := reg.Open(context.Background(), liveDSN(t, ";affinity="+mode))
				if err != nil {
					t.Fatalf("Open failed: %v", err)
				}
				return s
			})
		})
	}
}

func TestLive_WritesAreVisibleToOtherClients(t *testing.T) {
	client := newTestRedisClient(t)
	_, reg := liveRegistry(t)
	ctx := context.Background()

	s, err := reg.Open(ctx, liveDSN(t, ""))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := s.Set(ctx, "live:k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := client.Get(ctx, "live:k").Result()
	if err != nil || got != "v" {
		t.Fatalf("expected v, got %q, %v", got, err)
	}

	if ok, err := s.Expire(ctx, "live:k", 90*time.Second); err != nil || !ok {
		t.Fatalf("Expire failed: %v, %v", ok, err)
	}
	ttl, err := client.TTL(ctx, "live:k").Result()
	if err != nil || ttl <= 0 || ttl > 90*time.Second {
		t.Fatalf("unexpected TTL %v, %v", ttl, err)
	}

	client.Set(ctx, "live:n", "41", 0)
	n, err := s.Increment(ctx, "live:n")
	if err != nil || n != 42 {
		t.Fatalf("expected 42, got %d, %v", n, err)
	}
}

func TestLive_RawPassthrough(t *testing.T) {
	newTestRedisClient(t)
	_, reg := liveRegistry(t)
	ctx := affinity.WithWorker(context.Background(), 1)

	s, err := reg.Open(ctx, liveDSN(t, ";affinity=worker"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	out, found, err := s.Raw(ctx, nil, "PING")
	if err != nil || !found || string(out) != "PONG" {
		t.Fatalf("expected PONG, got %q %v %v", out, found, err)
	}
	if _, _, err := s.Raw(ctx, nil, "NOSUCHCOMMAND"); err == nil {
		t.Fatal("expected an error reply to fail the command")
	}
}
