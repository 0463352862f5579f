// Package drivers wires the built-in keystore drivers into a registry.
package drivers

import (
	redigo "github.com/gomodule/redigo/redis"

	"github.com/oriys/keystore/internal/affinity"
	"github.com/oriys/keystore/internal/breaker"
	"github.com/oriys/keystore/internal/drivers/memcached"
	"github.com/oriys/keystore/internal/drivers/memory"
	"github.com/oriys/keystore/internal/drivers/postgres"
	"github.com/oriys/keystore/internal/drivers/redis"
	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/logging"
	"github.com/oriys/keystore/internal/metrics"
)

// Options configures the built-in set.
type Options struct {
	// Pool holds worker-affine Redis connections. Nil creates one whose size
	// is reported to the affine connections gauge.
	Pool *affinity.Pool[redigo.Conn]
	// Breakers guard Redis dials per endpoint. Nil creates a set with
	// breaker.DefaultConfig whose transitions are logged and counted.
	Breakers *breaker.Set
	// Extra drivers are registered after the built-ins, so they shadow a
	// built-in of the same name.
	Extra []keystore.Driver
}

// Set is the built-in drivers plus the resources they share.
type Set struct {
	Pool     *affinity.Pool[redigo.Conn]
	Breakers *breaker.Set
	Drivers  []keystore.Driver
}

// Builtin returns the built-in drivers in registration order.
func Builtin(opts Options) *Set {
	pool := opts.Pool
	if pool == nil {
		pool = affinity.NewPool[redigo.Conn]()
		pool.OnChange = metrics.SetAffineConnections
	}
	breakers := opts.Breakers
	if breakers == nil {
		breakers = breaker.NewSet(breaker.DefaultConfig())
		breakers.OnChange = func(endpoint string, from, to breaker.State) {
			logging.Component(redis.Name).Warn("redis: dial breaker changed state",
				"endpoint", endpoint, "from", from.String(), "to", to.String())
			metrics.RecordBreakerTransition(redis.Name, to.String())
		}
	}
	ds := []keystore.Driver{
		memory.New(),
		postgres.New(),
		memcached.New(),
		redis.New(pool, redis.WithBreakers(breakers)),
	}
	return &Set{Pool: pool, Breakers: breakers, Drivers: append(ds, opts.Extra...)}
}

// NewRegistry registers the set and freezes the result.
func (s *Set) NewRegistry() *keystore.Registry {
	return keystore.NewBuilder().MustRegister(s.Drivers...).Build()
}

// Shutdown closes the pooled worker-affine connections. Call it once the
// process has stopped issuing commands.
func (s *Set) Shutdown() error {
	return s.Pool.Shutdown()
}

// NewRegistry builds a registry of the built-in drivers. The returned Set
// must be shut down at exit.
func NewRegistry(opts Options) (*keystore.Registry, *Set) {
	s := Builtin(opts)
	return s.NewRegistry(), s
}
