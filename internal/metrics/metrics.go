// Package metrics records keystore command statistics, both in process (for
// CLI summaries and a JSON endpoint) and, once InitPrometheus has run, as
// Prometheus collectors.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects in-process command statistics
type Metrics struct {
	TotalCommands  atomic.Int64
	FailedCommands atomic.Int64

	// Latency (in microseconds)
	TotalLatencyUs atomic.Int64
	MinLatencyUs   atomic.Int64
	MaxLatencyUs   atomic.Int64

	// Per-operation metrics
	opMetrics sync.Map // op -> *OpMetrics

	startTime time.Time
}

// OpMetrics tracks metrics for a single operation name
type OpMetrics struct {
	Commands atomic.Int64
	Failures atomic.Int64
	TotalUs  atomic.Int64
	MaxUs    atomic.Int64
}

const noMin = int64(^uint64(0) >> 1)

// Global metrics instance
var global = newMetrics()

func newMetrics() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.MinLatencyUs.Store(noMin)
	return m
}

// Global returns the global metrics instance
func Global() *Metrics {
	return global
}

func (m *Metrics) record(op string, d time.Duration, success bool) {
	us := d.Microseconds()
	m.TotalCommands.Add(1)
	if !success {
		m.FailedCommands.Add(1)
	}
	m.TotalLatencyUs.Add(us)
	updateMin(&m.MinLatencyUs, us)
	updateMax(&m.MaxLatencyUs, us)

	om := m.getOpMetrics(op)
	om.Commands.Add(1)
	if !success {
		om.Failures.Add(1)
	}
	om.TotalUs.Add(us)
	updateMax(&om.MaxUs, us)
}

func (m *Metrics) getOpMetrics(op string) *OpMetrics {
	if v, ok := m.opMetrics.Load(op); ok {
		return v.(*OpMetrics)
	}
	actual, _ := m.opMetrics.LoadOrStore(op, &OpMetrics{})
	return actual.(*OpMetrics)
}

// OpStat is one row of Ops.
type OpStat struct {
	Op       string  `json:"op"`
	Commands int64   `json:"commands"`
	Failures int64   `json:"failures"`
	AvgUs    float64 `json:"avg_us"`
	MaxUs    int64   `json:"max_us"`
}

// Ops returns per-operation statistics sorted by operation name
func (m *Metrics) Ops() []OpStat {
	var out []OpStat
	m.opMetrics.Range(func(key, value interface{}) bool {
		om := value.(*OpMetrics)
		n := om.Commands.Load()
		avg := float64(0)
		if n > 0 {
			avg = float64(om.TotalUs.Load()) / float64(n)
		}
		out = append(out, OpStat{
			Op:       key.(string),
			Commands: n,
			Failures: om.Failures.Load(),
			AvgUs:    avg,
			MaxUs:    om.MaxUs.Load(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalCommands.Load()
	avg := float64(0)
	if total > 0 {
		avg = float64(m.TotalLatencyUs.Load()) / float64(total)
	}
	minUs := m.MinLatencyUs.Load()
	if minUs == noMin {
		minUs = 0
	}
	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"commands": map[string]interface{}{
			"total":  total,
			"failed": m.FailedCommands.Load(),
		},
		"latency_us": map[string]interface{}{
			"avg": avg,
			"min": minUs,
			"max": m.MaxLatencyUs.Load(),
		},
		"ops": m.Ops(),
	}
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
