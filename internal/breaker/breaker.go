// Package breaker guards backend endpoints against dial storms. Each endpoint
// has a breaker that opens once too many recent connection attempts failed,
// rejects attempts while open, and lets a limited number of probes through
// after a cooldown.
//
//	Closed ──(failure rate ≥ FailurePct)──► Open ──(Cooldown elapsed)──► HalfOpen
//	  ▲                                                                     │
//	  └───────────────(all probes succeed)─────────────────────────────────┘
//	                   (any probe fails) ─────────────────────────────► Open
//
// Outcomes are kept in a sliding window of Window length. The rate is only
// evaluated once MinAttempts outcomes are in the window.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do when the breaker rejects an attempt.
var ErrOpen = errors.New("breaker: open")

// State is the breaker state.
type State int

const (
	Closed   State = iota // attempts pass through
	Open                  // attempts are rejected
	HalfOpen              // a limited number of probes pass through
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a breaker. A zero FailurePct disables breaking.
type Config struct {
	FailurePct  float64       // failure percentage that trips the breaker (0-100)
	MinAttempts int           // outcomes needed in the window before tripping
	Window      time.Duration // sliding window for the failure rate
	Cooldown    time.Duration // time spent open before probing
	Probes      int           // probes allowed while half-open
}

// DefaultConfig trips after half of at least five dials in ten seconds fail.
func DefaultConfig() Config {
	return Config{
		FailurePct:  50,
		MinAttempts: 5,
		Window:      10 * time.Second,
		Cooldown:    2 * time.Second,
		Probes:      1,
	}
}

func (c Config) enabled() bool {
	return c.FailurePct > 0 && c.Window > 0 && c.Cooldown > 0
}

// maxOutcomes caps the window so a flood of attempts cannot grow it unbounded.
const maxOutcomes = 10000

// Breaker guards one endpoint. It is safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	now      func() time.Time
	onChange func(from, to State)

	state    State
	ok       []time.Time
	failed   []time.Time
	openedAt time.Time
	probes   int // probes let through since the last HalfOpen transition
	probesOK int
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do runs fn unless the breaker is open, and records its outcome.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err == nil)
	return err
}

// State returns the current state, moving Open to HalfOpen once the cooldown
// has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cool(b.now())
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cool(b.now())
	switch b.state {
	case Open:
		return false
	case HalfOpen:
		if b.probes >= b.cfg.Probes {
			return false
		}
		b.probes++
	}
	return true
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	switch b.state {
	case Closed:
		if success {
			b.ok = append(b.ok, now)
		} else {
			b.failed = append(b.failed, now)
		}
		b.trim(now)
		if !success && b.tripped() {
			b.transition(Open, now)
		}
	case HalfOpen:
		if !success {
			b.transition(Open, now)
			return
		}
		b.probesOK++
		if b.probesOK >= b.cfg.Probes {
			b.transition(Closed, now)
		}
	}
}

// cool moves Open to HalfOpen after the cooldown. Must be called under lock.
func (b *Breaker) cool(now time.Time) {
	if b.state == Open && now.Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(HalfOpen, now)
	}
}

// transition must be called under lock.
func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	b.state = to
	switch to {
	case Open:
		b.openedAt = now
	case HalfOpen:
		b.probes, b.probesOK = 0, 0
	case Closed:
		b.ok, b.failed = b.ok[:0], b.failed[:0]
	}
	if b.onChange != nil && from != to {
		b.onChange(from, to)
	}
}

func (b *Breaker) tripped() bool {
	total := len(b.ok) + len(b.failed)
	if total == 0 || total < b.cfg.MinAttempts {
		return false
	}
	return float64(len(b.failed))/float64(total)*100 >= b.cfg.FailurePct
}

func (b *Breaker) trim(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	b.ok = dropBefore(b.ok, cutoff)
	b.failed = dropBefore(b.failed, cutoff)
	if len(b.ok) > maxOutcomes {
		b.ok = b.ok[len(b.ok)-maxOutcomes:]
	}
	if len(b.failed) > maxOutcomes {
		b.failed = b.failed[len(b.failed)-maxOutcomes:]
	}
}

func dropBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	n := copy(times, times[i:])
	return times[:n]
}

// Set holds one breaker per endpoint, all sharing a Config.
type Set struct {
	cfg Config
	// OnChange, if set before first use, is called on every state change
	// with the breaker locked. It must not call back into the breaker.
	OnChange func(endpoint string, from, to State)

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewSet creates an empty set.
func NewSet(cfg Config) *Set {
	return &Set{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the endpoint's breaker, creating it on first use. It returns nil
// when the config disables breaking; a nil *Breaker passes everything through.
func (s *Set) Get(endpoint string) *Breaker {
	if s == nil || !s.cfg.enabled() {
		return nil
	}
	s.mu.RLock()
	b, ok := s.breakers[endpoint]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[endpoint]; ok {
		return b
	}
	b = New(s.cfg)
	if s.OnChange != nil {
		notify := s.OnChange
		b.onChange = func(from, to State) { notify(endpoint, from, to) }
	}
	s.breakers[endpoint] = b
	return b
}

// Snapshot maps each endpoint to its breaker state.
func (s *Set) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.breakers))
	for endpoint, b := range s.breakers {
		out[endpoint] = b.State().String()
	}
	return out
}

// Guard runs fn through b, or directly when b is nil.
func Guard(b *Breaker, fn func() error) error {
	if b == nil {
		return fn()
	}
	return b.Do(fn)
}
