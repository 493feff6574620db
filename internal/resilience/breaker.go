package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrBreakerOpen is returned while a host is being shed.
var ErrBreakerOpen = eris.New("resilience: breaker open")

// BreakerState is the state of a single host breaker.
type BreakerState int

// Breaker states.
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker stops calls to a key (a tile host) after Threshold consecutive
// failures and lets one trial request through after Cooldown.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration

	mu    sync.Mutex
	hosts map[string]*hostState
	now   func() time.Time
}

type hostState struct {
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker returns a breaker with the given limits. Non-positive values
// fall back to 5 failures and a 30s cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		hosts:     make(map[string]*hostState),
		now:       time.Now,
	}
}

// Allow returns ErrBreakerOpen if calls to key are currently shed.
func (b *Breaker) Allow(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.host(key)
	switch h.state {
	case BreakerOpen:
		if b.now().Sub(h.openedAt) < b.Cooldown {
			return ErrBreakerOpen
		}
		h.state = BreakerHalfOpen
	case BreakerHalfOpen:
		// one trial request is already in flight
		return ErrBreakerOpen
	}
	return nil
}

// Record reports the outcome of an allowed call. Only transient errors count
// as failures; a 404 tile is a healthy server.
func (b *Breaker) Record(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.host(key)
	if err == nil || !IsTransient(err) {
		h.state = BreakerClosed
		h.failures = 0
		return
	}
	h.failures++
	if h.state == BreakerHalfOpen || h.failures >= b.Threshold {
		h.state = BreakerOpen
		h.openedAt = b.now()
	}
}

// State returns the breaker state for key.
func (b *Breaker) State(key string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.host(key).state
}

func (b *Breaker) host(key string) *hostState {
	h, ok := b.hosts[key]
	if !ok {
		h = &hostState{}
		b.hosts[key] = h
	}
	return h
}
