// Package failover decides when the direct provider path is unhealthy
// enough that fetches should be routed through the intermediary instead.
package failover

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the breaker state.
type State int

const (
	// StateClosed: direct path healthy, use it.
	StateClosed State = iota
	// StateOpen: direct path failing, route to the intermediary.
	StateOpen
	// StateHalfOpen: cooldown elapsed, probe the direct path.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker counts consecutive direct-fetch failures and opens after a
// threshold. While open, AllowDirect reports false until the cooldown
// elapses, after which a single probe is allowed through. Routing only;
// correctness never depends on its state.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New creates a Breaker that opens after threshold consecutive failures
// and probes again after cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// AllowDirect reports whether the next fetch may try the direct provider.
func (b *Breaker) AllowDirect() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			logrus.Info("failover breaker half-open: probing direct provider")
			return true
		}
		return false
	default:
		return true
	}
}

// Success records a successful direct fetch, closing the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		logrus.Info("failover breaker closed: direct provider recovered")
	}
	b.state = StateClosed
	b.failures = 0
}

// Failure records a failed direct fetch. A failed half-open probe reopens
// immediately; otherwise the breaker opens once the threshold is reached.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		if b.state != StateOpen {
			logrus.WithFields(logrus.Fields{
				"consecutive_failures": b.failures,
			}).Warn("failover breaker open: routing to intermediary")
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
