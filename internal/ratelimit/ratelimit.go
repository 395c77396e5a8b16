package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Limiter is a cooldown gate: CanExecute succeeds at most once per interval.
// State is nothing but the timestamp of the last accepted call.
type Limiter struct {
	clock    clockwork.Clock
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// New returns a limiter on the real clock.
func New(interval time.Duration) *Limiter {
	return NewWithClock(interval, clockwork.NewRealClock())
}

// NewWithClock returns a limiter on the given clock. Tests pass a FakeClock.
func NewWithClock(interval time.Duration, clock clockwork.Clock) *Limiter {
	return &Limiter{clock: clock, interval: interval}
}

// CanExecute reports whether an action may run now. A true result consumes
// the window: the next call succeeds only after the full interval elapses.
func (l *Limiter) CanExecute() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Sub(l.last) >= l.interval {
		l.last = now
		return true
	}
	return false
}

// Reset clears the window so the next CanExecute succeeds immediately.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.last = time.Time{}
	l.mu.Unlock()
}
