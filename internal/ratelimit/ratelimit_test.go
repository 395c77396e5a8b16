package ratelimit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestCanExecuteCooldown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewWithClock(100*time.Millisecond, clock)

	if !l.CanExecute() {
		t.Fatalf("first call should pass")
	}
	if l.CanExecute() {
		t.Fatalf("second call inside the cooldown should be blocked")
	}

	clock.Advance(99 * time.Millisecond)
	if l.CanExecute() {
		t.Fatalf("call 1ms before the cooldown elapses should be blocked")
	}

	clock.Advance(1 * time.Millisecond)
	if !l.CanExecute() {
		t.Fatalf("call at the cooldown boundary should pass")
	}
}

func TestCanExecuteConsumesWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewWithClock(200*time.Millisecond, clock)

	if !l.CanExecute() {
		t.Fatalf("first call should pass")
	}
	clock.Advance(200 * time.Millisecond)
	if !l.CanExecute() {
		t.Fatalf("spaced call should pass")
	}
	// The accepted call above reset the window.
	clock.Advance(100 * time.Millisecond)
	if l.CanExecute() {
		t.Fatalf("call half a window after an accepted call should be blocked")
	}
}

func TestReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewWithClock(time.Hour, clock)

	if !l.CanExecute() {
		t.Fatalf("first call should pass")
	}
	if l.CanExecute() {
		t.Fatalf("second call should be blocked")
	}

	l.Reset()
	if !l.CanExecute() {
		t.Fatalf("call after Reset should pass")
	}
}
