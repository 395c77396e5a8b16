package spawn

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/moleworks/burrow/internal/config"
	"github.com/moleworks/burrow/internal/session"
	"github.com/moleworks/burrow/protocol"
)

// capture collects broadcasts on a channel so tests can assert on them.
type capture struct {
	ch chan *protocol.Envelope
}

func newCapture() *capture {
	return &capture{ch: make(chan *protocol.Envelope, 32)}
}

func (c *capture) Broadcast(code string, ev *protocol.Envelope) {
	c.ch <- ev
}

func (c *capture) next(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case ev := <-c.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no broadcast received")
		return nil
	}
}

func (c *capture) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.ch:
		t.Fatalf("unexpected broadcast %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

// testTuning removes the jitter so firings land on exact fake-clock instants.
func testTuning() config.Spawn {
	return config.Spawn{
		FirstDelay:  100 * time.Millisecond,
		IntervalMin: 10 * time.Second,
		IntervalMax: 10 * time.Second,
		VisibleMin:  2 * time.Second,
		VisibleMax:  2 * time.Second,
		MaxPerTick:  3,
	}
}

func newTestSpawner(t *testing.T) (*session.Registry, *capture, *clockwork.FakeClock, *Spawner, *session.Session) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	registry := session.NewRegistry(clock)
	bc := newCapture()
	sp := New(registry, bc, clock, testTuning())

	s, err := registry.CreateSession("host-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	s.Lock()
	s.State.Reset(clock.Now().UnixMilli())
	s.Unlock()
	return registry, bc, clock, sp, s
}

func TestFirstTickRaisesMoles(t *testing.T) {
	_, bc, clock, sp, s := newTestSpawner(t)

	sp.Start(s.Code)
	defer sp.Stop(s.Code)

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)

	ev := bc.next(t)
	if ev.Type != protocol.TypeMolesUpdated {
		t.Fatalf("expected %q, got %q", protocol.TypeMolesUpdated, ev.Type)
	}
	payload, err := protocol.DecodePayload[protocol.MolesUpdatedPayload](ev)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	active := 0
	for _, up := range payload.CurrentMoles {
		if up {
			active++
		}
	}
	if active < 1 || active > 3 {
		t.Fatalf("expected 1..3 raised moles, got %d", active)
	}

	s.Lock()
	defer s.Unlock()
	if s.State.ActiveCount() != active {
		t.Fatalf("broadcast shows %d moles, session holds %d", active, s.State.ActiveCount())
	}
}

func TestDespawnLowersMoles(t *testing.T) {
	_, bc, clock, sp, s := newTestSpawner(t)

	sp.Start(s.Code)
	defer sp.Stop(s.Code)

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)

	ev := bc.next(t)
	payload, err := protocol.DecodePayload[protocol.MolesUpdatedPayload](ev)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	raised := 0
	for _, up := range payload.CurrentMoles {
		if up {
			raised++
		}
	}

	// One waiter for the re-armed tick plus one per despawn timer.
	clock.BlockUntil(1 + raised)
	clock.Advance(2 * time.Second)

	for i := 0; i < raised; i++ {
		ev := bc.next(t)
		if ev.Type != protocol.TypeMoleSpawned {
			t.Fatalf("expected %q, got %q", protocol.TypeMoleSpawned, ev.Type)
		}
		p, err := protocol.DecodePayload[protocol.MoleSpawnedPayload](ev)
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if p.IsVisible {
			t.Fatalf("despawn broadcast should report the mole hidden")
		}
	}

	s.Lock()
	defer s.Unlock()
	if s.State.ActiveCount() != 0 {
		t.Fatalf("%d moles still raised after their visibility window", s.State.ActiveCount())
	}
}

func TestDespawnSkipsHitMole(t *testing.T) {
	_, bc, clock, sp, s := newTestSpawner(t)

	// Occupy every cell but one so the tick raises exactly mole 4.
	s.Lock()
	for i := range s.State.CurrentMoles {
		s.State.CurrentMoles[i] = i != 4
	}
	s.Unlock()

	sp.Start(s.Code)
	defer sp.Stop(s.Code)

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)

	ev := bc.next(t)
	if ev.Type != protocol.TypeMolesUpdated {
		t.Fatalf("expected %q, got %q", protocol.TypeMolesUpdated, ev.Type)
	}
	s.Lock()
	if !s.State.CurrentMoles[4] {
		s.Unlock()
		t.Fatalf("mole 4 not raised")
	}
	// A hit clears the cell before the visibility window ends.
	s.State.CurrentMoles[4] = false
	s.Unlock()

	clock.BlockUntil(2)
	clock.Advance(2 * time.Second)

	// The despawn timer fires, sees the cell already cleared and stays quiet.
	bc.expectNone(t)
}

func TestTickSelfTerminatesWhenSessionRemoved(t *testing.T) {
	registry, bc, clock, sp, s := newTestSpawner(t)

	sp.Start(s.Code)
	registry.Remove(s.Code)

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)

	bc.expectNone(t)

	deadline := time.After(2 * time.Second)
	for {
		sp.mu.Lock()
		_, ok := sp.rooms[s.Code]
		sp.mu.Unlock()
		if !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("room entry not cleared after self-termination")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTickSelfTerminatesWhenGameInactive(t *testing.T) {
	_, bc, clock, sp, s := newTestSpawner(t)

	s.Lock()
	s.State.Freeze()
	s.Unlock()

	sp.Start(s.Code)

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)

	bc.expectNone(t)
}

func TestStopIsIdempotent(t *testing.T) {
	_, bc, clock, sp, s := newTestSpawner(t)

	sp.Start(s.Code)
	clock.BlockUntil(1)
	sp.Stop(s.Code)
	sp.Stop(s.Code)

	bc.expectNone(t)

	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(sp.rooms) != 0 {
		t.Fatalf("room table not empty after Stop")
	}
}

func TestStartReplacesPreviousSchedule(t *testing.T) {
	_, _, _, sp, s := newTestSpawner(t)

	sp.Start(s.Code)
	sp.mu.Lock()
	first := sp.rooms[s.Code]
	sp.mu.Unlock()

	sp.Start(s.Code)
	defer sp.Stop(s.Code)

	sp.mu.Lock()
	second := sp.rooms[s.Code]
	sp.mu.Unlock()

	if first == second {
		t.Fatalf("second Start did not replace the schedule")
	}
	select {
	case <-first:
	default:
		t.Fatalf("replaced schedule's stop channel not closed")
	}
}
