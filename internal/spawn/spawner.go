package spawn

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/moleworks/burrow/internal/config"
	"github.com/moleworks/burrow/internal/session"
	"github.com/moleworks/burrow/protocol"
)

// Broadcaster delivers an event to every connection in a room.
type Broadcaster interface {
	Broadcast(code string, ev *protocol.Envelope)
}

// Spawner drives the per-room mole schedule: one recurring tick that raises
// moles plus an independent one-shot timer per raised mole that lowers it
// again. It holds only room codes, never session pointers, and re-fetches the
// session on every firing so a deleted room is a silent stop, not an error.
type Spawner struct {
	registry    *session.Registry
	broadcaster Broadcaster
	clock       clockwork.Clock
	cfg         config.Spawn

	mu    sync.Mutex
	rooms map[string]chan struct{}
}

// New returns a spawner over the given registry.
func New(registry *session.Registry, broadcaster Broadcaster, clock clockwork.Clock, cfg config.Spawn) *Spawner {
	return &Spawner{
		registry:    registry,
		broadcaster: broadcaster,
		clock:       clock,
		cfg:         cfg,
		rooms:       make(map[string]chan struct{}),
	}
}

// Start begins the mole schedule for a room, replacing any previous one. The
// first tick fires after a short fixed delay so the grid is not empty while
// the recurring cadence warms up.
func (sp *Spawner) Start(code string) {
	sp.mu.Lock()
	if stop, ok := sp.rooms[code]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	sp.rooms[code] = stop
	sp.mu.Unlock()

	log.Info().Str("code", code).Msg("mole spawning started")
	go sp.run(code, stop)
}

// Stop cancels the room's recurring tick. Idempotent. In-flight despawn
// timers are deliberately left running; their fire-time re-check makes them
// safe against a stopped or deleted room.
func (sp *Spawner) Stop(code string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if stop, ok := sp.rooms[code]; ok {
		close(stop)
		delete(sp.rooms, code)
		log.Info().Str("code", code).Msg("mole spawning stopped")
	}
}

// remove clears the room entry if it still owns this stop channel; run calls
// it when the tick self-terminates.
func (sp *Spawner) remove(code string, stop chan struct{}) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if cur, ok := sp.rooms[code]; ok && cur == stop {
		delete(sp.rooms, code)
	}
}

func (sp *Spawner) run(code string, stop chan struct{}) {
	timer := sp.clock.NewTimer(sp.cfg.FirstDelay)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.Chan():
			if !sp.tick(code) {
				sp.remove(code, stop)
				return
			}
			timer.Reset(jitter(sp.cfg.IntervalMin, sp.cfg.IntervalMax))
		}
	}
}

// tick raises up to MaxPerTick moles on empty cells and reports whether the
// schedule should keep running.
func (sp *Spawner) tick(code string) bool {
	s, ok := sp.registry.Get(code)
	if !ok {
		log.Debug().Str("code", code).Msg("session gone, spawner self-terminating")
		return false
	}

	s.Lock()
	if !s.State.GameActive {
		s.Unlock()
		log.Debug().Str("code", code).Msg("game inactive, spawner self-terminating")
		return false
	}

	empty := s.State.EmptySpots()
	n := min(rand.Intn(2)+1, len(empty), sp.cfg.MaxPerTick)

	spawned := make([]int, 0, n)
	for i := 0; i < n; i++ {
		j := rand.Intn(len(empty))
		idx := empty[j]
		empty = append(empty[:j], empty[j+1:]...)
		s.State.CurrentMoles[idx] = true
		spawned = append(spawned, idx)
	}

	s.Touch(sp.clock.Now())
	moles := append([]bool(nil), s.State.CurrentMoles...)
	s.Unlock()

	for _, idx := range spawned {
		go sp.despawnAfter(code, idx, jitter(sp.cfg.VisibleMin, sp.cfg.VisibleMax))
	}

	sp.broadcaster.Broadcast(code, protocol.New(code, protocol.TypeMolesUpdated, protocol.MolesUpdatedPayload{
		CurrentMoles: moles,
		Timestamp:    sp.clock.Now().UnixMilli(),
	}))

	log.Debug().Str("code", code).Ints("spawned", spawned).Msg("moles raised")
	return true
}

// despawnAfter lowers one mole after its visibility window. The session and
// the mole are re-checked at fire time: a hit may already have cleared the
// cell, and lowering it unconditionally would clobber that hit.
func (sp *Spawner) despawnAfter(code string, idx int, delay time.Duration) {
	timer := sp.clock.NewTimer(delay)
	defer timer.Stop()
	<-timer.Chan()

	s, ok := sp.registry.Get(code)
	if !ok {
		return
	}

	s.Lock()
	if !s.State.CurrentMoles[idx] {
		s.Unlock()
		return
	}
	s.State.CurrentMoles[idx] = false
	s.Touch(sp.clock.Now())
	s.Unlock()

	sp.broadcaster.Broadcast(code, protocol.New(code, protocol.TypeMoleSpawned, protocol.MoleSpawnedPayload{
		MoleIndex: idx,
		IsVisible: false,
		Timestamp: sp.clock.Now().UnixMilli(),
	}))
}

// jitter draws a duration uniformly from [min,max).
func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
