package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/moleworks/burrow/game"
)

// codeSpace is the number of distinct 3-digit room codes (100..999).
const codeSpace = 900

// Registry owns every live Session, keyed by room code. It is the only
// shared mutable table in the server; its lock guards the map, while each
// session guards its own fields.
type Registry struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry on the given clock.
func NewRegistry(clock clockwork.Clock) *Registry {
	return &Registry{
		clock:    clock,
		sessions: make(map[string]*Session),
	}
}

// CreateSession inserts a fresh inactive session owned by hostID and returns
// it. Codes are drawn uniformly from [100,999] and retried on collision; the
// call fails only when the whole code space is in use.
func (r *Registry) CreateSession(hostID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= codeSpace {
		return nil, ErrResourceExhausted
	}

	var code string
	for {
		code = fmt.Sprintf("%d", 100+rand.Intn(codeSpace))
		if _, taken := r.sessions[code]; !taken {
			break
		}
	}

	s := &Session{
		Code:       code,
		HostID:     hostID,
		State:      game.NewState(),
		LastUpdate: r.clock.Now(),
	}
	r.sessions[code] = s

	log.Info().Str("code", code).Str("host_id", hostID).Msg("game created")
	return s, nil
}

// JoinSession binds guestID to the session's guest slot and returns the
// session. Rejoining with the same guest id is a resume, not an error.
func (r *Registry) JoinSession(code, guestID string) (*Session, error) {
	s, ok := r.Get(code)
	if !ok {
		return nil, ErrNotFound
	}

	s.Lock()
	defer s.Unlock()
	if s.GuestID != "" && s.GuestID != guestID {
		return nil, ErrRoomFull
	}
	s.GuestID = guestID
	s.Touch(r.clock.Now())

	log.Info().Str("code", code).Str("guest_id", guestID).Msg("player joined game")
	return s, nil
}

// Get looks up a live session by code.
func (r *Registry) Get(code string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[code]
	return s, ok
}

// Remove deletes the session. Idempotent.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, code)
}

// Len reports the live session count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns the live sessions for iteration: the disconnect scan and the
// debug listing.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SweepExpired removes every session whose last mutation is older than ttl
// and returns how many were removed.
func (r *Registry) SweepExpired(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for code, s := range r.sessions {
		s.Lock()
		idle := now.Sub(s.LastUpdate)
		s.Unlock()
		if idle > ttl {
			delete(r.sessions, code)
			removed++
			log.Info().Str("code", code).Dur("idle", idle).Msg("cleaning up expired session")
		}
	}
	return removed
}

// RunSweeper removes expired sessions on a fixed cadence until ctx is done.
// It runs process-wide, independent of any per-room timers.
func (r *Registry) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.Chan():
			if n := r.SweepExpired(now, ttl); n > 0 {
				log.Info().Int("removed", n).Msg("expired sessions swept")
			}
		}
	}
}
