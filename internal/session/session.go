package session

import (
	"sync"
	"time"

	"github.com/moleworks/burrow/game"
)

// Session is one two-party match identified by a 3-digit code. The embedded
// mutex serializes every look-up-then-mutate sequence for the room, so no two
// handlers touch one room's state concurrently.
type Session struct {
	Code string

	mu sync.Mutex

	// Guarded by the session lock.
	HostID     string
	GuestID    string
	State      game.State
	LastUpdate time.Time
}

// Lock takes exclusive access to the session's mutable fields. Callers hold
// it across the whole validate-then-mutate sequence of one request.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch stamps the last-mutation time. Callers must hold the lock.
func (s *Session) Touch(now time.Time) { s.LastUpdate = now }

// IsMember reports whether connID is the host or the current guest. Callers
// must hold the lock.
func (s *Session) IsMember(connID string) bool {
	return connID == s.HostID || (s.GuestID != "" && connID == s.GuestID)
}

// Info is a read-only snapshot of room metadata for the debug listing.
type Info struct {
	Code       string    `json:"code"`
	HostID     string    `json:"hostId"`
	GuestID    string    `json:"guestId,omitempty"`
	GameActive bool      `json:"gameActive"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Snapshot returns the session's metadata. Takes the lock itself.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Code:       s.Code,
		HostID:     s.HostID,
		GuestID:    s.GuestID,
		GameActive: s.State.GameActive,
		LastUpdate: s.LastUpdate,
	}
}
