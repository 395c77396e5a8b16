package coordinator

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/moleworks/burrow/game"
	"github.com/moleworks/burrow/internal/session"
	"github.com/moleworks/burrow/internal/spawn"
	"github.com/moleworks/burrow/protocol"
)

// Broadcaster fans events out to a room. BroadcastExcept skips one
// connection, for the peer notifications that never echo to the actor.
type Broadcaster interface {
	Broadcast(code string, ev *protocol.Envelope)
	BroadcastExcept(code, exceptConnID string, ev *protocol.Envelope)
}

// Coordinator validates and applies every inbound room action against the
// authoritative session state. All validation happens before any mutation, so
// a failed request never corrupts the state it targeted.
type Coordinator struct {
	registry    *session.Registry
	spawner     *spawn.Spawner
	broadcaster Broadcaster
	clock       clockwork.Clock
}

// New wires a coordinator over its collaborators.
func New(registry *session.Registry, spawner *spawn.Spawner, broadcaster Broadcaster, clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		registry:    registry,
		spawner:     spawner,
		broadcaster: broadcaster,
		clock:       clock,
	}
}

// CreateGame creates a session owned by connID and returns its room code.
func (c *Coordinator) CreateGame(connID string) (string, error) {
	s, err := c.registry.CreateSession(connID)
	if err != nil {
		return "", err
	}
	return s.Code, nil
}

// JoinGame binds connID to the guest slot and returns the state snapshot the
// guest starts mirroring from. The existing occupant is told a peer arrived.
func (c *Coordinator) JoinGame(connID, code string) (game.State, error) {
	s, err := c.registry.JoinSession(code, connID)
	if err != nil {
		return game.State{}, err
	}

	s.Lock()
	snap := s.State.Clone()
	s.Unlock()

	c.broadcaster.BroadcastExcept(code, connID, protocol.New(code, protocol.TypePlayerConnected, protocol.PlayerConnectedPayload{
		PlayerID: connID,
	}))
	return snap, nil
}

// StartGame resets the state to the active zero-score shape and begins mole
// spawning. Host only.
func (c *Coordinator) StartGame(connID, code string) error {
	s, ok := c.registry.Get(code)
	if !ok {
		return session.ErrNotFound
	}

	s.Lock()
	if s.HostID != connID {
		s.Unlock()
		return session.ErrUnauthorized
	}
	now := c.clock.Now()
	s.State.Reset(now.UnixMilli())
	s.Touch(now)
	snap := s.State.Clone()
	s.Unlock()

	c.spawner.Start(code)
	c.broadcaster.Broadcast(code, protocol.New(code, protocol.TypeGameStarted, snap))
	log.Info().Str("code", code).Msg("game started")
	return nil
}

// EndGame freezes the state and stops spawning. Either participant may end
// the game; only the room has to exist.
func (c *Coordinator) EndGame(connID, code string) error {
	s, ok := c.registry.Get(code)
	if !ok {
		return session.ErrNotFound
	}

	s.Lock()
	s.State.Freeze()
	s.Touch(c.clock.Now())
	snap := s.State.Clone()
	s.Unlock()

	c.spawner.Stop(code)
	c.broadcaster.Broadcast(code, protocol.New(code, protocol.TypeGameEnded, snap))
	log.Info().Str("code", code).Msg("game ended")
	return nil
}

// UpdateGameState shallow-merges a partial update from either participant and
// rebroadcasts the merged state. Fields are not validated individually.
func (c *Coordinator) UpdateGameState(connID, code string, upd game.Update) error {
	s, ok := c.registry.Get(code)
	if !ok {
		return session.ErrNotFound
	}

	s.Lock()
	if !s.IsMember(connID) {
		s.Unlock()
		return session.ErrUnauthorized
	}
	s.State.Apply(upd)
	s.Touch(c.clock.Now())
	snap := s.State.Clone()
	s.Unlock()

	c.broadcaster.Broadcast(code, protocol.New(code, protocol.TypeGameStateUpdated, snap))
	return nil
}

// HitMole credits a hit if the target is actually up. The session lock covers
// both the check and the clear, so two hits racing for one mole credit at
// most once.
func (c *Coordinator) HitMole(connID, code string, moleIndex, score int) error {
	s, ok := c.registry.Get(code)
	if !ok {
		return session.ErrNotFound
	}

	s.Lock()
	if moleIndex < 0 || moleIndex >= game.GridSize || !s.State.CurrentMoles[moleIndex] {
		s.Unlock()
		return session.ErrInvalidAction
	}
	s.State.CurrentMoles[moleIndex] = false
	switch connID {
	case s.HostID:
		s.State.Player1Score += score
	case s.GuestID:
		s.State.Player2Score += score
	}
	s.Touch(c.clock.Now())
	snap := s.State.Clone()
	s.Unlock()

	c.broadcaster.Broadcast(code, protocol.New(code, protocol.TypeGameStateUpdated, snap))
	c.broadcaster.Broadcast(code, protocol.New(code, protocol.TypeMoleHitSync, protocol.MoleHitSyncPayload{
		MoleIndex: moleIndex,
		PlayerID:  connID,
		Score:     score,
	}))

	log.Debug().
		Str("code", code).
		Str("conn_id", connID).
		Int("mole", moleIndex).
		Int("score", score).
		Msg("mole hit")
	return nil
}

// LeaveGame removes connID from the room. A departing host ends the whole
// session; a departing guest leaves the room open for a new one.
func (c *Coordinator) LeaveGame(connID, code string) {
	s, ok := c.registry.Get(code)
	if !ok {
		return
	}
	c.removeParticipant(s, connID)
}

// Disconnected applies the leave branch for every room the connection was
// part of. Driven by transport teardown rather than an explicit request, so
// it always succeeds.
func (c *Coordinator) Disconnected(connID string) {
	for _, s := range c.registry.All() {
		c.removeParticipant(s, connID)
	}
}

func (c *Coordinator) removeParticipant(s *session.Session, connID string) {
	s.Lock()
	isHost := s.HostID == connID
	isGuest := s.GuestID != "" && s.GuestID == connID
	if isGuest {
		s.GuestID = ""
		s.Touch(c.clock.Now())
	}
	code := s.Code
	s.Unlock()

	switch {
	case isHost:
		c.broadcaster.BroadcastExcept(code, connID, protocol.New(code, protocol.TypeHostDisconnected, nil))
		c.spawner.Stop(code)
		c.registry.Remove(code)
		log.Info().Str("code", code).Msg("host left, session deleted")
	case isGuest:
		c.broadcaster.BroadcastExcept(code, connID, protocol.New(code, protocol.TypePlayerDisconnected, protocol.PlayerDisconnectedPayload{
			PlayerID: connID,
		}))
		log.Info().Str("code", code).Str("conn_id", connID).Msg("guest left session")
	}
}
