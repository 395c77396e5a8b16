// Package protocol defines the wire contract between the game server and its
// clients: a JSON envelope plus one payload struct per message type. It is
// shared by the server internals and the client library and depends on
// nothing but the game state types.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moleworks/burrow/game"
)

// Type names every message on the wire, both directions.
type Type string

// Client to server requests.
const (
	TypeCreateGame      Type = "create-game"
	TypeJoinGame        Type = "join-game"
	TypeUpdateGameState Type = "update-game-state"
	TypeStartGame       Type = "start-game"
	TypeEndGame         Type = "end-game"
	TypeMoleHit         Type = "mole-hit"
	TypeLeaveGame       Type = "leave-game"
)

// Server to client replies and broadcasts.
const (
	TypeGameCreated        Type = "game-created"
	TypeGameJoined         Type = "game-joined"
	TypeError              Type = "error"
	TypeGameStarted        Type = "game-started"
	TypeGameEnded          Type = "game-ended"
	TypeGameStateUpdated   Type = "game-state-updated"
	TypeMolesUpdated       Type = "moles-updated"
	TypeMoleSpawned        Type = "mole-spawned"
	TypeMoleHitSync        Type = "mole-hit-sync"
	TypePlayerConnected    Type = "player-connected"
	TypePlayerDisconnected Type = "player-disconnected"
	TypeHostDisconnected   Type = "host-disconnected"
)

// Participant roles.
const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// Envelope frames every message. Data holds the type-specific payload.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      Type            `json:"type"`
	Code      string          `json:"code,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New builds an envelope, marshalling payload into Data. Payloads are plain
// structs, so a marshal failure is a programming error.
func New(code string, t Type, payload any) *Envelope {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			panic(fmt.Sprintf("protocol: marshal %s payload: %v", t, err))
		}
		data = b
	}
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      t,
		Code:      code,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// DecodeEnvelope parses raw bytes off the wire.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope data into a payload of type T.
func DecodePayload[T any](env *Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 {
		return out, fmt.Errorf("empty payload for type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return out, nil
}

// CreateGameResponse answers create-game.
type CreateGameResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Role    string `json:"role,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JoinGameRequest asks to occupy the guest slot of a room.
type JoinGameRequest struct {
	Code string `json:"code"`
}

// JoinGameResponse answers join-game. GameState is the snapshot the guest
// starts mirroring from.
type JoinGameResponse struct {
	Success   bool        `json:"success"`
	Code      string      `json:"code,omitempty"`
	Role      string      `json:"role,omitempty"`
	GameState *game.State `json:"gameState,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// UpdateGameStateRequest carries a partial state merge.
type UpdateGameStateRequest struct {
	Code    string      `json:"code"`
	Updates game.Update `json:"updates"`
}

// StartGameRequest starts the match. Host only.
type StartGameRequest struct {
	Code string `json:"code"`
}

// EndGameRequest ends the match. Either participant may send it.
type EndGameRequest struct {
	Code string `json:"code"`
}

// MoleHitRequest claims a hit on one mole.
type MoleHitRequest struct {
	Code      string `json:"code"`
	MoleIndex int    `json:"moleIndex"`
	Score     int    `json:"score"`
}

// LeaveGameRequest leaves the room.
type LeaveGameRequest struct {
	Code string `json:"code"`
}

// ErrorPayload reports a failed request back to its sender.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MolesUpdatedPayload is the full mole array broadcast after a spawn tick.
type MolesUpdatedPayload struct {
	CurrentMoles []bool `json:"currentMoles"`
	Timestamp    int64  `json:"timestamp"`
}

// MoleSpawnedPayload is the single-mole broadcast after a despawn fires.
type MoleSpawnedPayload struct {
	MoleIndex int   `json:"moleIndex"`
	IsVisible bool  `json:"isVisible"`
	Timestamp int64 `json:"timestamp"`
}

// MoleHitSyncPayload lets the peer render a hit without waiting for the next
// state broadcast.
type MoleHitSyncPayload struct {
	MoleIndex int    `json:"moleIndex"`
	PlayerID  string `json:"playerId"`
	Score     int    `json:"score"`
}

// PlayerConnectedPayload announces the guest to the host.
type PlayerConnectedPayload struct {
	PlayerID string `json:"playerId"`
}

// PlayerDisconnectedPayload announces a departed guest.
type PlayerDisconnectedPayload struct {
	PlayerID string `json:"playerId"`
}
