package session

import "errors"

// Error taxonomy for room operations. Every failure is terminal to the single
// request that caused it and is reported to the requester only, never
// broadcast to the room.
var (
	// ErrNotFound means no live session matches the room code.
	ErrNotFound = errors.New("game session not found")
	// ErrRoomFull means the guest slot is held by a different connection.
	ErrRoomFull = errors.New("game is full")
	// ErrUnauthorized means the requester lacks the role the action requires.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidAction means a hit targeted an inactive or out-of-range mole.
	ErrInvalidAction = errors.New("invalid mole hit")
	// ErrResourceExhausted means every 3-digit room code is in use.
	ErrResourceExhausted = errors.New("room codes exhausted")
)
