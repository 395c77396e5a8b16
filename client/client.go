// Package client mirrors one session's authoritative state on the peer side.
// It issues action requests over the wire, applies inbound authoritative
// updates to a local mirror, and exposes a subscribe/unsubscribe event
// surface to the view layer. The mirror is never mutated directly by the
// view; every change goes through a request and comes back as a broadcast.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/moleworks/burrow/game"
	"github.com/moleworks/burrow/internal/ratelimit"
	"github.com/moleworks/burrow/protocol"
)

// Event names surfaced to subscribers.
const (
	EventSessionCreated     = "sessionCreated"
	EventSessionJoined      = "sessionJoined"
	EventSessionLeft        = "sessionLeft"
	EventJoinError          = "joinError"
	EventPlayerConnected    = "playerConnected"
	EventPlayerDisconnected = "playerDisconnected"
	EventHostDisconnected   = "hostDisconnected"
	EventGameStarted        = "gameStarted"
	EventGameEnded          = "gameEnded"
	EventGameStateUpdate    = "gameStateUpdate"
	EventMolesUpdated       = "molesUpdated"
	EventMoleSpawned        = "moleSpawned"
	EventMoleHitSync        = "moleHitSync"
	EventError              = "error"
	EventConnectionError    = "connectionError"
)

var (
	// ErrNotConnected is returned by requests made before Connect succeeds.
	ErrNotConnected = errors.New("not connected")
	// ErrRateLimited is returned when Connect is called again inside the
	// connection cooldown.
	ErrRateLimited = errors.New("connection attempts rate limited")
)

const (
	maxConnectAttempts = 3
	connectCooldown    = 2 * time.Second
	hitCooldown        = 100 * time.Millisecond
	updateCooldown     = 200 * time.Millisecond
)

// Client is the reconciliation layer between the view and the server. It
// tracks at most one session at a time.
type Client struct {
	url   string
	clock clockwork.Clock
	bus   *bus

	hitLimiter     *ratelimit.Limiter
	updateLimiter  *ratelimit.Limiter
	connectLimiter *ratelimit.Limiter

	writeMu sync.Mutex // serializes socket writes

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	closed      bool // manual disconnect; no automatic redial afterwards
	code        string
	role        string
	state       game.State
	lastServer  time.Time // server timestamp of the last applied snapshot
	peerPresent bool

	createCh chan protocol.CreateGameResponse
}

// New returns a client for the given WebSocket URL.
func New(url string) *Client {
	return NewWithClock(url, clockwork.NewRealClock())
}

// NewWithClock returns a client on the given clock. Tests pass a FakeClock.
func NewWithClock(url string, clock clockwork.Clock) *Client {
	return &Client{
		url:            url,
		clock:          clock,
		bus:            newBus(),
		hitLimiter:     ratelimit.NewWithClock(hitCooldown, clock),
		updateLimiter:  ratelimit.NewWithClock(updateCooldown, clock),
		connectLimiter: ratelimit.NewWithClock(connectCooldown, clock),
		createCh:       make(chan protocol.CreateGameResponse, 1),
	}
}

// Connect dials the server, retrying a bounded number of times. Past the
// bound the client stays disconnected and emits a connectionError event
// instead of retrying forever.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.mu.Unlock()

	if !c.connectLimiter.CanExecute() {
		return ErrRateLimited
	}

	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.connected = true
			c.mu.Unlock()
			go c.readLoop(conn)
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("connection attempt failed")

		if attempt < maxConnectAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(connectCooldown):
			}
		}
	}

	c.bus.emit(EventConnectionError, reasonJSON(lastErr.Error()))
	return fmt.Errorf("connect: %w", lastErr)
}

// Disconnect closes the connection for good; the client will not redial.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Connected reports whether the socket is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// CreateGame asks the server for a new room and waits for the ack carrying
// the code.
func (c *Client) CreateGame(ctx context.Context) (string, error) {
	// A previous call that gave up waiting may have left its late ack
	// buffered; this call must not consume it.
	select {
	case <-c.createCh:
	default:
	}

	if err := c.send(protocol.TypeCreateGame, "", nil); err != nil {
		c.bus.emit(EventJoinError, reasonJSON(err.Error()))
		return "", err
	}

	select {
	case resp := <-c.createCh:
		if !resp.Success {
			return "", errors.New(resp.Error)
		}
		return resp.Code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// JoinGame optimistically requests to join a room; authoritative acceptance
// or rejection arrives later as a sessionJoined or joinError event.
func (c *Client) JoinGame(code string) bool {
	if err := c.send(protocol.TypeJoinGame, code, protocol.JoinGameRequest{Code: code}); err != nil {
		c.bus.emit(EventJoinError, reasonJSON(err.Error()))
		return false
	}
	return true
}

// StartGame forwards a start request. No-op unless a session is bound.
func (c *Client) StartGame() {
	code := c.Code()
	if code == "" {
		return
	}
	c.send(protocol.TypeStartGame, code, protocol.StartGameRequest{Code: code})
}

// EndGame forwards an end request. No-op unless a session is bound.
func (c *Client) EndGame() {
	code := c.Code()
	if code == "" {
		return
	}
	c.send(protocol.TypeEndGame, code, protocol.EndGameRequest{Code: code})
}

// HandleHit forwards a hit unless the limiter is cooling down. A rate-limited
// hit is dropped, never queued.
func (c *Client) HandleHit(moleIndex, score int) {
	code := c.Code()
	if code == "" {
		return
	}
	if !c.hitLimiter.CanExecute() {
		log.Debug().Int("mole", moleIndex).Msg("hit dropped by rate limiter")
		return
	}
	c.send(protocol.TypeMoleHit, code, protocol.MoleHitRequest{Code: code, MoleIndex: moleIndex, Score: score})
}

// UpdateGameState forwards a partial state merge, on its own longer cooldown.
func (c *Client) UpdateGameState(upd game.Update) {
	code := c.Code()
	if code == "" {
		return
	}
	if !c.updateLimiter.CanExecute() {
		log.Debug().Msg("state update dropped by rate limiter")
		return
	}
	c.send(protocol.TypeUpdateGameState, code, protocol.UpdateGameStateRequest{Code: code, Updates: upd})
}

// LeaveSession forwards a leave request and clears the local mirror without
// waiting for the server.
func (c *Client) LeaveSession() {
	if code := c.Code(); code != "" {
		c.send(protocol.TypeLeaveGame, code, protocol.LeaveGameRequest{Code: code})
	}
	c.clearSession()
	c.bus.emit(EventSessionLeft, nil)
}

// On subscribes h to an event. Duplicate registration is a no-op.
func (c *Client) On(event string, h Handler) { c.bus.on(event, h) }

// Off removes h from an event.
func (c *Client) Off(event string, h Handler) { c.bus.off(event, h) }

// Code returns the bound room code, or empty.
func (c *Client) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// Role returns "host", "guest" or empty.
func (c *Client) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// IsHost reports whether this client created the bound room.
func (c *Client) IsHost() bool { return c.Role() == protocol.RoleHost }

// IsGameReady reports whether both participants are present.
func (c *Client) IsGameReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code != "" && (c.role == protocol.RoleGuest || c.peerPresent)
}

// State returns a copy of the last known authoritative state.
func (c *Client) State() game.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *Client) send(t protocol.Type, code string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	env := protocol.New(code, t, payload)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		env, err := protocol.DecodeEnvelope(message)
		if err != nil {
			log.Warn().Err(err).Msg("discarding malformed server message")
			continue
		}
		c.handleEvent(env)
	}
	conn.Close()

	c.mu.Lock()
	c.connected = false
	closed := c.closed
	c.mu.Unlock()

	// The server has already torn down or freed our slot; there is no
	// session resume, only a fresh transport connection.
	c.clearSession()
	if !closed {
		go c.reconnect()
	}
}

// reconnect redials after an unexpected drop, with the same bounded attempt
// ceiling as Connect. Every dial goes through the connection limiter, so
// automatic redials are spaced exactly like manual ones. A manual Disconnect
// suppresses the redial entirely.
func (c *Client) reconnect() {
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		for !c.connectLimiter.CanExecute() {
			<-c.clock.After(connectCooldown)
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.connected = true
			c.mu.Unlock()
			go c.readLoop(conn)
			return
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
	}
	c.bus.emit(EventConnectionError, reasonJSON("connection lost"))
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.code = ""
	c.role = ""
	c.state = game.State{}
	c.lastServer = time.Time{}
	c.peerPresent = false
	c.mu.Unlock()
}

func (c *Client) handleEvent(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeGameCreated:
		resp, err := protocol.DecodePayload[protocol.CreateGameResponse](env)
		if err != nil {
			return
		}
		if resp.Success {
			c.mu.Lock()
			c.code = resp.Code
			c.role = resp.Role
			c.state = game.NewState()
			c.lastServer = env.Timestamp
			c.peerPresent = false
			c.mu.Unlock()
		}
		select {
		case c.createCh <- resp:
		default:
		}
		if resp.Success {
			c.bus.emit(EventSessionCreated, env.Data)
		} else {
			c.bus.emit(EventJoinError, reasonJSON(resp.Error))
		}

	case protocol.TypeGameJoined:
		resp, err := protocol.DecodePayload[protocol.JoinGameResponse](env)
		if err != nil {
			return
		}
		if !resp.Success {
			c.bus.emit(EventJoinError, reasonJSON(resp.Error))
			return
		}
		c.mu.Lock()
		c.code = resp.Code
		c.role = resp.Role
		if resp.GameState != nil {
			c.state = resp.GameState.Clone()
		} else {
			c.state = game.NewState()
		}
		c.lastServer = env.Timestamp
		c.peerPresent = true
		c.mu.Unlock()
		c.bus.emit(EventSessionJoined, env.Data)

	case protocol.TypeGameStarted:
		c.applySnapshot(env)
		c.bus.emit(EventGameStarted, env.Data)

	case protocol.TypeGameEnded:
		c.applySnapshot(env)
		c.bus.emit(EventGameEnded, env.Data)

	case protocol.TypeGameStateUpdated:
		c.applySnapshot(env)
		c.bus.emit(EventGameStateUpdate, env.Data)

	case protocol.TypeMolesUpdated:
		payload, err := protocol.DecodePayload[protocol.MolesUpdatedPayload](env)
		if err != nil {
			return
		}
		c.mu.Lock()
		if c.code == env.Code && len(payload.CurrentMoles) == game.GridSize {
			c.state.CurrentMoles = append([]bool(nil), payload.CurrentMoles...)
		}
		c.mu.Unlock()
		c.bus.emit(EventMolesUpdated, env.Data)

	case protocol.TypeMoleSpawned:
		payload, err := protocol.DecodePayload[protocol.MoleSpawnedPayload](env)
		if err != nil {
			return
		}
		c.mu.Lock()
		if c.code == env.Code && payload.MoleIndex >= 0 && payload.MoleIndex < len(c.state.CurrentMoles) {
			c.state.CurrentMoles[payload.MoleIndex] = payload.IsVisible
		}
		c.mu.Unlock()
		c.bus.emit(EventMoleSpawned, env.Data)

	case protocol.TypeMoleHitSync:
		c.bus.emit(EventMoleHitSync, env.Data)

	case protocol.TypePlayerConnected:
		c.mu.Lock()
		c.peerPresent = true
		c.mu.Unlock()
		c.bus.emit(EventPlayerConnected, env.Data)

	case protocol.TypePlayerDisconnected:
		c.mu.Lock()
		c.peerPresent = false
		c.mu.Unlock()
		c.bus.emit(EventPlayerDisconnected, env.Data)

	case protocol.TypeHostDisconnected:
		c.clearSession()
		c.bus.emit(EventHostDisconnected, env.Data)

	case protocol.TypeError:
		c.bus.emit(EventError, env.Data)

	default:
		log.Debug().Str("type", string(env.Type)).Msg("ignoring unknown server event")
	}
}

// applySnapshot replaces the mirror with a full authoritative state, skipping
// snapshots older than the one already applied. Broadcast ordering across
// ticks is not guaranteed, so each snapshot is applied idempotently.
func (c *Client) applySnapshot(env *protocol.Envelope) {
	st, err := protocol.DecodePayload[game.State](env)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.code != env.Code {
		return
	}
	if !env.Timestamp.IsZero() && env.Timestamp.Before(c.lastServer) {
		return
	}
	c.state = st.Clone()
	c.lastServer = env.Timestamp
}

func reasonJSON(message string) []byte {
	b, _ := json.Marshal(protocol.ErrorPayload{Message: message})
	return b
}
