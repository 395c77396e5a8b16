package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/moleworks/burrow/protocol"
)

// MessageHandler consumes inbound client envelopes and connection teardown.
type MessageHandler interface {
	HandleMessage(connID string, env *protocol.Envelope)
	HandleDisconnect(connID string)
}

// ConnectionManager owns every WebSocket connection and the per-room pools
// used for broadcasting. Outbound traffic is funneled through one channel so
// replies and broadcasts leave in the order they were produced.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // by connection id
	rooms       map[string]map[string]*Connection // room code -> conn id -> conn

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  MessageHandler

	outCh chan outbound
}

// outbound is one queued delivery. A set ConnID with an empty RoomCode is a
// direct reply; a RoomCode fans out to the pool, minus ConnID when Exclude.
type outbound struct {
	RoomCode string
	ConnID   string
	Exclude  bool
	Event    *protocol.Envelope
}

// Connection is one WebSocket client.
type Connection struct {
	ID      string
	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager

	sendMu     sync.Mutex // guards send against close, see enqueueFrame
	sendClosed bool

	connectedAt time.Time
	room        string // current room code, guarded by manager.mu
}

// enqueueFrame queues one marshaled frame for the write pump. It reports
// false only when a live connection's buffer is full; a frame for an already
// closed connection is dropped.
func (c *Connection) enqueueFrame(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once. The flag and the close sit
// under the same mutex enqueueFrame checks, so a broadcast racing a
// disconnect drops its frame instead of sending on a closed channel.
func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// ConnectionConfig holds WebSocket tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default WebSocket tuning.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a manager. SetHandler must be called before
// the first connection is accepted.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		outCh:  make(chan outbound, 1024),
	}
}

// SetHandler installs the inbound message handler. The handler and the
// manager reference each other, so this cannot happen in the constructor.
func (cm *ConnectionManager) SetHandler(h MessageHandler) {
	cm.handler = h
}

// Start processes outbound deliveries until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case out := <-cm.outCh:
			cm.deliver(out)
		}
	}
}

// Upgrade promotes an HTTP request to a WebSocket connection and starts its
// read and write pumps.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, 256),
		manager:     cm,
		connectedAt: time.Now(),
	}

	cm.mu.Lock()
	cm.connections[c.ID] = c
	cm.mu.Unlock()

	go c.writePump()
	go c.readPump()

	log.Info().Str("conn_id", c.ID).Msg("websocket connection established")
	return nil
}

// JoinRoom binds the connection to a room pool, replacing any previous
// membership. A connection mirrors at most one session at a time.
func (cm *ConnectionManager) JoinRoom(connID, code string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.connections[connID]
	if !ok {
		return
	}
	if c.room != "" && c.room != code {
		cm.leaveRoomLocked(c)
	}
	c.room = code
	if cm.rooms[code] == nil {
		cm.rooms[code] = make(map[string]*Connection)
	}
	cm.rooms[code][connID] = c

	log.Debug().Str("conn_id", connID).Str("code", code).Int("pool", len(cm.rooms[code])).Msg("connection joined room")
}

// LeaveRoom removes the connection from its room pool.
func (cm *ConnectionManager) LeaveRoom(connID, code string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.connections[connID]
	if !ok || c.room != code {
		return
	}
	cm.leaveRoomLocked(c)
}

func (cm *ConnectionManager) leaveRoomLocked(c *Connection) {
	if pool, ok := cm.rooms[c.room]; ok {
		delete(pool, c.ID)
		if len(pool) == 0 {
			delete(cm.rooms, c.room)
		}
	}
	c.room = ""
}

// unregister drops the connection entirely. Safe to call twice; only the
// first removal notifies the handler.
func (cm *ConnectionManager) unregister(c *Connection) {
	cm.mu.Lock()
	_, present := cm.connections[c.ID]
	if present {
		delete(cm.connections, c.ID)
		if c.room != "" {
			cm.leaveRoomLocked(c)
		}
	}
	cm.mu.Unlock()

	if present {
		c.closeSend()
		log.Info().Str("conn_id", c.ID).Msg("connection unregistered")
		if cm.handler != nil {
			cm.handler.HandleDisconnect(c.ID)
		}
	}
}

// Send queues a reply for one connection.
func (cm *ConnectionManager) Send(connID string, ev *protocol.Envelope) {
	cm.enqueue(outbound{ConnID: connID, Event: ev})
}

// Broadcast queues an event for every connection in a room.
func (cm *ConnectionManager) Broadcast(code string, ev *protocol.Envelope) {
	cm.enqueue(outbound{RoomCode: code, Event: ev})
}

// BroadcastExcept queues an event for a room, skipping one connection.
func (cm *ConnectionManager) BroadcastExcept(code, exceptConnID string, ev *protocol.Envelope) {
	cm.enqueue(outbound{RoomCode: code, ConnID: exceptConnID, Exclude: true, Event: ev})
}

func (cm *ConnectionManager) enqueue(out outbound) {
	select {
	case cm.outCh <- out:
	default:
		log.Warn().Str("type", string(out.Event.Type)).Msg("outbound channel full, dropping message")
	}
}

func (cm *ConnectionManager) deliver(out outbound) {
	cm.mu.RLock()
	var targets []*Connection
	if out.RoomCode == "" {
		if c, ok := cm.connections[out.ConnID]; ok {
			targets = append(targets, c)
		}
	} else {
		for id, c := range cm.rooms[out.RoomCode] {
			if out.Exclude && id == out.ConnID {
				continue
			}
			targets = append(targets, c)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(out.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal outbound event")
		return
	}

	for _, c := range targets {
		if !c.enqueueFrame(data) {
			// Slow or dead consumer; drop it rather than stall the room.
			log.Warn().Str("conn_id", c.ID).Msg("send buffer full, closing connection")
			cm.unregister(c)
			c.conn.Close()
		}
	}
}

// Stats reports connection counts for the diagnostics endpoints.
func (cm *ConnectionManager) Stats() (totalConnections, activeRooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections), len(cm.rooms)
}

// writePump drains the send channel to the socket and keeps the ping cadence.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes inbound envelopes and hands them to the message handler.
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))

		env, err := protocol.DecodeEnvelope(message)
		if err != nil {
			log.Warn().Err(err).Str("conn_id", c.ID).Msg("discarding malformed message")
			continue
		}
		if c.manager.handler != nil {
			c.manager.handler.HandleMessage(c.ID, env)
		}
	}
}
