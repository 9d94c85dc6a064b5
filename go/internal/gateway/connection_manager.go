package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/draftlab/draftroom/go/internal/events"
	"github.com/draftlab/draftroom/go/internal/room"
)

// TokenValidator resolves a connect-time auth token to a participant id.
// Authentication itself is a collaborator subsystem.
type TokenValidator func(token string) (uuid.UUID, error)

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
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

// ConnectionManager upgrades client connections, binds each one to a draft
// room, and feeds the room's online/offline signals. Room state itself is
// owned by the room; the manager only holds connection plumbing.
type ConnectionManager struct {
	registry *room.Registry
	validate TokenValidator
	upgrader websocket.Upgrader
	config   ConnectionConfig

	mu    sync.RWMutex
	conns map[*Connection]struct{}
}

// Connection represents one client's persistent channel into a room.
type Connection struct {
	ID            string
	ParticipantID uuid.UUID
	RoomID        uuid.UUID

	room    *room.Room
	sub     *room.Subscription
	subMu   sync.Mutex
	ws      *websocket.Conn
	send    chan []byte
	manager *ConnectionManager

	ConnectedAt time.Time
}

// NewConnectionManager creates a connection manager over the room registry.
func NewConnectionManager(registry *room.Registry, validate TokenValidator, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		registry: registry,
		validate: validate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		conns:  make(map[*Connection]struct{}),
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket bound to the
// given room and participant, performs the join handshake (snapshot first,
// then live events), and starts the connection pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, participantID, roomID uuid.UUID) error {
	rm, err := cm.registry.Get(roomID)
	if err != nil {
		return err
	}

	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		RoomID:        roomID,
		room:          rm,
		ws:            ws,
		send:          make(chan []byte, 256),
		manager:       cm,
		ConnectedAt:   time.Now(),
	}

	snap, sub, err := rm.Join(participantID)
	if err != nil {
		ws.Close()
		return err
	}
	conn.sub = sub

	cm.mu.Lock()
	cm.conns[conn] = struct{}{}
	cm.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	// Queue the snapshot before the live feed starts so the first frame on
	// the wire is always room_joined.
	conn.sendEvent(events.New(roomID, snap.LastSeq, events.TypeRoomJoined, time.Now(), events.RoomJoinedPayload{
		Snapshot: snap,
	}))
	go conn.forwardEvents(sub)

	log.Info().
		Str("connection_id", conn.ID).
		Str("participant_id", participantID.String()).
		Str("room_id", roomID.String()).
		Msg("WebSocket connection established")
	return nil
}

// ConnectionCount returns the number of live connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

func (cm *ConnectionManager) drop(conn *Connection) {
	cm.mu.Lock()
	_, ok := cm.conns[conn]
	if ok {
		delete(cm.conns, conn)
	}
	cm.mu.Unlock()
	if !ok {
		return
	}

	close(conn.send)
	conn.subMu.Lock()
	sub := conn.sub
	conn.sub = nil
	conn.subMu.Unlock()
	conn.room.Disconnect(conn.ParticipantID, sub)

	log.Info().
		Str("connection_id", conn.ID).
		Str("participant_id", conn.ParticipantID.String()).
		Str("room_id", conn.RoomID.String()).
		Msg("connection closed")
}

// forwardEvents copies the room's ordered event feed onto the wire.
func (c *Connection) forwardEvents(sub *room.Subscription) {
	for evt := range sub.Events() {
		c.sendEvent(evt)
	}
	// Subscription cancelled by the room (slow consumer or room close);
	// drop the socket so the client reconnects and resyncs. A stale
	// forwarder replaced during rejoin leaves the socket alone.
	c.subMu.Lock()
	current := c.sub == sub
	c.subMu.Unlock()
	if current {
		c.ws.Close()
	}
}

func (c *Connection) sendEvent(evt events.RoomEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal event")
		return
	}
	defer func() {
		// send may be closed concurrently by drop.
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Msg("connection send buffer full, closing connection")
		c.ws.Close()
	}
}

// sendError delivers a typed rejection to this client only; rejections are
// never broadcast and carry no sequence number. commandID echoes the client's
// correlation id when the rejected command carried one.
func (c *Connection) sendError(commandID, code, detail string) {
	c.sendEvent(events.New(c.RoomID, 0, events.TypeError, time.Now(), events.ErrorPayload{
		Code:      code,
		Detail:    detail,
		CommandID: commandID,
	}))
}

// sendAck confirms a correlated command to its sender. Commands without an id
// get no ack; their outcome is visible through the broadcast sequence.
func (c *Connection) sendAck(commandID string) {
	if commandID == "" {
		return
	}
	c.sendEvent(events.New(c.RoomID, 0, events.TypeCommandAck, time.Now(), events.CommandAckPayload{
		CommandID: commandID,
	}))
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles reading commands from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.manager.drop(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.manager.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}
		c.handleCommand(message)
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

// handleCommand validates and routes one client command. Validation errors
// go back to the sender only.
func (c *Connection) handleCommand(message []byte) {
	cmd, err := ParseCommand(message)
	if err != nil {
		c.sendError("", "bad_command", err.Error())
		return
	}
	if cmd.RoomID != c.RoomID {
		c.sendError(cmd.ID, "unknown_room", "command targets a room this connection is not joined to")
		return
	}

	switch cmd.Type {
	case CommandJoinRoom:
		c.rejoin()

	case CommandLeaveRoom:
		c.manager.drop(c)
		c.ws.Close()

	case CommandMakePick:
		payload, err := decodeData[MakePickCommand](cmd)
		if err != nil {
			c.sendError(cmd.ID, "bad_command", err.Error())
			return
		}
		if _, err := c.room.MakePick(c.ParticipantID, payload.PlayerID, payload.ExpectedPickNumber); err != nil {
			c.sendError(cmd.ID, room.Code(err), err.Error())
			return
		}
		c.sendAck(cmd.ID)

	case CommandSetAutoPick:
		payload, err := decodeData[SetAutoPickCommand](cmd)
		if err != nil {
			c.sendError(cmd.ID, "bad_command", err.Error())
			return
		}
		if err := c.room.SetAutoPick(c.ParticipantID, payload.Enabled, payload.PreferenceQueue); err != nil {
			c.sendError(cmd.ID, room.Code(err), err.Error())
			return
		}
		c.sendAck(cmd.ID)

	case CommandPauseDraft:
		payload, err := decodeData[PauseDraftCommand](cmd)
		if err != nil {
			c.sendError(cmd.ID, "bad_command", err.Error())
			return
		}
		if err := c.room.SetPaused(c.ParticipantID, payload.Paused); err != nil {
			c.sendError(cmd.ID, room.Code(err), err.Error())
			return
		}
		c.sendAck(cmd.ID)

	case CommandChatMessage:
		payload, err := decodeData[ChatMessageCommand](cmd)
		if err != nil {
			c.sendError(cmd.ID, "bad_command", err.Error())
			return
		}
		if err := c.room.Chat(c.ParticipantID, payload.Text); err != nil {
			c.sendError(cmd.ID, room.Code(err), err.Error())
			return
		}
		c.sendAck(cmd.ID)
	}
}

// rejoin re-runs the snapshot handshake in place: cancel the old
// subscription, then deliver a fresh snapshot followed by the live feed.
func (c *Connection) rejoin() {
	c.subMu.Lock()
	if c.sub != nil {
		c.sub.Cancel()
	}
	c.subMu.Unlock()

	snap, sub, err := c.room.Join(c.ParticipantID)
	if err != nil {
		c.sendError("", room.Code(err), err.Error())
		return
	}
	c.subMu.Lock()
	c.sub = sub
	c.subMu.Unlock()

	c.sendEvent(events.New(c.RoomID, snap.LastSeq, events.TypeRoomJoined, time.Now(), events.RoomJoinedPayload{
		Snapshot: snap,
	}))
	go c.forwardEvents(sub)
}
