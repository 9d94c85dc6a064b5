package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/draftlab/draftroom/go/internal/events"
	"github.com/draftlab/draftroom/go/internal/gateway"
	"github.com/draftlab/draftroom/go/internal/offline"
)

// SessionConfig configures a client session.
type SessionConfig struct {
	// ServerURL is the gateway base URL, e.g. "ws://localhost:8080".
	ServerURL     string
	Token         string
	RoomID        uuid.UUID
	ParticipantID uuid.UUID

	// OfflinePath is the SQLite file for the offline action queue.
	// Empty disables offline capture.
	OfflinePath string

	Backoff      BackoffPolicy
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Session maintains a client's connection to a draft room: it dials the
// gateway, performs the snapshot handshake, keeps the local view in sync,
// reconnects with backoff, and captures commands issued while offline for
// replay after the next resync.
type Session struct {
	cfg   SessionConfig
	view  *RoomView
	queue *offline.Queue
	clock clockwork.Clock

	mu sync.Mutex
	ws *websocket.Conn
}

// NewSession builds a session. The offline queue is opened eagerly so
// actions queued in a previous run are replayed on the first sync.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Backoff.Initial == 0 {
		cfg.Backoff = DefaultBackoffPolicy()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &Session{
		cfg:   cfg,
		view:  NewRoomView(cfg.ParticipantID),
		clock: clockwork.NewRealClock(),
	}

	if cfg.OfflinePath != "" {
		queue, err := offline.Open(cfg.OfflinePath, offline.DefaultConfig(), s.clock)
		if err != nil {
			return nil, fmt.Errorf("open offline queue: %w", err)
		}
		s.queue = queue
	}
	return s, nil
}

// View returns the session's room view.
func (s *Session) View() *RoomView {
	return s.view
}

// Run connects and keeps the session alive until the context is cancelled.
// Every (re)connection performs the full handshake: snapshot first, offline
// replay second, then the live event feed.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		established, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if established {
			// A completed handshake resets the backoff ladder.
			attempt = 0
		}
		attempt++
		delay := s.cfg.Backoff.Delay(attempt - 1)
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("session disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(delay):
		}
	}
}

func (s *Session) runOnce(ctx context.Context) (bool, error) {
	ws, err := s.dial(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		s.mu.Lock()
		s.ws = nil
		s.mu.Unlock()
		ws.Close()
	}()

	// Snapshot handshake: the first frame after connect must be the join
	// event carrying full room state.
	if err := s.awaitSnapshot(ws); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()

	if err := s.replayOffline(ctx, ws); err != nil {
		if errors.Is(err, offline.ErrActionFailed) {
			log.Warn().Err(err).Msg("offline action exhausted its replay attempts; kept on the failed list")
		} else {
			log.Error().Err(err).Msg("offline replay error")
		}
	}

	return true, s.readLoop(ctx, ws)
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	u.Path = "/ws/draft"
	q := u.Query()
	q.Set("room_id", s.cfg.RoomID.String())
	q.Set("token", s.cfg.Token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	return ws, nil
}

func (s *Session) awaitSnapshot(ws *websocket.Conn) error {
	ws.SetReadDeadline(time.Now().Add(s.cfg.DialTimeout))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read join event: %w", err)
	}
	var evt events.RoomEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return fmt.Errorf("unmarshal join event: %w", err)
	}
	if evt.Type != events.TypeRoomJoined {
		return fmt.Errorf("expected %s, got %s", events.TypeRoomJoined, evt.Type)
	}
	if err := s.view.Apply(evt); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}
	log.Info().
		Str("room_id", s.cfg.RoomID.String()).
		Uint64("last_seq", s.view.LastSeq()).
		Msg("room snapshot adopted")
	return nil
}

func (s *Session) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		var evt events.RoomEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Error().Err(err).Msg("malformed event, skipping")
			continue
		}
		if err := s.view.Apply(evt); err != nil {
			if errors.Is(err, ErrSequenceGap) {
				// Request a fresh snapshot in place of tearing the socket
				// down; the server replies with a new join event.
				log.Warn().Uint64("last_seq", s.view.LastSeq()).Msg("sequence gap, requesting resync")
				if err := s.sendCommand(gateway.CommandJoinRoom, nil); err != nil {
					return err
				}
				continue
			}
			log.Error().Err(err).Str("type", string(evt.Type)).Msg("failed to apply event")
		}
	}
}

// MakePick submits a pick for the current turn. Connected, it applies an
// optimistic overlay and sends immediately; offline, the pick is queued for
// replay (without the optimistic overlay, since the turn may move on).
func (s *Session) MakePick(ctx context.Context, playerID uuid.UUID) error {
	if !s.connected() {
		return s.capture(ctx, gateway.CommandMakePick, gateway.MakePickCommand{
			PlayerID: playerID,
		})
	}
	overall, err := s.view.PredictPick(playerID)
	if err != nil {
		return err
	}
	return s.sendCommand(gateway.CommandMakePick, gateway.MakePickCommand{
		PlayerID:           playerID,
		ExpectedPickNumber: overall,
	})
}

// SetAutoPick updates this participant's auto-pick preference.
func (s *Session) SetAutoPick(ctx context.Context, enabled bool, queue []uuid.UUID) error {
	cmd := gateway.SetAutoPickCommand{Enabled: enabled, PreferenceQueue: queue}
	if !s.connected() {
		return s.capture(ctx, gateway.CommandSetAutoPick, cmd)
	}
	return s.sendCommand(gateway.CommandSetAutoPick, cmd)
}

// Chat sends a room-wide chat message. Chat is not captured offline.
func (s *Session) Chat(ctx context.Context, text string) error {
	if !s.connected() {
		return errors.New("not connected")
	}
	return s.sendCommand(gateway.CommandChatMessage, gateway.ChatMessageCommand{Text: text})
}

// SetPaused asks the server to pause or resume the draft (commissioner
// only).
func (s *Session) SetPaused(ctx context.Context, paused bool) error {
	if !s.connected() {
		return errors.New("not connected")
	}
	return s.sendCommand(gateway.CommandPauseDraft, gateway.PauseDraftCommand{Paused: paused})
}

// FailedActions exposes offline actions that exhausted their replay
// attempts.
func (s *Session) FailedActions(ctx context.Context) ([]offline.QueuedAction, error) {
	if s.queue == nil {
		return nil, nil
	}
	return s.queue.Failed(ctx)
}

// RetryAction requeues a failed offline action.
func (s *Session) RetryAction(ctx context.Context, id int64) error {
	if s.queue == nil {
		return errors.New("offline queue disabled")
	}
	return s.queue.Retry(ctx, id)
}

// DiscardAction drops a failed offline action.
func (s *Session) DiscardAction(ctx context.Context, id int64) error {
	if s.queue == nil {
		return errors.New("offline queue disabled")
	}
	return s.queue.Discard(ctx, id)
}

// Close tears down the connection and the offline queue.
func (s *Session) Close() error {
	s.mu.Lock()
	ws := s.ws
	s.ws = nil
	s.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
	if s.queue != nil {
		return s.queue.Close()
	}
	return nil
}

func (s *Session) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws != nil
}

func (s *Session) capture(ctx context.Context, typ gateway.CommandType, payload any) error {
	if s.queue == nil {
		return errors.New("not connected and offline queue disabled")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal offline action: %w", err)
	}
	log.Info().Str("action_type", string(typ)).Msg("capturing action while offline")
	return s.queue.Enqueue(ctx, offline.Action{
		RoomID:  s.cfg.RoomID,
		Type:    string(typ),
		Payload: data,
	})
}

// replayOffline drains the offline queue after a successful resync. Each
// replayed command carries a correlation id and counts as delivered only when
// the server acks it; a rejection (a pick replayed against a moved-on turn,
// say) fails the attempt, so the queue retries it and ultimately surfaces it
// as failed instead of dropping it. Replay runs before the live read loop
// starts, so this goroutine is the socket's only reader.
func (s *Session) replayOffline(ctx context.Context, ws *websocket.Conn) error {
	if s.queue == nil {
		return nil
	}
	n, err := s.queue.Pending(ctx)
	if err != nil || n == 0 {
		return err
	}
	log.Info().Int("pending", n).Msg("replaying offline actions")
	return s.queue.Replay(ctx, func(ctx context.Context, action offline.Action) error {
		return s.replayAction(ws, action)
	})
}

func (s *Session) replayAction(ws *websocket.Conn, action offline.Action) error {
	id := uuid.New().String()
	if err := s.sendTaggedCommand(id, gateway.CommandType(action.Type), json.RawMessage(action.Payload)); err != nil {
		return err
	}

	// The server echoes the id on the ack or the rejection; anything else in
	// between is an ordinary live event and folds into the view.
	ws.SetReadDeadline(time.Now().Add(s.cfg.DialTimeout))
	defer ws.SetReadDeadline(time.Time{})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("await replay outcome: %w", err)
		}
		var evt events.RoomEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case events.TypeCommandAck:
			payload, err := events.ParsePayload(evt)
			if err == nil && payload.(events.CommandAckPayload).CommandID == id {
				return nil
			}
		case events.TypeError:
			payload, err := events.ParsePayload(evt)
			if err == nil {
				if p := payload.(events.ErrorPayload); p.CommandID == id {
					return fmt.Errorf("replayed %s rejected: %s", action.Type, p.Code)
				}
			}
			_ = s.view.Apply(evt)
		default:
			_ = s.view.Apply(evt)
		}
	}
}

// sendCommand writes one command frame. The session lock is held across the
// write because the websocket permits a single concurrent writer.
func (s *Session) sendCommand(typ gateway.CommandType, payload any) error {
	return s.sendTaggedCommand("", typ, payload)
}

func (s *Session) sendTaggedCommand(id string, typ gateway.CommandType, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.ws
	if ws == nil {
		return errors.New("not connected")
	}

	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal command payload: %w", err)
		}
		data = b
	}
	cmd := gateway.Command{
		ID:     id,
		Type:   typ,
		RoomID: s.cfg.RoomID,
		Data:   data,
	}
	frame, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}
