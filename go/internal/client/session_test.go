package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/draftlab/draftroom/go/internal/client"
	"github.com/draftlab/draftroom/go/internal/gateway"
	"github.com/draftlab/draftroom/go/internal/models"
	"github.com/draftlab/draftroom/go/internal/offline"
	"github.com/draftlab/draftroom/go/internal/room"
)

// sessionFixture hosts a real gateway over httptest so sessions exercise the
// full dial/handshake/replay path.
type sessionFixture struct {
	srv          *httptest.Server
	registry     *room.Registry
	roomID       uuid.UUID
	room         *room.Room
	participants []uuid.UUID
	players      []uuid.UUID
}

func newSessionFixture(t *testing.T, openRoom bool) *sessionFixture {
	t.Helper()

	registry := room.NewRegistry(room.DefaultRegistryConfig(), clockwork.NewRealClock(), nil)
	validate := func(token string) (uuid.UUID, error) {
		return uuid.Parse(token)
	}
	cm := gateway.NewConnectionManager(registry, validate, gateway.DefaultConnectionConfig())
	handler := gateway.NewHandler(registry, cm, validate)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := &sessionFixture{
		srv:          srv,
		registry:     registry,
		roomID:       uuid.New(),
		participants: []uuid.UUID{uuid.New(), uuid.New()},
	}
	f.players = make([]uuid.UUID, 16)
	for i := range f.players {
		f.players[i] = uuid.New()
	}
	if openRoom {
		f.openRoom(t)
	}
	return f
}

func (f *sessionFixture) openRoom(t *testing.T) {
	t.Helper()

	participants := make([]models.DraftParticipant, len(f.participants))
	for i, id := range f.participants {
		participants[i] = models.DraftParticipant{
			ID:             id,
			DisplayName:    fmt.Sprintf("team-%d", i+1),
			IsCommissioner: i == 0,
		}
	}
	rm, err := f.registry.Open(room.Config{
		RoomID:   f.roomID,
		LeagueID: uuid.New(),
		Settings: models.RoomSettings{
			Rounds:         2,
			TimePerPickSec: 300,
			DraftType:      models.DraftTypeSnake,
			DraftOrder:     f.participants,
		},
		Participants:   participants,
		DefaultRanking: f.players,
	})
	if err != nil {
		t.Fatalf("open room: %v", err)
	}
	t.Cleanup(rm.Close)
	f.room = rm
}

func (f *sessionFixture) newSession(t *testing.T, participantID uuid.UUID, offline bool) *client.Session {
	t.Helper()

	cfg := client.SessionConfig{
		ServerURL:     "ws" + strings.TrimPrefix(f.srv.URL, "http"),
		Token:         participantID.String(),
		RoomID:        f.roomID,
		ParticipantID: participantID,
		Backoff: client.BackoffPolicy{
			Initial:    10 * time.Millisecond,
			Max:        50 * time.Millisecond,
			Multiplier: 2,
		},
	}
	if offline {
		cfg.OfflinePath = filepath.Join(t.TempDir(), "actions.db")
	}
	s, err := client.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// The session adopts the snapshot handshake on connect and then follows the
// live broadcast sequence.
func TestSessionHandshakeTracksLiveDraft(t *testing.T) {
	f := newSessionFixture(t, true)
	f.room.Start()

	s := f.newSession(t, f.participants[1], false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitUntil(t, "snapshot handshake", func() bool {
		_, ok := s.View().Snapshot()
		return ok
	})

	if _, err := f.room.MakePick(f.participants[0], f.players[0], 1); err != nil {
		t.Fatalf("pick: %v", err)
	}
	waitUntil(t, "pick broadcast", func() bool {
		picks := s.View().Picks()
		return len(picks) == 1 && picks[0].PlayerID == f.players[0]
	})
}

// A session started before its room exists keeps retrying with backoff and
// completes the handshake once the room appears.
func TestSessionReconnectsWithBackoff(t *testing.T) {
	f := newSessionFixture(t, false)

	s := f.newSession(t, f.participants[0], false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Let a few dial attempts fail before the room opens.
	time.Sleep(50 * time.Millisecond)
	f.openRoom(t)
	f.room.Start()

	waitUntil(t, "handshake after retries", func() bool {
		_, ok := s.View().Snapshot()
		return ok
	})
}

// A pick queued while disconnected is replayed exactly once on reconnect, and
// the session ends up with the same state the server holds.
func TestSessionOfflinePickReplaysAfterReconnect(t *testing.T) {
	f := newSessionFixture(t, true)
	f.room.Start()

	s := f.newSession(t, f.participants[1], true)
	ctx := context.Background()

	// Not connected yet: the pick is captured, not sent.
	if err := s.MakePick(ctx, f.players[5]); err != nil {
		t.Fatalf("offline MakePick: %v", err)
	}

	// The draft moves on while this client is away; its turn comes up.
	if _, err := f.room.MakePick(f.participants[0], f.players[0], 1); err != nil {
		t.Fatalf("pick: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(runCtx)

	waitUntil(t, "replayed pick commit", func() bool {
		return len(f.room.Snapshot().Picks) == 2
	})
	snap := f.room.Snapshot()
	replayed := snap.Picks[1]
	if replayed.ParticipantID != f.participants[1] || replayed.PlayerID != f.players[5] {
		t.Fatalf("replayed pick = %s/%s, want %s/%s",
			replayed.ParticipantID, replayed.PlayerID, f.participants[1], f.players[5])
	}
	if replayed.Origin != models.PickOriginUser {
		t.Errorf("origin = %s, want USER", replayed.Origin)
	}

	failed, err := s.FailedActions(ctx)
	if err != nil {
		t.Fatalf("FailedActions: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("failed actions = %+v, want none", failed)
	}

	// The reconnected session converges to the server's state.
	waitUntil(t, "view convergence", func() bool {
		return s.View().LastSeq() >= f.room.Snapshot().LastSeq
	})
	viewSnap, _ := s.View().Snapshot()
	got, _ := json.Marshal(viewSnap.Picks)
	want, _ := json.Marshal(f.room.Snapshot().Picks)
	if string(got) != string(want) {
		t.Errorf("picks diverged:\nsession: %s\nserver:  %s", got, want)
	}
}

// A replayed action the server rejects is kept on the failed list, never
// silently dropped.
func TestSessionReplayRejectionSurfacesFailedAction(t *testing.T) {
	f := newSessionFixture(t, true)
	f.room.Start()

	s := f.newSession(t, f.participants[1], true)
	ctx := context.Background()

	if err := s.MakePick(ctx, f.players[0]); err != nil {
		t.Fatalf("offline MakePick: %v", err)
	}

	// Someone else drafts the queued player first, so every replay attempt is
	// rejected.
	if _, err := f.room.MakePick(f.participants[0], f.players[0], 1); err != nil {
		t.Fatalf("pick: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(runCtx)

	var failed []offline.QueuedAction
	waitUntil(t, "action marked failed", func() bool {
		var err error
		failed, err = s.FailedActions(ctx)
		if err != nil {
			t.Fatalf("FailedActions: %v", err)
		}
		return len(failed) == 1
	})
	if failed[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", failed[0].Attempts)
	}
	if !strings.Contains(failed[0].LastError, "already_drafted") {
		t.Errorf("last error = %q, want already_drafted rejection", failed[0].LastError)
	}

	// The rejected pick never reached the board.
	if picks := f.room.Snapshot().Picks; len(picks) != 1 {
		t.Fatalf("picks = %d, want 1", len(picks))
	}
}
