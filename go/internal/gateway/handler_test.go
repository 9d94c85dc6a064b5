package gateway_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/draftlab/draftroom/go/internal/events"
	"github.com/draftlab/draftroom/go/internal/gateway"
	"github.com/draftlab/draftroom/go/internal/models"
	"github.com/draftlab/draftroom/go/internal/room"
)

func newTestServer(t *testing.T) (*httptest.Server, *room.Registry) {
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
	return srv, registry
}

func createRoom(t *testing.T, srv *httptest.Server, participantIDs []uuid.UUID) uuid.UUID {
	t.Helper()

	participants := make([]models.DraftParticipant, len(participantIDs))
	for i, id := range participantIDs {
		participants[i] = models.DraftParticipant{
			ID:             id,
			DisplayName:    fmt.Sprintf("team-%d", i+1),
			IsCommissioner: i == 0,
		}
	}
	req := gateway.CreateRoomRequest{
		RoomID:   uuid.New(),
		LeagueID: uuid.New(),
		Settings: models.RoomSettings{
			Rounds:         1,
			TimePerPickSec: 30,
			DraftType:      models.DraftTypeSnake,
			DraftOrder:     participantIDs,
		},
		Participants: participants,
	}
	body, _ := json.Marshal(req)

	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room status = %d, want 201", resp.StatusCode)
	}
	return req.RoomID
}

func TestCreateStartAndReadState(t *testing.T) {
	srv, _ := newTestServer(t)
	participantIDs := []uuid.UUID{uuid.New(), uuid.New()}
	roomID := createRoom(t, srv, participantIDs)

	// Duplicate creation conflicts.
	body, _ := json.Marshal(gateway.CreateRoomRequest{
		RoomID: roomID,
		Settings: models.RoomSettings{
			Rounds:         1,
			TimePerPickSec: 30,
			DraftType:      models.DraftTypeSnake,
			DraftOrder:     participantIDs,
		},
		Participants: []models.DraftParticipant{{ID: participantIDs[0]}, {ID: participantIDs[1]}},
	})
	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/rooms/"+roomID.String()+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/rooms/" + roomID.String() + "/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer resp.Body.Close()
	var snap events.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if snap.Status != models.RoomStatusActive {
		t.Errorf("status = %s, want ACTIVE", snap.Status)
	}
	if snap.CurrentPick == nil || snap.CurrentPick.ParticipantID != participantIDs[0] {
		t.Error("first pick not armed for the first participant")
	}

	resp, err = http.Get(srv.URL + "/api/rooms/" + uuid.New().String() + "/state")
	if err != nil {
		t.Fatalf("unknown state: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown room status = %d, want 404", resp.StatusCode)
	}
}

// A WebSocket client joins, receives the snapshot handshake, submits a pick,
// and sees it broadcast.
func TestWebSocketJoinAndPick(t *testing.T) {
	srv, _ := newTestServer(t)
	participantIDs := []uuid.UUID{uuid.New(), uuid.New()}
	roomID := createRoom(t, srv, participantIDs)

	resp, err := http.Post(srv.URL+"/api/rooms/"+roomID.String()+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws/draft?room_id=" + roomID.String() + "&token=" + participantIDs[0].String()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	readEvent := func() events.RoomEvent {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var evt events.RoomEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	}

	joined := readEvent()
	if joined.Type != events.TypeRoomJoined {
		t.Fatalf("first frame = %s, want room_joined", joined.Type)
	}

	playerID := uuid.New()
	pickData, _ := json.Marshal(gateway.MakePickCommand{PlayerID: playerID, ExpectedPickNumber: 1})
	cmd, _ := json.Marshal(gateway.Command{
		Type:   gateway.CommandMakePick,
		RoomID: roomID,
		Data:   pickData,
	})
	if err := ws.WriteMessage(websocket.TextMessage, cmd); err != nil {
		t.Fatalf("write pick: %v", err)
	}

	for {
		evt := readEvent()
		if evt.Type != events.TypePickMade {
			continue
		}
		payload, err := events.ParsePayload(evt)
		if err != nil {
			t.Fatalf("parse payload: %v", err)
		}
		made := payload.(events.PickMadePayload)
		if made.Pick.PlayerID != playerID {
			t.Fatalf("broadcast pick player = %s, want %s", made.Pick.PlayerID, playerID)
		}
		return
	}
}

// Commands carrying a client-assigned id get that id echoed back on the ack
// or the rejection, so the sender can match each command to its outcome.
func TestWebSocketCommandCorrelation(t *testing.T) {
	srv, _ := newTestServer(t)
	participantIDs := []uuid.UUID{uuid.New(), uuid.New()}
	roomID := createRoom(t, srv, participantIDs)

	resp, err := http.Post(srv.URL+"/api/rooms/"+roomID.String()+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws/draft?room_id=" + roomID.String() + "&token=" + participantIDs[0].String()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	readEvent := func() events.RoomEvent {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var evt events.RoomEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	}
	sendPick := func(id string, playerID uuid.UUID, expected int) {
		t.Helper()
		pickData, _ := json.Marshal(gateway.MakePickCommand{PlayerID: playerID, ExpectedPickNumber: expected})
		cmd, _ := json.Marshal(gateway.Command{
			ID:     id,
			Type:   gateway.CommandMakePick,
			RoomID: roomID,
			Data:   pickData,
		})
		if err := ws.WriteMessage(websocket.TextMessage, cmd); err != nil {
			t.Fatalf("write pick: %v", err)
		}
	}

	if joined := readEvent(); joined.Type != events.TypeRoomJoined {
		t.Fatalf("first frame = %s, want room_joined", joined.Type)
	}

	playerID := uuid.New()
	sendPick("a1", playerID, 1)
	for {
		evt := readEvent()
		if evt.Type != events.TypeCommandAck {
			continue
		}
		payload, err := events.ParsePayload(evt)
		if err != nil {
			t.Fatalf("parse ack: %v", err)
		}
		if got := payload.(events.CommandAckPayload).CommandID; got != "a1" {
			t.Fatalf("ack cmd_id = %q, want a1", got)
		}
		break
	}

	// The turn has moved to participant 2, so a second pick from this
	// connection is rejected, with the new command's id on the frame.
	sendPick("a2", uuid.New(), 0)
	for {
		evt := readEvent()
		if evt.Type != events.TypeError {
			continue
		}
		payload, err := events.ParsePayload(evt)
		if err != nil {
			t.Fatalf("parse error frame: %v", err)
		}
		p := payload.(events.ErrorPayload)
		if p.Code != "wrong_turn" {
			t.Fatalf("code = %s, want wrong_turn", p.Code)
		}
		if p.CommandID != "a2" {
			t.Fatalf("error cmd_id = %q, want a2", p.CommandID)
		}
		return
	}
}

// Commands that fail validation come back as error frames to the sender
// only, outside the broadcast sequence.
func TestWebSocketRejectionFrame(t *testing.T) {
	srv, _ := newTestServer(t)
	participantIDs := []uuid.UUID{uuid.New(), uuid.New()}
	roomID := createRoom(t, srv, participantIDs)

	resp, err := http.Post(srv.URL+"/api/rooms/"+roomID.String()+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp.Body.Close()

	// Participant 2 connects; it is participant 1's turn.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws/draft?room_id=" + roomID.String() + "&token=" + participantIDs[1].String()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	pickData, _ := json.Marshal(gateway.MakePickCommand{PlayerID: uuid.New(), ExpectedPickNumber: 1})
	cmd, _ := json.Marshal(gateway.Command{
		Type:   gateway.CommandMakePick,
		RoomID: roomID,
		Data:   pickData,
	})

	for {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var evt events.RoomEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		switch evt.Type {
		case events.TypeRoomJoined:
			if err := ws.WriteMessage(websocket.TextMessage, cmd); err != nil {
				t.Fatalf("write pick: %v", err)
			}
		case events.TypeError:
			if evt.Seq != 0 {
				t.Fatalf("rejection seq = %d, want 0", evt.Seq)
			}
			payload, _ := events.ParsePayload(evt)
			if code := payload.(events.ErrorPayload).Code; code != "wrong_turn" {
				t.Fatalf("code = %s, want wrong_turn", code)
			}
			return
		}
	}
}
