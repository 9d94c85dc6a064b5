package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/draftlab/draftroom/go/internal/models"
	"github.com/draftlab/draftroom/go/internal/room"
)

// Handler exposes the WebSocket endpoint plus the small admin surface used
// to create, start, and inspect rooms.
type Handler struct {
	registry *room.Registry
	cm       *ConnectionManager
	validate TokenValidator
}

// NewHandler creates a new HTTP handler over the room registry.
func NewHandler(registry *room.Registry, cm *ConnectionManager, validate TokenValidator) *Handler {
	return &Handler{
		registry: registry,
		cm:       cm,
		validate: validate,
	}
}

// RegisterRoutes registers all routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/draft", h.handleDraftConnection)
	mux.HandleFunc("/api/rooms", h.handleCreateRoom)
	mux.HandleFunc("/api/rooms/", h.handleRoomSubroute)
	mux.HandleFunc("/health", h.handleHealth)
}

// handleDraftConnection handles WebSocket upgrade requests for a room.
func (h *Handler) handleDraftConnection(w http.ResponseWriter, r *http.Request) {
	roomIDStr := r.URL.Query().Get("room_id")
	if roomIDStr == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		http.Error(w, "invalid room_id format", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return
	}
	participantID, err := h.validate(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if err := h.cm.UpgradeConnection(w, r, participantID, roomID); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID.String()).
			Str("participant_id", participantID.String()).
			Msg("failed to upgrade WebSocket connection")
		if errors.Is(err, room.ErrUnknownRoom) {
			http.Error(w, "unknown room", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// CreateRoomRequest is the admin payload for opening a room.
type CreateRoomRequest struct {
	RoomID       uuid.UUID                 `json:"roomId"`
	LeagueID     uuid.UUID                 `json:"leagueId"`
	Settings     models.RoomSettings       `json:"settings"`
	Participants []models.DraftParticipant `json:"participants"`
	Ranking      []uuid.UUID               `json:"ranking"`
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RoomID == uuid.Nil {
		req.RoomID = uuid.New()
	}

	rm, err := h.registry.Open(room.Config{
		RoomID:         req.RoomID,
		LeagueID:       req.LeagueID,
		Settings:       req.Settings,
		Participants:   req.Participants,
		DefaultRanking: req.Ranking,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			http.Error(w, "room already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Info().
		Str("room_id", req.RoomID.String()).
		Int("participants", len(req.Participants)).
		Msg("draft room created")
	writeJSON(w, http.StatusCreated, rm.Snapshot())
}

// handleRoomSubroute routes /api/rooms/{id}/start and /api/rooms/{id}/state.
func (h *Handler) handleRoomSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	roomID, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	rm, err := h.registry.Get(roomID)
	if err != nil {
		http.Error(w, "unknown room", http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "start":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := rm.Start(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, rm.Snapshot())

	case "state":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, rm.Snapshot())

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rooms":       h.registry.Len(),
		"connections": h.cm.ConnectionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}
