package models

import (
	"time"

	"github.com/google/uuid"
)

// DraftType defines the type of draft.
type DraftType string

const (
	DraftTypeSnake   DraftType = "SNAKE"
	DraftTypeAuction DraftType = "AUCTION"
)

// RoomStatus defines the lifecycle status of a draft room.
type RoomStatus string

const (
	RoomStatusPending   RoomStatus = "PENDING"
	RoomStatusActive    RoomStatus = "ACTIVE"
	RoomStatusPaused    RoomStatus = "PAUSED"
	RoomStatusCompleted RoomStatus = "COMPLETED"
)

// RoomSettings holds the configuration a draft room is opened with.
// DraftOrder lists participant IDs in pick-order position 1..N; it is fixed
// for the lifetime of the room.
type RoomSettings struct {
	Rounds            int         `json:"rounds"`
	TimePerPickSec    int         `json:"time_per_pick_sec"`
	DraftType         DraftType   `json:"draft_type"`
	DraftOrder        []uuid.UUID `json:"draft_order"`
	PauseOnDisconnect bool        `json:"pause_on_disconnect"`
	AutoPickEnabled   bool        `json:"auto_pick_enabled"`
	BudgetPerTeam     *float64    `json:"budget_per_team,omitempty"` // auction
}

// TotalPicks returns the number of pick slots the room will fill.
func (s RoomSettings) TotalPicks() int {
	return s.Rounds * len(s.DraftOrder)
}

// AutoPickPreference is a participant's standing auto-pick instruction.
type AutoPickPreference struct {
	Enabled bool        `json:"enabled"`
	Queue   []uuid.UUID `json:"queue,omitempty"` // player IDs, best first
}

// DraftParticipant is one seat in a draft room.
type DraftParticipant struct {
	ID             uuid.UUID          `json:"id"`
	DisplayName    string             `json:"display_name"`
	Position       int                `json:"position"` // 1..N pick-order position
	IsCommissioner bool               `json:"is_commissioner"`
	Budget         *float64           `json:"budget,omitempty"` // auction
	IsOnline       bool               `json:"is_online"`
	LastActiveAt   time.Time          `json:"last_active_at"`
	AutoPick       AutoPickPreference `json:"auto_pick"`
}
