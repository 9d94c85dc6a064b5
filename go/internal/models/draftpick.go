package models

import (
	"time"

	"github.com/google/uuid"
)

// PickOrigin records whether a pick was made by the participant or by the
// auto-pick resolver on their behalf.
type PickOrigin string

const (
	PickOriginUser PickOrigin = "USER"
	PickOriginAuto PickOrigin = "AUTO"
)

// DraftPick represents a single committed pick in a draft room. Picks are
// immutable once committed.
type DraftPick struct {
	ID            uuid.UUID  `json:"id"`
	RoomID        uuid.UUID  `json:"room_id"`
	Round         int        `json:"round"`
	Pick          int        `json:"pick"`         // pick number in the round
	OverallPick   int        `json:"overall_pick"` // pick number overall
	ParticipantID uuid.UUID  `json:"participant_id"`
	PlayerID      uuid.UUID  `json:"player_id"`
	Origin        PickOrigin `json:"origin"`
	PickedAt      time.Time  `json:"picked_at"`
}
