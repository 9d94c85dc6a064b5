package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/draftlab/draftroom/go/internal/models"
)

// CurrentPick describes the turn in progress.
type CurrentPick struct {
	Round            int       `json:"round"`
	Pick             int       `json:"pick"` // pick number within the round
	OverallPick      int       `json:"overall_pick"`
	ParticipantID    uuid.UUID `json:"participant_id"`
	SecondsRemaining int       `json:"seconds_remaining"`
}

// Snapshot is a full, self-consistent copy of room state. A client that
// adopts a snapshot and then applies every event with Seq > LastSeq in order
// holds state identical to the server's.
type Snapshot struct {
	RoomID       uuid.UUID                 `json:"room_id"`
	LeagueID     uuid.UUID                 `json:"league_id"`
	Status       models.RoomStatus         `json:"status"`
	Settings     models.RoomSettings       `json:"settings"`
	CurrentPick  *CurrentPick              `json:"current_pick,omitempty"`
	Participants []models.DraftParticipant `json:"participants"`
	Picks        []models.DraftPick        `json:"picks"`
	LastSeq      uint64                    `json:"last_seq"`
	TakenAt      time.Time                 `json:"taken_at"`
}

// Participant returns the participant with the given ID, or nil.
func (s *Snapshot) Participant(id uuid.UUID) *models.DraftParticipant {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// Roster returns the picks owned by the given participant, in commit order.
func (s *Snapshot) Roster(participantID uuid.UUID) []models.DraftPick {
	var roster []models.DraftPick
	for _, p := range s.Picks {
		if p.ParticipantID == participantID {
			roster = append(roster, p)
		}
	}
	return roster
}
