package room

import (
	"github.com/google/uuid"

	"github.com/draftlab/draftroom/go/internal/models"
)

// AutoPickStrategy selects a player for a participant whose turn expired.
// drafted holds every player already committed in the room; the returned
// player must not be in it.
type AutoPickStrategy interface {
	Select(participant *models.DraftParticipant, drafted map[uuid.UUID]bool) (uuid.UUID, error)
}

// QueueThenRankingStrategy pops the first undrafted player from the
// participant's preference queue and falls back to a shared default ranking
// when the queue is empty or exhausted.
type QueueThenRankingStrategy struct {
	ranking []uuid.UUID // shared default ranking, best first
}

// NewQueueThenRankingStrategy builds the default auto-pick strategy around a
// shared player ranking.
func NewQueueThenRankingStrategy(ranking []uuid.UUID) *QueueThenRankingStrategy {
	return &QueueThenRankingStrategy{ranking: ranking}
}

// Select implements AutoPickStrategy.
func (s *QueueThenRankingStrategy) Select(participant *models.DraftParticipant, drafted map[uuid.UUID]bool) (uuid.UUID, error) {
	if participant.AutoPick.Enabled {
		for _, playerID := range participant.AutoPick.Queue {
			if !drafted[playerID] {
				return playerID, nil
			}
		}
	}
	for _, playerID := range s.ranking {
		if !drafted[playerID] {
			return playerID, nil
		}
	}
	return uuid.Nil, ErrNoCandidate
}
