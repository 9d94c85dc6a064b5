package room

import (
	"github.com/google/uuid"

	"github.com/draftlab/draftroom/go/internal/models"
)

// RoundOf maps an overall pick number to its 1-indexed round for a room with
// n participants.
func RoundOf(overall, n int) int {
	return (overall-1)/n + 1
}

// PickInRound maps an overall pick number to its 1-indexed position within
// its round.
func PickInRound(overall, n int) int {
	return (overall-1)%n + 1
}

// roundOrder returns the pick order for a round. Snake drafts reverse the
// configured order every even round; auction drafts keep it fixed.
func roundOrder(settings models.RoomSettings, round int) []uuid.UUID {
	order := settings.DraftOrder
	if settings.DraftType == models.DraftTypeSnake && round%2 == 0 {
		reversed := make([]uuid.UUID, len(order))
		for i, id := range order {
			reversed[len(order)-1-i] = id
		}
		return reversed
	}
	return order
}

// PickerAt returns the participant who owns the given overall pick number.
// The second return is false when the pick number falls outside the draft.
func PickerAt(settings models.RoomSettings, overall int) (uuid.UUID, bool) {
	n := len(settings.DraftOrder)
	if n == 0 || overall < 1 || overall > settings.TotalPicks() {
		return uuid.Nil, false
	}
	round := RoundOf(overall, n)
	pos := PickInRound(overall, n)
	return roundOrder(settings, round)[pos-1], true
}
