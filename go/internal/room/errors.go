package room

import "errors"

// Validation rejections returned to the submitting caller only; they are
// never broadcast and never retried automatically.
var (
	ErrRoomNotActive      = errors.New("room is not active")
	ErrRoomCompleted      = errors.New("room is completed")
	ErrWrongTurn          = errors.New("not this participant's turn")
	ErrStaleTurn          = errors.New("stale turn: expected pick number does not match current pick")
	ErrAlreadyDrafted     = errors.New("player already drafted")
	ErrUnknownParticipant = errors.New("participant is not in this room")
	ErrNotCommissioner    = errors.New("operation requires commissioner")
	ErrUnknownRoom        = errors.New("unknown room")
	ErrRoomExists         = errors.New("room already exists")
	ErrNoCandidate        = errors.New("no undrafted player available")
)

// Code maps a room error to the wire error code sent to clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotActive), errors.Is(err, ErrRoomCompleted):
		return "room_not_active"
	case errors.Is(err, ErrWrongTurn):
		return "wrong_turn"
	case errors.Is(err, ErrStaleTurn):
		return "stale_turn"
	case errors.Is(err, ErrAlreadyDrafted):
		return "already_drafted"
	case errors.Is(err, ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, ErrNotCommissioner):
		return "not_commissioner"
	case errors.Is(err, ErrUnknownRoom):
		return "unknown_room"
	default:
		return "internal"
	}
}
