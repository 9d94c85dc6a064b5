package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CommandType identifies a client-to-server command.
type CommandType string

const (
	CommandJoinRoom    CommandType = "join_room"
	CommandLeaveRoom   CommandType = "leave_room"
	CommandMakePick    CommandType = "make_pick"
	CommandSetAutoPick CommandType = "set_auto_pick"
	CommandPauseDraft  CommandType = "pause_draft"
	CommandChatMessage CommandType = "chat_message"
)

// Command is the envelope for every client-to-server message on the
// persistent channel. ID is an optional client-assigned correlation id: when
// set, the server echoes it on the resulting ack or error frame so the client
// can match a specific command (a replayed offline action) to its outcome.
type Command struct {
	ID     string          `json:"cmd_id,omitempty"`
	Type   CommandType     `json:"type"`
	RoomID uuid.UUID       `json:"room_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// MakePickCommand submits a pick for the current turn. ExpectedPickNumber is
// the optimistic check against the room's current overall pick number; zero
// (or omitting the field) skips the check, which is how picks captured
// offline are replayed without knowing the current turn. Any client may omit
// it: the check only protects the sender from committing onto a turn that
// moved on, and the turn-ownership and duplicate-player checks are enforced
// regardless.
type MakePickCommand struct {
	PlayerID           uuid.UUID `json:"player_id"`
	ExpectedPickNumber int       `json:"expected_pick_number"`
}

// SetAutoPickCommand updates the sender's auto-pick preference.
type SetAutoPickCommand struct {
	Enabled         bool        `json:"enabled"`
	PreferenceQueue []uuid.UUID `json:"preference_queue,omitempty"`
}

// PauseDraftCommand pauses or resumes the draft. Commissioner-privileged.
type PauseDraftCommand struct {
	Paused bool `json:"paused"`
}

// ChatMessageCommand sends a chat line to the room.
type ChatMessageCommand struct {
	Text string `json:"text"`
}

// ParseCommand decodes a raw client message into a command envelope.
func ParseCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	switch cmd.Type {
	case CommandJoinRoom, CommandLeaveRoom, CommandMakePick,
		CommandSetAutoPick, CommandPauseDraft, CommandChatMessage:
	default:
		return Command{}, fmt.Errorf("unknown command type: %q", cmd.Type)
	}
	return cmd, nil
}

func decodeData[T any](cmd Command) (T, error) {
	var payload T
	if len(cmd.Data) == 0 {
		return payload, fmt.Errorf("%s: missing data", cmd.Type)
	}
	if err := json.Unmarshal(cmd.Data, &payload); err != nil {
		return payload, fmt.Errorf("%s: decode data: %w", cmd.Type, err)
	}
	return payload, nil
}
