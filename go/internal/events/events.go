package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/draftlab/draftroom/go/internal/models"
)

// Type identifies the kind of room event in the tagged union.
type Type string

const (
	TypeRoomJoined          Type = "room_joined"
	TypePickMade            Type = "pick_made"
	TypeTimerUpdate         Type = "timer_update"
	TypeParticipantsUpdated Type = "participants_updated"
	TypeStatusChanged       Type = "status_changed"
	TypeChatMessage         Type = "chat_message"
	TypeCommandAck          Type = "command_ack"
	TypeError               Type = "error"
)

// RoomEvent is the envelope for every server-to-client event. Seq is a
// per-room monotonically increasing sequence number assigned at commit time;
// clients use it to detect gaps and trigger a resync.
//
// room_joined is the one exception: it is delivered to a single (re)joining
// client rather than broadcast, and its Seq mirrors the LastSeq of the
// snapshot it carries.
type RoomEvent struct {
	ID        string          `json:"id"` // event UUID
	RoomID    uuid.UUID       `json:"room_id"`
	Seq       uint64          `json:"seq"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// RoomJoinedPayload carries the full-state snapshot sent to a (re)joining
// client before it resumes the live event sequence.
type RoomJoinedPayload struct {
	Snapshot Snapshot `json:"snapshot"`
}

// PickMadePayload is broadcast for every committed pick. The snapshot lets
// clients replace any optimistic local state wholesale.
type PickMadePayload struct {
	Pick     models.DraftPick `json:"pick"`
	Snapshot Snapshot         `json:"snapshot"`
}

// TimerUpdatePayload is the authoritative per-second countdown tick for the
// current pick. Clients overwrite any locally interpolated value with it.
type TimerUpdatePayload struct {
	OverallPick      int       `json:"overall_pick"`
	ParticipantID    uuid.UUID `json:"participant_id"`
	SecondsRemaining int       `json:"seconds_remaining"`
	TickedAt         time.Time `json:"ticked_at"`
}

// ParticipantsUpdatedPayload is broadcast when any participant's presence or
// auto-pick preference changes.
type ParticipantsUpdatedPayload struct {
	Participants []models.DraftParticipant `json:"participants"`
}

// StatusChangedPayload is broadcast on every room status transition.
type StatusChangedPayload struct {
	Status   models.RoomStatus `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	Snapshot Snapshot          `json:"snapshot"`
}

// ChatMessagePayload is a room-wide chat message.
type ChatMessagePayload struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	Text          string    `json:"text"`
	SentAt        time.Time `json:"sent_at"`
}

// CommandAckPayload confirms a command that carried a client-assigned id.
// Like rejections it is delivered to the sender only, with Seq zero; replayed
// offline actions use it to learn their fate.
type CommandAckPayload struct {
	CommandID string `json:"cmd_id"`
}

// ErrorPayload carries a typed rejection or room-wide notice such as
// pick_overdue. Validation rejections are delivered to the submitting client
// only and are never part of the broadcast sequence (their Seq is zero).
// CommandID echoes the id of the command that was rejected, when it carried
// one.
type ErrorPayload struct {
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
	CommandID string `json:"cmd_id,omitempty"`
}

// New builds an event envelope with a marshaled payload. It panics only on
// unmarshalable payloads, which would be a programming error.
func New(roomID uuid.UUID, seq uint64, typ Type, ts time.Time, payload any) RoomEvent {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("events: marshal %s payload: %v", typ, err))
	}
	return RoomEvent{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Seq:       seq,
		Type:      typ,
		Timestamp: ts,
		Data:      data,
	}
}

// ParsePayload decodes the event data into the payload struct for its type.
func ParsePayload(evt RoomEvent) (any, error) {
	switch evt.Type {
	case TypeRoomJoined:
		var p RoomJoinedPayload
		return p, unmarshal(evt, &p)
	case TypePickMade:
		var p PickMadePayload
		return p, unmarshal(evt, &p)
	case TypeTimerUpdate:
		var p TimerUpdatePayload
		return p, unmarshal(evt, &p)
	case TypeParticipantsUpdated:
		var p ParticipantsUpdatedPayload
		return p, unmarshal(evt, &p)
	case TypeStatusChanged:
		var p StatusChangedPayload
		return p, unmarshal(evt, &p)
	case TypeChatMessage:
		var p ChatMessagePayload
		return p, unmarshal(evt, &p)
	case TypeCommandAck:
		var p CommandAckPayload
		return p, unmarshal(evt, &p)
	case TypeError:
		var p ErrorPayload
		return p, unmarshal(evt, &p)
	default:
		return nil, fmt.Errorf("unknown event type: %s", evt.Type)
	}
}

func unmarshal(evt RoomEvent, v any) error {
	if err := json.Unmarshal(evt.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", evt.Type, err)
	}
	return nil
}
