package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draftlab/draftroom/go/internal/events"
	"github.com/draftlab/draftroom/go/internal/models"
)

// ErrSequenceGap is returned by Apply when an event arrives out of order.
// The view marks itself stale; the caller must rejoin for a fresh snapshot.
var ErrSequenceGap = errors.New("event sequence gap detected")

// ErrNoSnapshot is returned when events arrive before any snapshot was
// adopted.
var ErrNoSnapshot = errors.New("no snapshot adopted yet")

// pendingPick is an optimistic pick awaiting server confirmation.
type pendingPick struct {
	PlayerID    uuid.UUID
	OverallPick int
}

// RoomView is the client-side mirror of a draft room. It adopts a snapshot
// on join, then applies the broadcast sequence in order. Server state always
// wins: any event carrying a snapshot replaces local state wholesale, which
// also rolls back optimistic picks the server rejected.
type RoomView struct {
	mu            sync.Mutex
	participantID uuid.UUID
	snap          *events.Snapshot
	pending       *pendingPick
	needsResync   bool
}

// NewRoomView builds a view for the given participant.
func NewRoomView(participantID uuid.UUID) *RoomView {
	return &RoomView{participantID: participantID}
}

// AdoptSnapshot replaces all local state with the server's snapshot and
// clears any resync flag and optimistic pick.
func (v *RoomView) AdoptSnapshot(snap events.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.adoptLocked(snap)
}

func (v *RoomView) adoptLocked(snap events.Snapshot) {
	v.snap = &snap
	v.pending = nil
	v.needsResync = false
}

// Apply folds one event into the view. Events at or below the current
// sequence are dropped as duplicates. A gap marks the view stale and returns
// ErrSequenceGap; every later event is rejected until a snapshot is adopted.
func (v *RoomView) Apply(evt events.RoomEvent) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if evt.Type == events.TypeRoomJoined {
		var p events.RoomJoinedPayload
		payload, err := events.ParsePayload(evt)
		if err != nil {
			return err
		}
		p = payload.(events.RoomJoinedPayload)
		v.adoptLocked(p.Snapshot)
		return nil
	}

	// Rejections are addressed to this client and sit outside the broadcast
	// sequence. They roll back whatever optimistic state produced them.
	if evt.Type == events.TypeError && evt.Seq == 0 {
		v.pending = nil
		return nil
	}

	if v.needsResync {
		return ErrSequenceGap
	}
	if v.snap == nil {
		return ErrNoSnapshot
	}
	if evt.Seq <= v.snap.LastSeq {
		return nil // duplicate
	}
	if evt.Seq != v.snap.LastSeq+1 {
		v.needsResync = true
		return fmt.Errorf("expected seq %d, got %d: %w", v.snap.LastSeq+1, evt.Seq, ErrSequenceGap)
	}

	payload, err := events.ParsePayload(evt)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case events.PickMadePayload:
		v.adoptLocked(p.Snapshot)

	case events.StatusChangedPayload:
		v.adoptLocked(p.Snapshot)

	case events.TimerUpdatePayload:
		if v.snap.CurrentPick != nil && v.snap.CurrentPick.OverallPick == p.OverallPick {
			v.snap.CurrentPick.SecondsRemaining = p.SecondsRemaining
		}
		v.snap.LastSeq = evt.Seq

	case events.ParticipantsUpdatedPayload:
		v.snap.Participants = p.Participants
		v.snap.LastSeq = evt.Seq

	case events.ChatMessagePayload, events.ErrorPayload:
		v.snap.LastSeq = evt.Seq

	default:
		v.snap.LastSeq = evt.Seq
	}
	return nil
}

// PredictPick optimistically records a pick by this participant before the
// server confirms it. It returns the overall pick number to send with the
// command. The prediction is discarded when any snapshot-carrying event or
// rejection arrives.
func (v *RoomView) PredictPick(playerID uuid.UUID) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.snap == nil {
		return 0, ErrNoSnapshot
	}
	if v.snap.CurrentPick == nil || v.snap.CurrentPick.ParticipantID != v.participantID {
		return 0, errors.New("not this participant's turn")
	}
	v.pending = &pendingPick{
		PlayerID:    playerID,
		OverallPick: v.snap.CurrentPick.OverallPick,
	}
	return v.snap.CurrentPick.OverallPick, nil
}

// Picks returns the confirmed picks plus any optimistic pick overlay.
func (v *RoomView) Picks() []models.DraftPick {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.snap == nil {
		return nil
	}
	picks := make([]models.DraftPick, len(v.snap.Picks))
	copy(picks, v.snap.Picks)
	if v.pending != nil && v.snap.CurrentPick != nil {
		picks = append(picks, models.DraftPick{
			RoomID:        v.snap.RoomID,
			Round:         v.snap.CurrentPick.Round,
			Pick:          v.snap.CurrentPick.Pick,
			OverallPick:   v.pending.OverallPick,
			ParticipantID: v.participantID,
			PlayerID:      v.pending.PlayerID,
			Origin:        models.PickOriginUser,
			PickedAt:      time.Now(),
		})
	}
	return picks
}

// NeedsResync reports whether a sequence gap has made the view stale.
func (v *RoomView) NeedsResync() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.needsResync
}

// LastSeq returns the sequence number of the last applied event.
func (v *RoomView) LastSeq() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snap == nil {
		return 0
	}
	return v.snap.LastSeq
}

// Snapshot returns a copy of the current confirmed state, without the
// optimistic overlay. It returns false if no snapshot was adopted yet.
func (v *RoomView) Snapshot() (events.Snapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snap == nil {
		return events.Snapshot{}, false
	}
	snap := *v.snap
	if v.snap.CurrentPick != nil {
		cp := *v.snap.CurrentPick
		snap.CurrentPick = &cp
	}
	snap.Participants = append([]models.DraftParticipant(nil), v.snap.Participants...)
	snap.Picks = append([]models.DraftPick(nil), v.snap.Picks...)
	return snap, true
}
