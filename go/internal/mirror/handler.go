package mirror

import (
	"context"
	"fmt"

	"github.com/draftlab/draftroom/go/internal/events"
)

// Handler applies relayed room events to the store. Only pick and status
// events carry durable state; the rest are acknowledged untouched.
func (s *Store) Handler() func(ctx context.Context, event events.RoomEvent) error {
	return func(ctx context.Context, event events.RoomEvent) error {
		payload, err := events.ParsePayload(event)
		if err != nil {
			return fmt.Errorf("parse payload: %w", err)
		}

		switch p := payload.(type) {
		case events.PickMadePayload:
			if err := s.InsertPick(ctx, p.Pick); err != nil {
				return err
			}
			return s.UpsertRoomStatus(ctx, event.RoomID, p.Snapshot.LeagueID, p.Snapshot.Status, event.Seq)

		case events.StatusChangedPayload:
			return s.UpsertRoomStatus(ctx, event.RoomID, p.Snapshot.LeagueID, p.Snapshot.Status, event.Seq)

		default:
			return nil
		}
	}
}
