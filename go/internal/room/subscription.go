package room

import (
	"sync"

	"github.com/draftlab/draftroom/go/internal/events"
)

const subscriptionBuffer = 128

// Subscription is a live, ordered feed of one room's events. Events arrive
// in commit order with no reordering; if the consumer falls behind the
// buffer the room cancels the subscription and the consumer must rejoin for
// a fresh snapshot.
type Subscription struct {
	ch   chan events.RoomEvent
	room *Room
	once sync.Once
}

func newSubscription(r *Room) *Subscription {
	return &Subscription{
		ch:   make(chan events.RoomEvent, subscriptionBuffer),
		room: r,
	}
}

// Events returns the ordered event channel. It is closed when the
// subscription is cancelled.
func (s *Subscription) Events() <-chan events.RoomEvent {
	return s.ch
}

// Cancel detaches the subscription from the room. Safe to call more than
// once and has no effect on other subscribers.
func (s *Subscription) Cancel() {
	s.room.mu.Lock()
	defer s.room.mu.Unlock()
	s.room.dropSubLocked(s)
}

func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.ch)
	})
}
