package room

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/draftlab/draftroom/go/internal/models"
)

// RegistryConfig tunes the room registry.
type RegistryConfig struct {
	// Retention is how long a completed room stays resident before
	// eviction. Completed rooms are immutable; the mirror keeps the
	// archived record.
	Retention time.Duration
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
}

// DefaultRegistryConfig returns the registry defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Retention:     15 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Registry owns every active draft room: one entry per room id, each with an
// explicit open/close lifecycle. Rooms are independent units of
// serialization and run in parallel.
type Registry struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*Room

	cfg   RegistryConfig
	clock clockwork.Clock
	sink  EventSink
}

// NewRegistry creates a room registry. sink may be nil when no relay is
// wired.
func NewRegistry(cfg RegistryConfig, clock clockwork.Clock, sink EventSink) *Registry {
	return &Registry{
		rooms: make(map[uuid.UUID]*Room),
		cfg:   cfg,
		clock: clock,
		sink:  sink,
	}
}

// Open creates a pending room from the given config.
func (reg *Registry) Open(cfg Config) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.rooms[cfg.RoomID]; ok {
		return nil, ErrRoomExists
	}
	r, err := newRoom(cfg, reg.clock, reg.sink)
	if err != nil {
		return nil, err
	}
	reg.rooms[cfg.RoomID] = r

	log.Info().
		Str("room_id", cfg.RoomID.String()).
		Str("league_id", cfg.LeagueID.String()).
		Int("participants", len(cfg.Participants)).
		Msg("draft room opened")
	return r, nil
}

// Get returns the room for the given id.
func (reg *Registry) Get(roomID uuid.UUID) (*Room, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrUnknownRoom
	}
	return r, nil
}

// Remove closes and evicts a room.
func (reg *Registry) Remove(roomID uuid.UUID) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	if ok {
		delete(reg.rooms, roomID)
	}
	reg.mu.Unlock()

	if ok {
		r.Close()
		log.Info().Str("room_id", roomID.String()).Msg("draft room evicted")
	}
}

// Len returns the number of resident rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Run sweeps completed rooms past retention until the context is cancelled.
func (reg *Registry) Run(ctx context.Context) {
	ticker := reg.clock.NewTicker(reg.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			reg.closeAll()
			return
		case <-ticker.Chan():
			reg.sweep()
		}
	}
}

func (reg *Registry) sweep() {
	now := reg.clock.Now()

	reg.mu.Lock()
	var evict []*Room
	for id, r := range reg.rooms {
		r.mu.Lock()
		done := r.status == models.RoomStatusCompleted && now.Sub(r.completedAt) >= reg.cfg.Retention
		r.mu.Unlock()
		if done {
			delete(reg.rooms, id)
			evict = append(evict, r)
		}
	}
	reg.mu.Unlock()

	for _, r := range evict {
		r.Close()
		log.Info().Str("room_id", r.id.String()).Msg("completed draft room evicted")
	}
}

func (reg *Registry) closeAll() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.rooms = make(map[uuid.UUID]*Room)
	reg.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}
