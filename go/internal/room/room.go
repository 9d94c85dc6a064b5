package room

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/draftlab/draftroom/go/internal/events"
	"github.com/draftlab/draftroom/go/internal/models"
)

// EventSink receives every committed room event for out-of-process
// consumers (the relay). Publish failures are logged, never fatal: the sink
// feed is eventually consistent and not authoritative.
type EventSink interface {
	Publish(ctx context.Context, evt events.RoomEvent) error
}

// Config describes a draft room to open.
type Config struct {
	RoomID         uuid.UUID
	LeagueID       uuid.UUID
	Settings       models.RoomSettings
	Participants   []models.DraftParticipant
	DefaultRanking []uuid.UUID // shared auto-pick fallback, best first
}

type currentTurn struct {
	round         int
	pick          int // pick number within the round
	overall       int
	participantID uuid.UUID
	deadline      time.Time
}

// Room owns all state for one active draft. Every state-mutating operation
// takes the room mutex, so operations for a room are processed one at a time
// in arrival order; different rooms are fully independent.
type Room struct {
	mu sync.Mutex

	id       uuid.UUID
	leagueID uuid.UUID
	settings models.RoomSettings
	status   models.RoomStatus

	participants []*models.DraftParticipant
	picks        []models.DraftPick
	drafted      map[uuid.UUID]bool

	current             *currentTurn
	frozenRemaining     time.Duration // countdown remainder while paused
	pausedBy            uuid.UUID     // participant whose disconnect paused the room
	pausedByCommission  bool
	completedAt         time.Time

	seq  uint64
	subs map[*Subscription]struct{}

	clock     clockwork.Clock
	turnTimer clockwork.Timer
	ticker    clockwork.Ticker
	strategy  AutoPickStrategy

	sink  EventSink
	outCh chan events.RoomEvent

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newRoom(cfg Config, clock clockwork.Clock, sink EventSink) (*Room, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	participants := make([]*models.DraftParticipant, len(cfg.Participants))
	byID := make(map[uuid.UUID]*models.DraftParticipant, len(cfg.Participants))
	for i := range cfg.Participants {
		p := cfg.Participants[i]
		participants[i] = &p
		byID[p.ID] = participants[i]
	}
	// Pick-order position comes from the configured draft order and is fixed
	// for the room's lifetime.
	for i, id := range cfg.Settings.DraftOrder {
		byID[id].Position = i + 1
	}

	r := &Room{
		id:           cfg.RoomID,
		leagueID:     cfg.LeagueID,
		settings:     cfg.Settings,
		status:       models.RoomStatusPending,
		participants: participants,
		drafted:      make(map[uuid.UUID]bool),
		subs:         make(map[*Subscription]struct{}),
		clock:        clock,
		strategy:     NewQueueThenRankingStrategy(cfg.DefaultRanking),
		sink:         sink,
		outCh:        make(chan events.RoomEvent, 256),
		stopCh:       make(chan struct{}),
	}
	r.turnTimer = clock.NewTimer(time.Hour)
	r.turnTimer.Stop()
	r.ticker = clock.NewTicker(time.Second)

	go r.run()
	return r, nil
}

func validateConfig(cfg Config) error {
	if cfg.RoomID == uuid.Nil {
		return fmt.Errorf("room id is required")
	}
	if cfg.Settings.Rounds <= 0 {
		return fmt.Errorf("rounds must be greater than 0")
	}
	if cfg.Settings.TimePerPickSec <= 0 {
		return fmt.Errorf("time per pick must be greater than 0")
	}
	if len(cfg.Settings.DraftOrder) == 0 {
		return fmt.Errorf("draft order is empty")
	}
	if len(cfg.Settings.DraftOrder) != len(cfg.Participants) {
		return fmt.Errorf("draft order has %d entries for %d participants",
			len(cfg.Settings.DraftOrder), len(cfg.Participants))
	}
	ids := make(map[uuid.UUID]bool, len(cfg.Participants))
	for _, p := range cfg.Participants {
		ids[p.ID] = true
	}
	for _, id := range cfg.Settings.DraftOrder {
		if !ids[id] {
			return fmt.Errorf("draft order references unknown participant %s", id)
		}
	}
	return nil
}

// ID returns the room id.
func (r *Room) ID() uuid.UUID { return r.id }

// Status returns the current room status.
func (r *Room) Status() models.RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// run owns the room's timers and relays committed events to the sink. It is
// the only goroutine the room spawns.
func (r *Room) run() {
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.turnTimer.Chan():
			r.handleExpiry()
		case <-r.ticker.Chan():
			r.handleTick()
		case evt := <-r.outCh:
			if r.sink == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.sink.Publish(ctx, evt); err != nil {
				log.Error().
					Err(err).
					Str("room_id", r.id.String()).
					Str("event_type", string(evt.Type)).
					Msg("failed to publish event to sink")
			}
			cancel()
		}
	}
}

// Close tears the room down. Pending subscriptions are cancelled.
func (r *Room) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.turnTimer.Stop()
		r.ticker.Stop()

		r.mu.Lock()
		defer r.mu.Unlock()
		for sub := range r.subs {
			sub.close()
		}
		r.subs = make(map[*Subscription]struct{})
	})
}

// Start moves a pending room to active and arms the first turn's countdown.
func (r *Room) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != models.RoomStatusPending {
		return fmt.Errorf("room %s cannot start from status %s", r.id, r.status)
	}
	r.status = models.RoomStatusActive
	r.armTurnLocked(1)
	r.emitStatusChangedLocked("draft started")

	log.Info().
		Str("room_id", r.id.String()).
		Int("rounds", r.settings.Rounds).
		Int("participants", len(r.participants)).
		Msg("draft room started")
	return nil
}

// armTurnLocked points the room at the given overall pick and restarts the
// countdown at the full time-per-pick.
func (r *Room) armTurnLocked(overall int) {
	pickerID, _ := PickerAt(r.settings, overall)
	n := len(r.settings.DraftOrder)
	d := time.Duration(r.settings.TimePerPickSec) * time.Second
	r.current = &currentTurn{
		round:         RoundOf(overall, n),
		pick:          PickInRound(overall, n),
		overall:       overall,
		participantID: pickerID,
		deadline:      r.clock.Now().Add(d),
	}
	r.turnTimer.Stop()
	r.turnTimer.Reset(d)
}

// Join marks the participant online and returns a snapshot plus a live event
// subscription. Snapshot and subscription are created under the same lock
// acquisition, so the subscription carries exactly the events that follow the
// snapshot: a (re)joining client never observes a gap.
func (r *Room) Join(participantID uuid.UUID) (events.Snapshot, *Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.participantLocked(participantID)
	if p == nil {
		return events.Snapshot{}, nil, ErrUnknownParticipant
	}
	p.IsOnline = true
	p.LastActiveAt = r.clock.Now()
	r.emitParticipantsUpdatedLocked()

	// Resume a room that was paused solely because this participant dropped.
	if r.status == models.RoomStatusPaused && !r.pausedByCommission && r.pausedBy == participantID {
		r.resumeLocked("participant reconnected")
	}

	sub := newSubscription(r)
	r.subs[sub] = struct{}{}
	return r.snapshotLocked(), sub, nil
}

// Disconnect marks the participant offline and tears down their
// subscription. A disconnect while the participant holds the turn pauses the
// room when the settings say so; otherwise the countdown keeps running toward
// auto-pick.
func (r *Room) Disconnect(participantID uuid.UUID, sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub != nil {
		r.dropSubLocked(sub)
	}
	p := r.participantLocked(participantID)
	if p == nil {
		return
	}
	p.IsOnline = false
	p.LastActiveAt = r.clock.Now()
	r.emitParticipantsUpdatedLocked()

	if r.status == models.RoomStatusActive &&
		r.current != nil && r.current.participantID == participantID &&
		r.settings.PauseOnDisconnect {
		r.pauseLocked(participantID, false, "picker disconnected")
	}
}

// MakePick validates and commits a pick for the submitting participant.
// Validation and mutation happen under the room lock, so two
// near-simultaneous submissions for the same turn resolve deterministically:
// exactly one commits, the other observes a stale-turn or already-drafted
// rejection.
func (r *Room) MakePick(participantID, playerID uuid.UUID, expectedPickNumber int) (*models.DraftPick, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participantLocked(participantID) == nil {
		return nil, ErrUnknownParticipant
	}
	return r.commitPickLocked(participantID, playerID, expectedPickNumber, models.PickOriginUser)
}

func (r *Room) commitPickLocked(participantID, playerID uuid.UUID, expected int, origin models.PickOrigin) (*models.DraftPick, error) {
	switch r.status {
	case models.RoomStatusActive:
	case models.RoomStatusCompleted:
		return nil, ErrRoomCompleted
	default:
		return nil, ErrRoomNotActive
	}
	// The stale check runs first: a submission that loses a race for its own
	// turn sees the turn advance, and stale_turn tells it the rejection came
	// from racing rather than never having had the turn. Zero skips the check;
	// offline-captured picks are replayed without knowing the current turn.
	if expected != 0 && expected != r.current.overall {
		return nil, ErrStaleTurn
	}
	if r.current.participantID != participantID {
		return nil, ErrWrongTurn
	}
	if r.drafted[playerID] {
		return nil, ErrAlreadyDrafted
	}

	pick := models.DraftPick{
		ID:            uuid.New(),
		RoomID:        r.id,
		Round:         r.current.round,
		Pick:          r.current.pick,
		OverallPick:   r.current.overall,
		ParticipantID: participantID,
		PlayerID:      playerID,
		Origin:        origin,
		PickedAt:      r.clock.Now(),
	}
	r.picks = append(r.picks, pick)
	r.drafted[playerID] = true

	if len(r.picks) == r.settings.TotalPicks() {
		r.current = nil
		r.turnTimer.Stop()
		r.status = models.RoomStatusCompleted
		r.completedAt = r.clock.Now()
		r.ticker.Stop()
	} else {
		r.armTurnLocked(pick.OverallPick + 1)
	}

	r.seq++
	r.fanoutLocked(events.New(r.id, r.seq, events.TypePickMade, pick.PickedAt, events.PickMadePayload{
		Pick:     pick,
		Snapshot: r.snapshotLocked(),
	}))
	if r.status == models.RoomStatusCompleted {
		r.emitStatusChangedLocked("draft completed")
	}

	log.Info().
		Str("room_id", r.id.String()).
		Str("participant_id", participantID.String()).
		Str("player_id", playerID.String()).
		Int("overall_pick", pick.OverallPick).
		Str("origin", string(origin)).
		Msg("pick committed")
	return &pick, nil
}

// SetAutoPick updates the participant's auto-pick preference queue.
func (r *Room) SetAutoPick(participantID uuid.UUID, enabled bool, queue []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.participantLocked(participantID)
	if p == nil {
		return ErrUnknownParticipant
	}
	p.AutoPick = models.AutoPickPreference{Enabled: enabled, Queue: append([]uuid.UUID(nil), queue...)}
	r.emitParticipantsUpdatedLocked()
	return nil
}

// SetPaused pauses or resumes the room. Commissioner-privileged.
func (r *Room) SetPaused(participantID uuid.UUID, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.participantLocked(participantID)
	if p == nil {
		return ErrUnknownParticipant
	}
	if !p.IsCommissioner {
		return ErrNotCommissioner
	}

	if paused {
		if r.status != models.RoomStatusActive {
			return ErrRoomNotActive
		}
		r.pauseLocked(uuid.Nil, true, "paused by commissioner")
		return nil
	}
	if r.status != models.RoomStatusPaused {
		return ErrRoomNotActive
	}
	r.resumeLocked("resumed by commissioner")
	return nil
}

// pauseLocked freezes the countdown, preserving the remaining time for
// resume.
func (r *Room) pauseLocked(by uuid.UUID, commissioner bool, reason string) {
	r.status = models.RoomStatusPaused
	r.pausedBy = by
	r.pausedByCommission = commissioner
	if r.current != nil {
		r.frozenRemaining = r.current.deadline.Sub(r.clock.Now())
		if r.frozenRemaining < 0 {
			r.frozenRemaining = 0
		}
		r.turnTimer.Stop()
	}
	r.emitStatusChangedLocked(reason)
}

// resumeLocked restarts the countdown from the frozen remainder.
func (r *Room) resumeLocked(reason string) {
	r.status = models.RoomStatusActive
	r.pausedBy = uuid.Nil
	r.pausedByCommission = false
	if r.current != nil {
		r.current.deadline = r.clock.Now().Add(r.frozenRemaining)
		r.turnTimer.Stop()
		r.turnTimer.Reset(r.frozenRemaining)
	}
	r.emitStatusChangedLocked(reason)
}

// Chat broadcasts a chat message to the room.
func (r *Room) Chat(participantID uuid.UUID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.participantLocked(participantID)
	if p == nil {
		return ErrUnknownParticipant
	}
	r.seq++
	r.fanoutLocked(events.New(r.id, r.seq, events.TypeChatMessage, r.clock.Now(), events.ChatMessagePayload{
		ParticipantID: participantID,
		DisplayName:   p.DisplayName,
		Text:          text,
		SentAt:        r.clock.Now(),
	}))
	return nil
}

// Snapshot returns a full copy of the room state.
func (r *Room) Snapshot() events.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// handleExpiry fires when the current pick's countdown reaches zero. It
// either commits an auto-pick for the picker or, with auto-pick disabled,
// broadcasts a pick-overdue notice and leaves the turn pending.
func (r *Room) handleExpiry() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != models.RoomStatusActive || r.current == nil {
		return
	}
	// A commit can rearm the timer while an old fire is still queued.
	if r.clock.Now().Before(r.current.deadline) {
		return
	}

	picker := r.participantLocked(r.current.participantID)

	if !r.settings.AutoPickEnabled {
		r.seq++
		r.fanoutLocked(events.New(r.id, r.seq, events.TypeError, r.clock.Now(), events.ErrorPayload{
			Code:   "pick_overdue",
			Detail: fmt.Sprintf("pick %d is overdue", r.current.overall),
		}))
		log.Warn().
			Str("room_id", r.id.String()).
			Int("overall_pick", r.current.overall).
			Msg("pick overdue, auto-pick disabled")
		return
	}

	playerID, err := r.strategy.Select(picker, r.drafted)
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", r.id.String()).
			Str("participant_id", picker.ID.String()).
			Msg("auto-pick strategy failed")
		return
	}
	if _, err := r.commitPickLocked(picker.ID, playerID, r.current.overall, models.PickOriginAuto); err != nil {
		log.Error().
			Err(err).
			Str("room_id", r.id.String()).
			Msg("auto-pick commit failed")
	}
}

// handleTick broadcasts the authoritative countdown once per second while a
// turn is running.
func (r *Room) handleTick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != models.RoomStatusActive || r.current == nil {
		return
	}
	now := r.clock.Now()
	r.seq++
	r.fanoutLocked(events.New(r.id, r.seq, events.TypeTimerUpdate, now, events.TimerUpdatePayload{
		OverallPick:      r.current.overall,
		ParticipantID:    r.current.participantID,
		SecondsRemaining: secondsRemaining(r.current.deadline, now),
		TickedAt:         now,
	}))
}

func secondsRemaining(deadline, now time.Time) int {
	rem := int(math.Ceil(deadline.Sub(now).Seconds()))
	if rem < 0 {
		return 0
	}
	return rem
}

func (r *Room) participantLocked(id uuid.UUID) *models.DraftParticipant {
	for _, p := range r.participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) emitParticipantsUpdatedLocked() {
	r.seq++
	r.fanoutLocked(events.New(r.id, r.seq, events.TypeParticipantsUpdated, r.clock.Now(), events.ParticipantsUpdatedPayload{
		Participants: r.copyParticipantsLocked(),
	}))
}

func (r *Room) emitStatusChangedLocked(reason string) {
	r.seq++
	r.fanoutLocked(events.New(r.id, r.seq, events.TypeStatusChanged, r.clock.Now(), events.StatusChangedPayload{
		Status:   r.status,
		Reason:   reason,
		Snapshot: r.snapshotLocked(),
	}))
}

// fanoutLocked delivers an event to every subscriber in commit order and
// queues it for the sink. A subscriber whose buffer is full is cancelled; it
// must rejoin and resync from a snapshot.
func (r *Room) fanoutLocked(evt events.RoomEvent) {
	for sub := range r.subs {
		select {
		case sub.ch <- evt:
		default:
			log.Warn().
				Str("room_id", r.id.String()).
				Msg("subscriber buffer full, cancelling subscription")
			r.dropSubLocked(sub)
		}
	}
	select {
	case r.outCh <- evt:
	default:
		log.Warn().
			Str("room_id", r.id.String()).
			Str("event_type", string(evt.Type)).
			Msg("sink queue full, dropping event")
	}
}

func (r *Room) dropSubLocked(sub *Subscription) {
	if _, ok := r.subs[sub]; ok {
		delete(r.subs, sub)
		sub.close()
	}
}

func (r *Room) copyParticipantsLocked() []models.DraftParticipant {
	out := make([]models.DraftParticipant, len(r.participants))
	for i, p := range r.participants {
		cp := *p
		cp.AutoPick.Queue = append([]uuid.UUID(nil), p.AutoPick.Queue...)
		out[i] = cp
	}
	return out
}

func (r *Room) snapshotLocked() events.Snapshot {
	snap := events.Snapshot{
		RoomID:       r.id,
		LeagueID:     r.leagueID,
		Status:       r.status,
		Settings:     r.settings,
		Participants: r.copyParticipantsLocked(),
		Picks:        append([]models.DraftPick(nil), r.picks...),
		LastSeq:      r.seq,
		TakenAt:      r.clock.Now(),
	}
	if r.current != nil {
		remaining := secondsRemaining(r.current.deadline, r.clock.Now())
		if r.status == models.RoomStatusPaused {
			remaining = secondsRemaining(r.clock.Now().Add(r.frozenRemaining), r.clock.Now())
		}
		snap.CurrentPick = &events.CurrentPick{
			Round:            r.current.round,
			Pick:             r.current.pick,
			OverallPick:      r.current.overall,
			ParticipantID:    r.current.participantID,
			SecondsRemaining: remaining,
		}
	}
	return snap
}
