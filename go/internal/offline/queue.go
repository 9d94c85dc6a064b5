package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// ErrActionFailed is returned by Replay when an action has exhausted its
// attempts. Replay stops at the failed action so later actions are not sent
// out of order; the caller inspects Failed and retries or discards.
var ErrActionFailed = errors.New("offline action failed permanently")

// Action is a client command captured while disconnected.
type Action struct {
	RoomID  uuid.UUID       `json:"room_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// QueuedAction is an Action with its queue bookkeeping.
type QueuedAction struct {
	ID        int64
	Action    Action
	Attempts  int
	Status    string
	LastError string
	QueuedAt  time.Time
}

// Queue statuses.
const (
	StatusQueued = "queued"
	StatusFailed = "failed"
)

// Config tunes replay behavior.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration // doubles per attempt
}

// DefaultConfig returns the replay defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
	}
}

// Queue is a durable FIFO of actions taken while offline, backed by a local
// SQLite file so queued actions survive a client restart. After the client
// reconnects and resyncs, Replay drains the queue in capture order.
type Queue struct {
	db    *sql.DB
	cfg   Config
	clock clockwork.Clock
}

// Open opens (or creates) the queue database at path. Use ":memory:" in
// tests.
func Open(path string, cfg Config, clock clockwork.Clock) (*Queue, error) {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open offline queue: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	q := &Queue{db: db, cfg: cfg, clock: clock}
	if err := q.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureSchema() error {
	_, err := q.db.Exec(`
        CREATE TABLE IF NOT EXISTS offline_actions (
            id          INTEGER PRIMARY KEY AUTOINCREMENT,
            room_id     TEXT NOT NULL,
            action_type TEXT NOT NULL,
            payload     BLOB NOT NULL,
            status      TEXT NOT NULL DEFAULT 'queued',
            attempts    INTEGER NOT NULL DEFAULT 0,
            last_error  TEXT NOT NULL DEFAULT '',
            queued_at   TIMESTAMP NOT NULL
        )
    `)
	if err != nil {
		return fmt.Errorf("ensure offline schema: %w", err)
	}
	return nil
}

// Enqueue appends an action to the queue.
func (q *Queue) Enqueue(ctx context.Context, action Action) error {
	_, err := q.db.ExecContext(ctx, `
        INSERT INTO offline_actions (room_id, action_type, payload, status, queued_at)
        VALUES (?, ?, ?, ?, ?)
    `, action.RoomID.String(), action.Type, []byte(action.Payload), StatusQueued, q.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue offline action: %w", err)
	}
	log.Debug().
		Str("room_id", action.RoomID.String()).
		Str("action_type", action.Type).
		Msg("queued offline action")
	return nil
}

// Pending returns the number of queued (not failed) actions.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offline_actions WHERE status = ?`, StatusQueued,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending actions: %w", err)
	}
	return n, nil
}

// Replay sends queued actions oldest-first. Each action gets up to
// MaxAttempts tries with a doubling delay between them. An action that
// exhausts its attempts is marked failed and replay stops there, preserving
// order for the actions behind it.
func (q *Queue) Replay(ctx context.Context, send func(ctx context.Context, action Action) error) error {
	for {
		qa, ok, err := q.head(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		var sendErr error
		for attempt := 0; attempt < q.cfg.MaxAttempts; attempt++ {
			if attempt > 0 {
				delay := q.cfg.RetryDelay << (attempt - 1)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-q.clock.After(delay):
				}
			}
			sendErr = send(ctx, qa.Action)
			if sendErr == nil {
				break
			}
			log.Warn().
				Err(sendErr).
				Int64("action_id", qa.ID).
				Int("attempt", attempt+1).
				Msg("offline action replay attempt failed")
		}

		if sendErr != nil {
			if err := q.markFailed(ctx, qa.ID, q.cfg.MaxAttempts, sendErr); err != nil {
				return err
			}
			return fmt.Errorf("action %d (%s): %v: %w", qa.ID, qa.Action.Type, sendErr, ErrActionFailed)
		}
		if err := q.remove(ctx, qa.ID); err != nil {
			return err
		}
	}
}

// Failed returns actions that exhausted their attempts, oldest first.
func (q *Queue) Failed(ctx context.Context) ([]QueuedAction, error) {
	return q.list(ctx, StatusFailed)
}

// Retry moves a failed action back to the queue with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `
        UPDATE offline_actions SET status = ?, attempts = 0, last_error = ''
        WHERE id = ? AND status = ?
    `, StatusQueued, id, StatusFailed)
	if err != nil {
		return fmt.Errorf("retry offline action: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("no failed action with id %d", id)
	}
	return nil
}

// Discard drops an action regardless of status.
func (q *Queue) Discard(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM offline_actions WHERE id = ?`, id,
	); err != nil {
		return fmt.Errorf("discard offline action: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

func (q *Queue) head(ctx context.Context) (QueuedAction, bool, error) {
	row := q.db.QueryRowContext(ctx, `
        SELECT id, room_id, action_type, payload, attempts, status, last_error, queued_at
        FROM offline_actions
        WHERE status = ?
        ORDER BY id
        LIMIT 1
    `, StatusQueued)

	qa, err := scanAction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return QueuedAction{}, false, nil
	}
	if err != nil {
		return QueuedAction{}, false, fmt.Errorf("read queue head: %w", err)
	}
	return qa, true, nil
}

func (q *Queue) list(ctx context.Context, status string) ([]QueuedAction, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT id, room_id, action_type, payload, attempts, status, last_error, queued_at
        FROM offline_actions
        WHERE status = ?
        ORDER BY id
    `, status)
	if err != nil {
		return nil, fmt.Errorf("list offline actions: %w", err)
	}
	defer rows.Close()

	var actions []QueuedAction
	for rows.Next() {
		qa, err := scanAction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan offline action: %w", err)
		}
		actions = append(actions, qa)
	}
	return actions, rows.Err()
}

func (q *Queue) markFailed(ctx context.Context, id int64, attempts int, cause error) error {
	if _, err := q.db.ExecContext(ctx, `
        UPDATE offline_actions SET status = ?, attempts = ?, last_error = ?
        WHERE id = ?
    `, StatusFailed, attempts, cause.Error(), id); err != nil {
		return fmt.Errorf("mark action failed: %w", err)
	}
	return nil
}

func (q *Queue) remove(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM offline_actions WHERE id = ?`, id,
	); err != nil {
		return fmt.Errorf("remove replayed action: %w", err)
	}
	return nil
}

func scanAction(scan func(dest ...any) error) (QueuedAction, error) {
	var (
		qa     QueuedAction
		roomID string
	)
	if err := scan(
		&qa.ID, &roomID, &qa.Action.Type, (*[]byte)(&qa.Action.Payload),
		&qa.Attempts, &qa.Status, &qa.LastError, &qa.QueuedAt,
	); err != nil {
		return QueuedAction{}, err
	}
	parsed, err := uuid.Parse(roomID)
	if err != nil {
		return QueuedAction{}, fmt.Errorf("parse room id: %w", err)
	}
	qa.Action.RoomID = parsed
	return qa, nil
}
