package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/draftlab/draftroom/go/internal/models"
)

// Store persists the durable mirror of draft results in Postgres. Picks are
// keyed by (room_id, overall_pick), so replayed relay events are idempotent.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool against the given DSN.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the mirror tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS draft_rooms (
            room_id      UUID PRIMARY KEY,
            league_id    UUID NOT NULL,
            status       TEXT NOT NULL,
            last_seq     BIGINT NOT NULL DEFAULT 0,
            updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
        );

        CREATE TABLE IF NOT EXISTS draft_picks (
            id             UUID NOT NULL,
            room_id        UUID NOT NULL,
            round          INT NOT NULL,
            pick           INT NOT NULL,
            overall_pick   INT NOT NULL,
            participant_id UUID NOT NULL,
            player_id      UUID NOT NULL,
            origin         TEXT NOT NULL,
            picked_at      TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (room_id, overall_pick)
        );
    `)
	if err != nil {
		return fmt.Errorf("ensure mirror schema: %w", err)
	}
	return nil
}

// InsertPick records a committed pick. Conflicts on (room_id, overall_pick)
// are ignored so relay redeliveries are harmless.
func (s *Store) InsertPick(ctx context.Context, pick models.DraftPick) error {
	cmdTag, err := s.pool.Exec(ctx, `
        INSERT INTO draft_picks (
            id, room_id, round, pick, overall_pick,
            participant_id, player_id, origin, picked_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (room_id, overall_pick) DO NOTHING
    `,
		pick.ID, pick.RoomID, pick.Round, pick.Pick, pick.OverallPick,
		pick.ParticipantID, pick.PlayerID, string(pick.Origin), pick.PickedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pick: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		log.Debug().
			Str("room_id", pick.RoomID.String()).
			Int("overall_pick", pick.OverallPick).
			Msg("pick already mirrored, skipping")
	}
	return nil
}

// UpsertRoomStatus records the latest observed room status and sequence.
func (s *Store) UpsertRoomStatus(ctx context.Context, roomID, leagueID uuid.UUID, status models.RoomStatus, lastSeq uint64) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO draft_rooms (room_id, league_id, status, last_seq, updated_at)
        VALUES ($1, $2, $3, $4, now())
        ON CONFLICT (room_id) DO UPDATE SET
            status     = EXCLUDED.status,
            last_seq   = GREATEST(draft_rooms.last_seq, EXCLUDED.last_seq),
            updated_at = now()
    `, roomID, leagueID, string(status), int64(lastSeq))
	if err != nil {
		return fmt.Errorf("upsert room status: %w", err)
	}
	return nil
}

// PicksByRoom returns the mirrored picks for a room in draft order.
func (s *Store) PicksByRoom(ctx context.Context, roomID uuid.UUID) ([]models.DraftPick, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, room_id, round, pick, overall_pick,
               participant_id, player_id, origin, picked_at
        FROM draft_picks
        WHERE room_id = $1
        ORDER BY overall_pick
    `, roomID)
	if err != nil {
		return nil, fmt.Errorf("query picks: %w", err)
	}
	defer rows.Close()

	var picks []models.DraftPick
	for rows.Next() {
		var (
			p      models.DraftPick
			origin string
			ts     time.Time
		)
		if err := rows.Scan(
			&p.ID, &p.RoomID, &p.Round, &p.Pick, &p.OverallPick,
			&p.ParticipantID, &p.PlayerID, &origin, &ts,
		); err != nil {
			return nil, fmt.Errorf("scan pick: %w", err)
		}
		p.Origin = models.PickOrigin(origin)
		p.PickedAt = ts
		picks = append(picks, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate picks: %w", err)
	}
	return picks, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
