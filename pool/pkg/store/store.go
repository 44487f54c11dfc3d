// Package store persists the pool's event journal and state snapshots in
// PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/revpool/pool/pkg/metrics"
	"github.com/malbeclabs/revpool/pool/pkg/pool"
	"github.com/malbeclabs/revpool/utils/pkg/retry"
)

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Retry  retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Store implements pool.Journal on top of PostgreSQL. Each Append writes the
// event and the resulting snapshot in one transaction.
type Store struct {
	log *slog.Logger
	cfg Config
}

// Record is a journaled event with its sequence number.
type Record struct {
	Seq   int64      `json:"seq"`
	Event pool.Event `json:"event"`
}

// Cursor is the last history revision a sink has written.
type Cursor struct {
	Sink      string    `json:"sink"`
	RoundID   uint64    `json:"round_id"`
	Revision  int       `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

var _ pool.Journal = (*Store)(nil)

const insertEventSQL = `
INSERT INTO pool_events (event_id, kind, caller, round_id, day, amount, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8)
ON CONFLICT (event_id) DO UPDATE SET event_id = EXCLUDED.event_id
RETURNING seq`

const upsertSnapshotSQL = `
INSERT INTO pool_snapshots (id, event_seq, version, state, updated_at)
VALUES (1, $1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    event_seq  = EXCLUDED.event_seq,
    version    = EXCLUDED.version,
    state      = EXCLUDED.state,
    updated_at = EXCLUDED.updated_at`

// Append journals ev and replaces the stored snapshot with st. Appending the
// same event twice is a no-op for the journal.
func (s *Store) Append(ctx context.Context, ev pool.Event, st pool.State) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	state, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	var amount *string
	if ev.Amount != nil {
		a := ev.Amount.String()
		amount = &a
	}

	return retry.Do(ctx, s.cfg.Retry, func() error {
		start := time.Now()
		err := pgx.BeginFunc(ctx, s.cfg.Pool, func(tx pgx.Tx) error {
			var seq int64
			if err := tx.QueryRow(ctx, insertEventSQL,
				ev.ID, string(ev.Kind), ev.Caller.Hex(), int64(ev.RoundID), ev.Day, amount, payload, ev.At,
			).Scan(&seq); err != nil {
				return fmt.Errorf("failed to insert event: %w", err)
			}
			if _, err := tx.Exec(ctx, upsertSnapshotSQL, seq, st.Version, state, ev.At); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
			return nil
		})
		metrics.RecordDatabaseQuery(time.Since(start), err)
		if err != nil {
			s.log.Warn("journal append failed", "event", ev.ID, "kind", ev.Kind, "error", err)
		}
		return err
	})
}

// LoadLatest returns the most recent snapshot. The boolean is false when no
// snapshot has been written yet.
func (s *Store) LoadLatest(ctx context.Context) (pool.State, bool, error) {
	start := time.Now()
	var raw []byte
	err := s.cfg.Pool.QueryRow(ctx, `SELECT state FROM pool_snapshots WHERE id = 1`).Scan(&raw)
	metrics.RecordDatabaseQuery(time.Since(start), ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return pool.State{}, false, nil
	}
	if err != nil {
		return pool.State{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var st pool.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return pool.State{}, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return st, true, nil
}

// Events returns up to limit journaled events with a sequence number greater
// than after, oldest first.
func (s *Store) Events(ctx context.Context, after int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	start := time.Now()
	rows, err := s.cfg.Pool.Query(ctx,
		`SELECT seq, payload FROM pool_events WHERE seq > $1 ORDER BY seq LIMIT $2`, after, limit)
	if err != nil {
		metrics.RecordDatabaseQuery(time.Since(start), err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var (
			rec Record
			raw []byte
		)
		if err := row.Scan(&rec.Seq, &raw); err != nil {
			return Record{}, err
		}
		if err := json.Unmarshal(raw, &rec.Event); err != nil {
			return Record{}, fmt.Errorf("failed to decode event %d: %w", rec.Seq, err)
		}
		return rec, nil
	})
	metrics.RecordDatabaseQuery(time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return records, nil
}

// SaveCursor records how far sink has exported.
func (s *Store) SaveCursor(ctx context.Context, c Cursor) error {
	return retry.Do(ctx, s.cfg.Retry, func() error {
		start := time.Now()
		_, err := s.cfg.Pool.Exec(ctx, `
INSERT INTO export_cursors (sink, round_id, revision, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (sink) DO UPDATE SET
    round_id   = EXCLUDED.round_id,
    revision   = EXCLUDED.revision,
    updated_at = EXCLUDED.updated_at`,
			c.Sink, int64(c.RoundID), c.Revision, c.UpdatedAt)
		metrics.RecordDatabaseQuery(time.Since(start), err)
		return err
	})
}

// Cursor returns the saved cursor for sink.
func (s *Store) Cursor(ctx context.Context, sink string) (Cursor, bool, error) {
	start := time.Now()
	var (
		c       = Cursor{Sink: sink}
		roundID int64
	)
	err := s.cfg.Pool.QueryRow(ctx,
		`SELECT round_id, revision, updated_at FROM export_cursors WHERE sink = $1`, sink,
	).Scan(&roundID, &c.Revision, &c.UpdatedAt)
	metrics.RecordDatabaseQuery(time.Since(start), ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, fmt.Errorf("failed to load cursor: %w", err)
	}
	c.RoundID = uint64(roundID)
	return c, true, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.cfg.Pool.Ping(ctx)
}

func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}
