package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-poll-sync/internal/domain"
)

// TransitionHistory abstracts audit persistence for derived lifecycle
// transitions. The table is an append-only post-mortem record; the engine
// never reads it on the hot path.
type TransitionHistory interface {
	Record(ctx context.Context, watcherID string, ev domain.TransitionEvent) error
	ListByJob(ctx context.Context, jobID string, limit int) ([]domain.TransitionEvent, error)
	Prune(ctx context.Context, olderThan time.Duration) (deleted int64, err error)
}

type history struct {
	pool *pgxpool.Pool
}

// NewHistory wraps a pgxpool with the TransitionHistory interface.
func NewHistory(pool *pgxpool.Pool) TransitionHistory {
	return &history{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the transition_events table. Run by the `watcher migrate`
// command; safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transition_events (
			id          UUID PRIMARY KEY,
			kind        TEXT        NOT NULL,
			job_id      TEXT        NOT NULL,
			run_id      TEXT,
			error       TEXT,
			watcher_id  TEXT        NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transition_events_job_id_idx
			ON transition_events (job_id, observed_at DESC);
		CREATE INDEX IF NOT EXISTS transition_events_observed_at_idx
			ON transition_events (observed_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate transition_events: %w", err)
	}
	return nil
}

func (h *history) Record(ctx context.Context, watcherID string, ev domain.TransitionEvent) error {
	observed := ev.ObservedAt
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	_, err := h.pool.Exec(ctx, `
		INSERT INTO transition_events
			(id, kind, job_id, run_id, error, watcher_id, observed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.New().String(), string(ev.Kind), ev.JobID, ev.RunID, ev.Error,
		watcherID, observed,
	)
	if err != nil {
		return fmt.Errorf("record %s transition for job %s: %w", ev.Kind, ev.JobID, err)
	}
	return nil
}

func (h *history) ListByJob(ctx context.Context, jobID string, limit int) ([]domain.TransitionEvent, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT kind, job_id, run_id, error, observed_at
		FROM transition_events
		WHERE job_id = $1
		ORDER BY observed_at DESC
		LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []domain.TransitionEvent
	for rows.Next() {
		var ev domain.TransitionEvent
		var kind string
		if err := rows.Scan(&kind, &ev.JobID, &ev.RunID, &ev.Error, &ev.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		ev.Kind = domain.TransitionKind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (h *history) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := h.pool.Exec(ctx, `
		DELETE FROM transition_events
		WHERE observed_at < $1
	`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune transition history: %w", err)
	}
	return tag.RowsAffected(), nil
}
