//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-poll-sync/internal/domain"
	"github.com/ramiqadoumi/go-poll-sync/internal/postgres"
)

// newHistory creates a history repository connected to the test Postgres
// container and truncates the table on cleanup.
func newHistory(t *testing.T) postgres.TransitionHistory {
	t.Helper()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE transition_events") //nolint:errcheck
		pool.Close()
	})
	return postgres.NewHistory(pool)
}

func transition(kind domain.TransitionKind, jobID, runID string, at time.Time) domain.TransitionEvent {
	return domain.TransitionEvent{Kind: kind, JobID: jobID, RunID: runID, ObservedAt: at}
}

func TestPostgres_Record_ListByJob(t *testing.T) {
	repo := newHistory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Record(ctx, "watcher-1",
		transition(domain.TransitionStarted, "job-a", "r1", now.Add(-2*time.Minute))))
	require.NoError(t, repo.Record(ctx, "watcher-1",
		transition(domain.TransitionCompleted, "job-a", "r1", now.Add(-time.Minute))))
	require.NoError(t, repo.Record(ctx, "watcher-1",
		transition(domain.TransitionStarted, "job-b", "r2", now)))

	got, err := repo.ListByJob(ctx, "job-a", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Most recent first.
	assert.Equal(t, domain.TransitionCompleted, got[0].Kind)
	assert.Equal(t, domain.TransitionStarted, got[1].Kind)
	assert.Equal(t, "r1", got[0].RunID)
}

func TestPostgres_ListByJob_RespectsLimit(t *testing.T) {
	repo := newHistory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Record(ctx, "watcher-1",
			transition(domain.TransitionStarted, "job-a", "", now.Add(time.Duration(i)*time.Second))))
	}

	got, err := repo.ListByJob(ctx, "job-a", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestPostgres_ListByJob_Empty(t *testing.T) {
	repo := newHistory(t)

	got, err := repo.ListByJob(context.Background(), "no-such-job", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPostgres_Record_FailedCarriesError(t *testing.T) {
	repo := newHistory(t)
	ctx := context.Background()

	ev := domain.TransitionEvent{
		Kind:       domain.TransitionFailed,
		JobID:      "job-a",
		Error:      "exit status 1",
		ObservedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Record(ctx, "watcher-1", ev))

	got, err := repo.ListByJob(ctx, "job-a", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "exit status 1", got[0].Error)
}

func TestPostgres_Prune(t *testing.T) {
	repo := newHistory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Record(ctx, "watcher-1",
		transition(domain.TransitionStarted, "job-old", "r1", now.Add(-48*time.Hour))))
	require.NoError(t, repo.Record(ctx, "watcher-1",
		transition(domain.TransitionStarted, "job-new", "r2", now)))

	deleted, err := repo.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	old, err := repo.ListByJob(ctx, "job-old", 10)
	require.NoError(t, err)
	assert.Empty(t, old)

	fresh, err := repo.ListByJob(ctx, "job-new", 10)
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}
