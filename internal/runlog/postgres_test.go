package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"marketlake/internal/domain"
)

// setupTestDB starts a Postgres container with the runlog schema applied.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("marketlake_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	require.NoError(t, Migrate(ctx, pool), "failed to apply schema")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return pool, cleanup
}

func TestPostgresStore_InsertGetRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := NewPostgresStore(pool)
	start := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	run := sampleRun("pg-run-001", "equity_daily", start)

	require.NoError(t, store.Insert(ctx, run))

	got, err := store.GetByID(ctx, "pg-run-001")
	require.NoError(t, err)
	require.Equal(t, "equity_daily", got.Pipeline)
	require.Equal(t, domain.RunSuccess, got.Status)
	require.Equal(t, map[string]string{"date": "2024-01-15"}, got.Parameters)
	require.Len(t, got.Steps, 2)
	require.Equal(t, int64(2147), got.Steps[1].Rows)
	require.True(t, got.StartTime.Equal(start))
	require.True(t, got.EndTime.Equal(start.Add(90*time.Second)))
}

func TestPostgresStore_DuplicateRunID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := NewPostgresStore(pool)
	run := sampleRun("pg-run-dup", "equity_daily", time.Now().UTC())

	require.NoError(t, store.Insert(ctx, run))
	require.ErrorIs(t, store.Insert(ctx, run), ErrDuplicateRun)
}

func TestPostgresStore_InFlightRunHasNoEndTime(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := NewPostgresStore(pool)
	start := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)

	run := sampleRun("pg-run-flight", "option_chain", start)
	run.Status = ""
	run.EndTime = time.Time{}
	run.Steps = nil
	require.NoError(t, store.Insert(ctx, run))

	got, err := store.GetByID(ctx, "pg-run-flight")
	require.NoError(t, err)
	require.True(t, got.EndTime.IsZero(), "in-flight run must read back with a zero end time")

	run.Status = domain.RunSuccess
	run.EndTime = start.Add(time.Minute)
	run.Steps = []domain.StepMetric{{Name: "fetch", Rows: 120, DurationMs: 900, Status: domain.StepOK}}
	require.NoError(t, store.Update(ctx, run))

	got, err = store.GetByID(ctx, "pg-run-flight")
	require.NoError(t, err)
	require.Equal(t, domain.RunSuccess, got.Status)
	require.False(t, got.EndTime.IsZero())
	require.Len(t, got.Steps, 1)
}

func TestPostgresStore_UpdateUnknownRun(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPostgresStore(pool)
	err := store.Update(context.Background(), sampleRun("pg-ghost", "equity_daily", time.Now().UTC()))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ListQueries(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := NewPostgresStore(pool)
	base := time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, sampleRun("pg-eq-1", "equity_daily", base)))
	require.NoError(t, store.Insert(ctx, sampleRun("pg-deals-1", "bulk_block_deals", base.Add(time.Hour))))
	require.NoError(t, store.Insert(ctx, sampleRun("pg-eq-2", "equity_daily", base.Add(2*time.Hour))))

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "pg-eq-2", recent[0].RunID)
	require.Equal(t, "pg-deals-1", recent[1].RunID)

	equity, err := store.ListByPipeline(ctx, "equity_daily", 0)
	require.NoError(t, err)
	require.Len(t, equity, 2)
	require.Equal(t, "pg-eq-2", equity[0].RunID)
	require.Equal(t, "pg-eq-1", equity[1].RunID)

	require.NoError(t, Migrate(ctx, pool), "schema reapply must be a no-op")
}
