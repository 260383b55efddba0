//go:build integration

package ledger

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/raceprophet/internal/domain"
)

func TestLedgerInsertAndFindCandidates(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	ledger := NewPostgresLedger(pool)

	older := seedPrediction(t, ctx, ledger, "hash-a", time.Now().UTC().Add(-48*time.Hour))
	newer := seedPrediction(t, ctx, ledger, "hash-a", time.Now().UTC().Add(-1*time.Hour))
	seedPrediction(t, ctx, ledger, "hash-b", time.Now().UTC())

	candidates, err := ledger.FindCandidates(ctx, "hash-a", time.Now().UTC().Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, newer, candidates[0].ID, "newest first")
	require.Equal(t, older, candidates[1].ID)

	// Entries older than the window are excluded.
	candidates, err = ledger.FindCandidates(ctx, "hash-a", time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, newer, candidates[0].ID)
}

func TestLedgerMarkMatchedIsConditional(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	ledger := NewPostgresLedger(pool)
	id := seedPrediction(t, ctx, ledger, "hash-c", time.Now().UTC())

	match := domain.RaceMatch{ActivityID: 777, ActivityDate: time.Now().UTC(), DistanceKm: 10, TimeSeconds: 2500}
	require.NoError(t, ledger.MarkMatched(ctx, id, match))

	// Second transition observes the terminal state.
	err := ledger.MarkMatched(ctx, id, match)
	require.ErrorIs(t, err, domain.ErrAlreadyMatched)

	err = ledger.MarkMatched(ctx, "no-such-id", match)
	require.ErrorIs(t, err, domain.ErrPredictionNotFound)

	var status string
	var activityID int64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT status, matched_activity_id FROM pending_predictions WHERE prediction_id=$1`, id).
		Scan(&status, &activityID))
	require.Equal(t, string(domain.PredictionMatched), status)
	require.Equal(t, int64(777), activityID)

	// Matched entries no longer surface as candidates.
	candidates, err := ledger.FindCandidates(ctx, "hash-c", time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestLedgerMarkMatchedSingleWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	ledger := NewPostgresLedger(pool)
	id := seedPrediction(t, ctx, ledger, "hash-d", time.Now().UTC())

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ledger.MarkMatched(ctx, id, domain.RaceMatch{ActivityID: int64(1000 + i)})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, domain.ErrAlreadyMatched)
		}
	}
	require.Equal(t, 1, winners)
}

func TestLedgerExpireStale(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	ledger := NewPostgresLedger(pool)

	stale := seedPrediction(t, ctx, ledger, "hash-e", time.Now().UTC().Add(-200*24*time.Hour))
	fresh := seedPrediction(t, ctx, ledger, "hash-e", time.Now().UTC())

	// An old entry whose goal date is still ahead must survive the sweep.
	future := time.Now().UTC().Add(30 * 24 * time.Hour)
	upcoming, err := ledger.Insert(ctx, domain.PendingPrediction{
		AthleteHash:      "hash-e",
		RefDistanceKm:    10,
		RefTimeSec:       2550,
		GoalDistanceKm:   42.195,
		GoalDate:         &future,
		PredictedTimeSec: 12000,
		CreatedAt:        time.Now().UTC().Add(-200 * 24 * time.Hour),
	})
	require.NoError(t, err)

	expired, err := ledger.ExpireStale(ctx, 120*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	statusOf := func(id string) string {
		var status string
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT status FROM pending_predictions WHERE prediction_id=$1`, id).Scan(&status))
		return status
	}
	require.Equal(t, string(domain.PredictionExpired), statusOf(stale))
	require.Equal(t, string(domain.PredictionPending), statusOf(fresh))
	require.Equal(t, string(domain.PredictionPending), statusOf(upcoming))
}

func seedPrediction(t *testing.T, ctx context.Context, ledger *PostgresLedger, athleteHash string, createdAt time.Time) string {
	t.Helper()

	refDate := createdAt.Add(-24 * time.Hour)
	id, err := ledger.Insert(ctx, domain.PendingPrediction{
		AthleteHash:      athleteHash,
		RefDistanceKm:    10,
		RefTimeSec:       2550,
		RefDate:          &refDate,
		GoalDistanceKm:   21.0975,
		PredictedTimeSec: 5600,
		CreatedAt:        createdAt,
	})
	require.NoError(t, err)
	return id
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("raceprophet"),
		postgrescontainer.WithUsername("raceprophet"),
		postgrescontainer.WithPassword("raceprophet"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	migrationsDir := resolvePath(t, "../../db/postgres/migrations")
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "expected at least one migration .up.sql file")

	sort.Strings(files)

	for _, file := range files {
		contents, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)

		if _, execErr := pool.Exec(ctx, string(contents)); execErr != nil {
			require.NoErrorf(t, execErr, "execute migration %s", file)
		}
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
