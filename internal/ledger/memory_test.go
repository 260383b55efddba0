package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/raceprophet/internal/domain"
)

func pending(athleteHash string, goalKm float64, createdAt time.Time) domain.PendingPrediction {
	return domain.PendingPrediction{
		AthleteHash:      athleteHash,
		RefDistanceKm:    5,
		RefTimeSec:       1500,
		GoalDistanceKm:   goalKm,
		PredictedTimeSec: 6800,
		CreatedAt:        createdAt,
	}
}

func TestMarkMatchedExactlyOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	id, err := ledger.Insert(ctx, pending("athlete-a", 21.0975, time.Now().UTC()))
	require.NoError(t, err)

	const callers = 32
	var wg sync.WaitGroup
	results := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ledger.MarkMatched(ctx, id, domain.RaceMatch{ActivityID: 99})
		}()
	}
	wg.Wait()
	close(results)

	successes, alreadyMatched := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case err == domain.ErrAlreadyMatched:
			alreadyMatched++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	require.Equal(t, 1, successes)
	require.Equal(t, callers-1, alreadyMatched)

	stored, ok := ledger.Get(id)
	require.True(t, ok)
	require.Equal(t, domain.PredictionMatched, stored.Status)
	require.NotNil(t, stored.MatchedActivity)
	require.Equal(t, int64(99), *stored.MatchedActivity)
}

func TestMarkMatchedNotFound(t *testing.T) {
	ledger := NewMemoryLedger()
	err := ledger.MarkMatched(context.Background(), "missing", domain.RaceMatch{ActivityID: 1})
	require.ErrorIs(t, err, domain.ErrPredictionNotFound)
}

func TestFindCandidatesFiltersStatusAndDate(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	now := time.Now().UTC()

	oldID, err := ledger.Insert(ctx, pending("athlete-a", 10, now.AddDate(0, 0, -200)))
	require.NoError(t, err)
	_ = oldID

	recentID, err := ledger.Insert(ctx, pending("athlete-a", 21.0975, now.AddDate(0, 0, -3)))
	require.NoError(t, err)

	matchedID, err := ledger.Insert(ctx, pending("athlete-a", 5, now.AddDate(0, 0, -2)))
	require.NoError(t, err)
	require.NoError(t, ledger.MarkMatched(ctx, matchedID, domain.RaceMatch{ActivityID: 7}))

	_, err = ledger.Insert(ctx, pending("athlete-b", 21.0975, now))
	require.NoError(t, err)

	candidates, err := ledger.FindCandidates(ctx, "athlete-a", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, recentID, candidates[0].ID)
}

func TestFindCandidatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	now := time.Now().UTC()

	_, err := ledger.Insert(ctx, pending("athlete-a", 21.0975, now.AddDate(0, 0, -5)))
	require.NoError(t, err)
	newest, err := ledger.Insert(ctx, pending("athlete-a", 21.0975, now))
	require.NoError(t, err)

	candidates, err := ledger.FindCandidates(ctx, "athlete-a", now.AddDate(0, 0, -10))
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, newest, candidates[0].ID)
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	now := time.Now().UTC()

	staleID, err := ledger.Insert(ctx, pending("athlete-a", 42.195, now.AddDate(0, 0, -120)))
	require.NoError(t, err)
	freshID, err := ledger.Insert(ctx, pending("athlete-a", 10, now))
	require.NoError(t, err)

	expired, err := ledger.ExpireStale(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	stale, _ := ledger.Get(staleID)
	require.Equal(t, domain.PredictionExpired, stale.Status)
	fresh, _ := ledger.Get(freshID)
	require.Equal(t, domain.PredictionPending, fresh.Status)

	err = ledger.MarkMatched(ctx, staleID, domain.RaceMatch{ActivityID: 3})
	require.ErrorIs(t, err, domain.ErrAlreadyMatched)
}
