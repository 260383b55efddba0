package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/raceprophet/internal/domain"
)

// MemoryLedger is an in-memory Ledger for tests and local development.
// The mutex around the status check-and-set mirrors the conditional
// UPDATE of the Postgres implementation.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]domain.PendingPrediction
}

// NewMemoryLedger constructs an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]domain.PendingPrediction)}
}

// Insert stores a pending prediction.
func (l *MemoryLedger) Insert(_ context.Context, p domain.PendingPrediction) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PredictionPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	l.entries[p.ID] = p
	return p.ID, nil
}

// FindCandidates returns pending predictions for the athlete, newest first.
func (l *MemoryLedger) FindCandidates(_ context.Context, athleteHash string, after time.Time) ([]domain.PendingPrediction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.PendingPrediction
	for _, p := range l.entries {
		if p.AthleteHash != athleteHash || p.Status != domain.PredictionPending {
			continue
		}
		if p.CreatedAt.Before(after) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkMatched performs the pending -> matched compare-and-set.
func (l *MemoryLedger) MarkMatched(_ context.Context, id string, match domain.RaceMatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.entries[id]
	if !ok {
		return domain.ErrPredictionNotFound
	}
	if p.Status != domain.PredictionPending {
		return domain.ErrAlreadyMatched
	}

	now := time.Now().UTC()
	activityID := match.ActivityID
	p.Status = domain.PredictionMatched
	p.MatchedActivity = &activityID
	p.MatchedAt = &now
	l.entries[id] = p
	return nil
}

// ExpireStale flips pending entries older than the horizon to expired.
func (l *MemoryLedger) ExpireStale(_ context.Context, horizon time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().UTC().Add(-horizon)
	expired := 0
	for id, p := range l.entries {
		if p.Status != domain.PredictionPending || !p.CreatedAt.Before(cutoff) {
			continue
		}
		if p.GoalDate != nil && !p.GoalDate.Before(cutoff) {
			continue
		}
		p.Status = domain.PredictionExpired
		l.entries[id] = p
		expired++
	}
	return expired, nil
}

// Get returns a stored prediction by id. Test helper.
func (l *MemoryLedger) Get(id string) (domain.PendingPrediction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.entries[id]
	return p, ok
}
