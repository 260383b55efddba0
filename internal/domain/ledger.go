package domain

import (
	"context"
	"time"
)

// PredictionStatus tracks the lifecycle of a pending prediction.
type PredictionStatus string

const (
	PredictionPending PredictionStatus = "pending"
	PredictionMatched PredictionStatus = "matched"
	PredictionExpired PredictionStatus = "expired"
)

// PendingPrediction is a stored prediction awaiting confirmation against a
// future real race. Athlete identity is carried only as a salted hash.
type PendingPrediction struct {
	ID               string
	AthleteHash      string
	RefDistanceKm    float64
	RefTimeSec       int
	RefDate          *time.Time
	GoalDistanceKm   float64
	GoalDate         *time.Time
	PredictedTimeSec int
	Status           PredictionStatus
	CreatedAt        time.Time
	MatchedActivity  *int64
	MatchedAt        *time.Time
}

// RaceMatch captures the confirmed outcome handed to MarkMatched.
type RaceMatch struct {
	ActivityID      int64
	ActivityDate    time.Time
	DistanceKm      float64
	TimeSeconds     int
	ElevationGainFt float64
}

// Ledger owns the PendingPrediction lifecycle. MarkMatched must be safe
// under concurrent invocation for the same id: at most one caller
// succeeds, others observe ErrAlreadyMatched.
type Ledger interface {
	Insert(ctx context.Context, p PendingPrediction) (string, error)
	FindCandidates(ctx context.Context, athleteHash string, after time.Time) ([]PendingPrediction, error)
	MarkMatched(ctx context.Context, id string, match RaceMatch) error
	ExpireStale(ctx context.Context, horizon time.Duration) (int, error)
}
