package domain

import (
	"context"
	"time"
)

// RaceResultRecord pairs a confirmed race outcome with the prediction that
// was in force at race time. Immutable once written.
type RaceResultRecord struct {
	PredictionID     string
	AthleteHash      string
	SnapshotID       *int64
	RefDistanceKm    float64
	RefTimeSec       int
	RefDate          *time.Time
	GoalDistanceKm   float64
	GoalTimeSec      int
	GoalDate         time.Time
	GoalElevationFt  float64
	PredictedTimeSec int
	Source           string
}

// DatasetStats summarises the collected calibration dataset.
type DatasetStats struct {
	OptedInAthletes   int      `json:"opted_in_athletes"`
	TrainingSnapshots int      `json:"training_snapshots"`
	RaceResults       int      `json:"race_results"`
	SampleCount       int      `json:"sample_count"`
	MAESeconds        *float64 `json:"mae_seconds"`
	MAPE              *float64 `json:"mape"`
	MedianErrorSec    *float64 `json:"median_error_seconds"`
	P90ErrorSec       *float64 `json:"p90_error_seconds"`
}

// DatasetRow is one anonymized training/outcome pair for model
// calibration. Carries no athlete identifier, not even the hash.
type DatasetRow struct {
	WindowWeeks        int     `json:"window_weeks"`
	TotalRuns          int     `json:"total_runs"`
	TotalMiles         float64 `json:"total_miles"`
	AvgWeeklyMiles     float64 `json:"avg_weekly_miles"`
	PeakWeeklyMiles    float64 `json:"peak_weekly_miles"`
	AvgRunDistanceMi   float64 `json:"avg_run_distance_mi"`
	LongestRunMi       float64 `json:"longest_run_mi"`
	AvgPaceSecPerMile  int     `json:"avg_pace_per_mile_sec"`
	BestPaceSecPerMile int     `json:"fastest_pace_per_mile_sec"`
	TotalElevationFt   float64 `json:"total_elevation_gain_ft"`
	AvgElevationFt     float64 `json:"avg_elevation_per_run_ft"`
	RunsWithHeartRate  int     `json:"runs_with_heartrate"`
	AvgHeartRate       float64 `json:"avg_heartrate"`
	AgeBucket          string  `json:"age_bucket"`
	Experience         string  `json:"experience_level"`

	RefDistanceKm    float64  `json:"ref_distance_km"`
	RefTimeSec       int      `json:"ref_time_seconds"`
	GoalDistanceKm   float64  `json:"goal_distance_km"`
	GoalTimeSec      int      `json:"goal_time_seconds"`
	GoalElevationFt  float64  `json:"goal_elevation_gain_ft"`
	PredictedTimeSec int      `json:"predicted_time_seconds"`
	ErrorSec         *int     `json:"prediction_error_seconds"`
	ErrorPct         *float64 `json:"prediction_error_pct"`
}

// SnapshotStore owns durable prediction snapshots and race results for
// longitudinal accuracy tracking.
type SnapshotStore interface {
	StoreSnapshot(ctx context.Context, athleteHash string, summary TrainingSummary, ageBucket string, experience ExperienceTier) (int64, error)
	StoreRaceResult(ctx context.Context, rec RaceResultRecord) (int64, error)
	Stats(ctx context.Context) (DatasetStats, error)
	ExportDataset(ctx context.Context) ([]DatasetRow, error)
}

// ResultWriter is the narrow slice of SnapshotStore the matcher needs.
type ResultWriter interface {
	StoreRaceResult(ctx context.Context, rec RaceResultRecord) (int64, error)
}

// ConsentStore tracks data-contribution opt-in by athlete hash.
type ConsentStore interface {
	SetConsent(ctx context.Context, athleteHash string, optedIn bool) error
	HasConsent(ctx context.Context, athleteHash string) (bool, error)
}
