// Package snapshot persists anonymized training snapshots and confirmed
// race results for longitudinal accuracy tracking.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/raceprophet/internal/domain"
	"example.com/raceprophet/internal/observability"
)

// PostgresStore is the durable SnapshotStore and ConsentStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// StoreSnapshot upserts the athlete's snapshot for today. One row per
// athlete per day; re-running a prediction the same day refreshes it.
func (s *PostgresStore) StoreSnapshot(ctx context.Context, athleteHash string, summary domain.TrainingSummary, ageBucket string, experience domain.ExperienceTier) (int64, error) {
	const stmt = `INSERT INTO training_snapshots
        (athlete_hash, snapshot_date, window_weeks, total_runs, total_miles,
         avg_weekly_miles, peak_weekly_miles, avg_run_distance_mi, longest_run_mi,
         avg_pace_per_mile_sec, fastest_pace_per_mile_sec,
         total_elevation_gain_ft, avg_elevation_per_run_ft,
         runs_with_heartrate, avg_heartrate, age_bucket, experience_level)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
        ON CONFLICT (athlete_hash, snapshot_date) DO UPDATE SET
            window_weeks = EXCLUDED.window_weeks,
            total_runs = EXCLUDED.total_runs,
            total_miles = EXCLUDED.total_miles,
            avg_weekly_miles = EXCLUDED.avg_weekly_miles,
            peak_weekly_miles = EXCLUDED.peak_weekly_miles,
            avg_run_distance_mi = EXCLUDED.avg_run_distance_mi,
            longest_run_mi = EXCLUDED.longest_run_mi,
            avg_pace_per_mile_sec = EXCLUDED.avg_pace_per_mile_sec,
            fastest_pace_per_mile_sec = EXCLUDED.fastest_pace_per_mile_sec,
            total_elevation_gain_ft = EXCLUDED.total_elevation_gain_ft,
            avg_elevation_per_run_ft = EXCLUDED.avg_elevation_per_run_ft,
            runs_with_heartrate = EXCLUDED.runs_with_heartrate,
            avg_heartrate = EXCLUDED.avg_heartrate,
            age_bucket = EXCLUDED.age_bucket,
            experience_level = EXCLUDED.experience_level
        RETURNING snapshot_id`

	var id int64
	err := s.pool.QueryRow(ctx, stmt,
		athleteHash, time.Now().UTC().Truncate(24*time.Hour), summary.WindowWeeks,
		summary.TotalRuns, summary.TotalMiles,
		summary.AvgWeeklyMiles, summary.PeakWeeklyMiles,
		summary.AvgRunDistanceMi, summary.LongestRunMi,
		summary.AvgPaceSecPerMile, summary.BestPaceSecPerMile,
		summary.TotalElevationFt, summary.AvgElevationFt,
		summary.RunsWithHeartRate, summary.AvgHeartRate,
		ageBucket, string(experience),
	).Scan(&id)
	return id, err
}

// StoreRaceResult records a confirmed outcome with its prediction error.
// Rows are immutable once written. When the caller has no snapshot id
// (the webhook path), the athlete's most recent snapshot is linked so the
// result stays usable for calibration.
func (s *PostgresStore) StoreRaceResult(ctx context.Context, rec domain.RaceResultRecord) (int64, error) {
	if rec.SnapshotID == nil {
		var snapID int64
		err := s.pool.QueryRow(ctx,
			`SELECT snapshot_id FROM training_snapshots WHERE athlete_hash=$1 ORDER BY snapshot_date DESC LIMIT 1`,
			rec.AthleteHash).Scan(&snapID)
		if err == nil {
			rec.SnapshotID = &snapID
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return 0, err
		}
	}

	var errorSec *int
	var errorPct *float64
	if rec.PredictedTimeSec > 0 && rec.GoalTimeSec > 0 {
		diff := rec.PredictedTimeSec - rec.GoalTimeSec
		pct := float64(diff) / float64(rec.GoalTimeSec) * 100
		errorSec = &diff
		errorPct = &pct
	}

	const stmt = `INSERT INTO race_results
        (prediction_id, athlete_hash, snapshot_id,
         ref_distance_km, ref_time_seconds, ref_date,
         goal_distance_km, goal_time_seconds, goal_date, goal_elevation_gain_ft,
         predicted_time_seconds, prediction_error_seconds, prediction_error_pct, source)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        RETURNING result_id`

	var id int64
	err := s.pool.QueryRow(ctx, stmt,
		rec.PredictionID, rec.AthleteHash, rec.SnapshotID,
		rec.RefDistanceKm, rec.RefTimeSec, rec.RefDate,
		rec.GoalDistanceKm, rec.GoalTimeSec, rec.GoalDate, rec.GoalElevationFt,
		rec.PredictedTimeSec, errorSec, errorPct, rec.Source,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	observability.RecordRaceResultStored(time.Now().UTC())
	return id, nil
}

// Stats summarises the collected dataset for the stats endpoint.
func (s *PostgresStore) Stats(ctx context.Context) (domain.DatasetStats, error) {
	var stats domain.DatasetStats

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM data_consent WHERE opted_in`).Scan(&stats.OptedInAthletes); err != nil {
		return stats, err
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM training_snapshots`).Scan(&stats.TrainingSnapshots); err != nil {
		return stats, err
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM race_results`).Scan(&stats.RaceResults); err != nil {
		return stats, err
	}

	err := s.pool.QueryRow(ctx, `SELECT
            COUNT(*),
            AVG(ABS(prediction_error_seconds)),
            AVG(ABS(prediction_error_pct)),
            PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY ABS(prediction_error_seconds)),
            PERCENTILE_CONT(0.9) WITHIN GROUP (ORDER BY ABS(prediction_error_seconds))
        FROM race_results WHERE predicted_time_seconds IS NOT NULL`,
	).Scan(&stats.SampleCount, &stats.MAESeconds, &stats.MAPE, &stats.MedianErrorSec, &stats.P90ErrorSec)
	return stats, err
}

// ExportDataset returns the anonymized training/outcome pairs, oldest
// first. Results without a linked snapshot are excluded; without the
// training features the row is useless for calibration.
func (s *PostgresStore) ExportDataset(ctx context.Context) ([]domain.DatasetRow, error) {
	const query = `SELECT
            COALESCE(ts.window_weeks, 0), COALESCE(ts.total_runs, 0), COALESCE(ts.total_miles, 0),
            COALESCE(ts.avg_weekly_miles, 0), COALESCE(ts.peak_weekly_miles, 0),
            COALESCE(ts.avg_run_distance_mi, 0), COALESCE(ts.longest_run_mi, 0),
            COALESCE(ts.avg_pace_per_mile_sec, 0), COALESCE(ts.fastest_pace_per_mile_sec, 0),
            COALESCE(ts.total_elevation_gain_ft, 0), COALESCE(ts.avg_elevation_per_run_ft, 0),
            COALESCE(ts.runs_with_heartrate, 0), COALESCE(ts.avg_heartrate, 0),
            COALESCE(ts.age_bucket, ''), COALESCE(ts.experience_level, ''),
            rr.ref_distance_km, rr.ref_time_seconds,
            rr.goal_distance_km, rr.goal_time_seconds, COALESCE(rr.goal_elevation_gain_ft, 0),
            COALESCE(rr.predicted_time_seconds, 0),
            rr.prediction_error_seconds, rr.prediction_error_pct
        FROM race_results rr
        JOIN training_snapshots ts ON ts.snapshot_id = rr.snapshot_id
        ORDER BY rr.created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DatasetRow
	for rows.Next() {
		var r domain.DatasetRow
		if err := rows.Scan(
			&r.WindowWeeks, &r.TotalRuns, &r.TotalMiles,
			&r.AvgWeeklyMiles, &r.PeakWeeklyMiles,
			&r.AvgRunDistanceMi, &r.LongestRunMi,
			&r.AvgPaceSecPerMile, &r.BestPaceSecPerMile,
			&r.TotalElevationFt, &r.AvgElevationFt,
			&r.RunsWithHeartRate, &r.AvgHeartRate,
			&r.AgeBucket, &r.Experience,
			&r.RefDistanceKm, &r.RefTimeSec,
			&r.GoalDistanceKm, &r.GoalTimeSec, &r.GoalElevationFt,
			&r.PredictedTimeSec,
			&r.ErrorSec, &r.ErrorPct,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetConsent upserts the athlete's opt-in flag.
func (s *PostgresStore) SetConsent(ctx context.Context, athleteHash string, optedIn bool) error {
	const stmt = `INSERT INTO data_consent (athlete_hash, opted_in, updated_at)
        VALUES ($1,$2,NOW())
        ON CONFLICT (athlete_hash) DO UPDATE SET opted_in=$2, updated_at=NOW()`
	_, err := s.pool.Exec(ctx, stmt, athleteHash, optedIn)
	return err
}

// HasConsent reports whether the athlete opted in to data contribution.
func (s *PostgresStore) HasConsent(ctx context.Context, athleteHash string) (bool, error) {
	var optedIn bool
	err := s.pool.QueryRow(ctx,
		`SELECT opted_in FROM data_consent WHERE athlete_hash=$1`, athleteHash).Scan(&optedIn)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return optedIn, nil
}
