// Package ledger owns the pending-prediction lifecycle. The matched
// transition is a single conditional write; every concurrency guarantee
// in the pipeline rests on it.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/raceprophet/internal/domain"
	"example.com/raceprophet/internal/observability"
)

// PostgresLedger is the durable Ledger implementation.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger constructs a PostgresLedger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// Insert stores a new pending prediction and returns its id.
func (l *PostgresLedger) Insert(ctx context.Context, p domain.PendingPrediction) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PredictionPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	const stmt = `INSERT INTO pending_predictions
        (prediction_id, athlete_hash, ref_distance_km, ref_time_seconds, ref_date,
         goal_distance_km, goal_date, predicted_time_seconds, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err := l.pool.Exec(ctx, stmt,
		p.ID, p.AthleteHash, p.RefDistanceKm, p.RefTimeSec, p.RefDate,
		p.GoalDistanceKm, p.GoalDate, p.PredictedTimeSec, p.Status, p.CreatedAt,
	)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

const selectColumns = `prediction_id, athlete_hash, ref_distance_km, ref_time_seconds, ref_date,
        goal_distance_km, goal_date, predicted_time_seconds, status, created_at,
        matched_activity_id, matched_at`

// FindCandidates returns the athlete's pending predictions created at or
// after the given time, newest first.
func (l *PostgresLedger) FindCandidates(ctx context.Context, athleteHash string, after time.Time) ([]domain.PendingPrediction, error) {
	query := `SELECT ` + selectColumns + `
        FROM pending_predictions
        WHERE athlete_hash=$1 AND status=$2 AND created_at >= $3
        ORDER BY created_at DESC`

	rows, err := l.pool.Query(ctx, query, athleteHash, domain.PredictionPending, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingPrediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkMatched transitions pending -> matched with one conditional UPDATE.
// At most one concurrent caller succeeds; the rest observe
// domain.ErrAlreadyMatched.
func (l *PostgresLedger) MarkMatched(ctx context.Context, id string, match domain.RaceMatch) error {
	const stmt = `UPDATE pending_predictions
        SET status=$2, matched_activity_id=$3, matched_at=NOW()
        WHERE prediction_id=$1 AND status=$4`

	tag, err := l.pool.Exec(ctx, stmt, id, domain.PredictionMatched, match.ActivityID, domain.PredictionPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		observability.RecordPredictionMatched(time.Now().UTC())
		return nil
	}

	var status domain.PredictionStatus
	err = l.pool.QueryRow(ctx, `SELECT status FROM pending_predictions WHERE prediction_id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrPredictionNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrAlreadyMatched
}

// ExpireStale flips pending entries past the horizon to expired. Entries
// are never deleted here; deletion is an explicit user action elsewhere.
func (l *PostgresLedger) ExpireStale(ctx context.Context, horizon time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-horizon)
	tag, err := l.pool.Exec(ctx,
		`UPDATE pending_predictions SET status=$1 WHERE status=$2 AND created_at < $3 AND (goal_date IS NULL OR goal_date < $3)`,
		domain.PredictionExpired, domain.PredictionPending, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanPrediction(rows pgx.Rows) (domain.PendingPrediction, error) {
	var p domain.PendingPrediction
	err := rows.Scan(&p.ID, &p.AthleteHash, &p.RefDistanceKm, &p.RefTimeSec, &p.RefDate,
		&p.GoalDistanceKm, &p.GoalDate, &p.PredictedTimeSec, &p.Status, &p.CreatedAt,
		&p.MatchedActivity, &p.MatchedAt)
	return p, err
}
