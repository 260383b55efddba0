package snapshot

import (
	"context"
	"sync"

	"example.com/raceprophet/internal/domain"
)

// MemoryStore keeps snapshots, results, and consent in memory. Used by
// tests and local development.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	snapshots map[int64]storedSnapshot
	results   []domain.RaceResultRecord
	consent   map[string]bool
}

type storedSnapshot struct {
	summary    domain.TrainingSummary
	ageBucket  string
	experience domain.ExperienceTier
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[int64]storedSnapshot),
		consent:   make(map[string]bool),
	}
}

// StoreSnapshot appends the summary and returns a synthetic id.
func (s *MemoryStore) StoreSnapshot(_ context.Context, _ string, summary domain.TrainingSummary, ageBucket string, experience domain.ExperienceTier) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.snapshots[s.nextID] = storedSnapshot{summary: summary, ageBucket: ageBucket, experience: experience}
	return s.nextID, nil
}

// StoreRaceResult appends the record and returns a synthetic id.
func (s *MemoryStore) StoreRaceResult(_ context.Context, rec domain.RaceResultRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.results = append(s.results, rec)
	return s.nextID, nil
}

// Stats reports counts over the in-memory data.
func (s *MemoryStore) Stats(_ context.Context) (domain.DatasetStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	optedIn := 0
	for _, ok := range s.consent {
		if ok {
			optedIn++
		}
	}
	return domain.DatasetStats{
		OptedInAthletes:   optedIn,
		TrainingSnapshots: len(s.snapshots),
		RaceResults:       len(s.results),
		SampleCount:       len(s.results),
	}, nil
}

// ExportDataset joins results to their snapshots, mirroring the durable
// store: results without a snapshot link are excluded.
func (s *MemoryStore) ExportDataset(_ context.Context) ([]domain.DatasetRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.DatasetRow
	for _, rec := range s.results {
		if rec.SnapshotID == nil {
			continue
		}
		snap, ok := s.snapshots[*rec.SnapshotID]
		if !ok {
			continue
		}

		row := domain.DatasetRow{
			WindowWeeks:        snap.summary.WindowWeeks,
			TotalRuns:          snap.summary.TotalRuns,
			TotalMiles:         snap.summary.TotalMiles,
			AvgWeeklyMiles:     snap.summary.AvgWeeklyMiles,
			PeakWeeklyMiles:    snap.summary.PeakWeeklyMiles,
			AvgRunDistanceMi:   snap.summary.AvgRunDistanceMi,
			LongestRunMi:       snap.summary.LongestRunMi,
			AvgPaceSecPerMile:  snap.summary.AvgPaceSecPerMile,
			BestPaceSecPerMile: snap.summary.BestPaceSecPerMile,
			TotalElevationFt:   snap.summary.TotalElevationFt,
			AvgElevationFt:     snap.summary.AvgElevationFt,
			RunsWithHeartRate:  snap.summary.RunsWithHeartRate,
			AvgHeartRate:       snap.summary.AvgHeartRate,
			AgeBucket:          snap.ageBucket,
			Experience:         string(snap.experience),
			RefDistanceKm:      rec.RefDistanceKm,
			RefTimeSec:         rec.RefTimeSec,
			GoalDistanceKm:     rec.GoalDistanceKm,
			GoalTimeSec:        rec.GoalTimeSec,
			GoalElevationFt:    rec.GoalElevationFt,
			PredictedTimeSec:   rec.PredictedTimeSec,
		}
		if rec.PredictedTimeSec > 0 && rec.GoalTimeSec > 0 {
			diff := rec.PredictedTimeSec - rec.GoalTimeSec
			pct := float64(diff) / float64(rec.GoalTimeSec) * 100
			row.ErrorSec = &diff
			row.ErrorPct = &pct
		}
		out = append(out, row)
	}
	return out, nil
}

// SetConsent records the opt-in flag.
func (s *MemoryStore) SetConsent(_ context.Context, athleteHash string, optedIn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent[athleteHash] = optedIn
	return nil
}

// HasConsent reports the opt-in flag.
func (s *MemoryStore) HasConsent(_ context.Context, athleteHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consent[athleteHash], nil
}

// Results returns a copy of the stored race results. Test helper.
func (s *MemoryStore) Results() []domain.RaceResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RaceResultRecord, len(s.results))
	copy(out, s.results)
	return out
}
