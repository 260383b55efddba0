package domain

import "time"

// BestEffort is the fastest qualifying activity at a standard distance
// within the aggregation window.
type BestEffort struct {
	ActivityID       int64     `json:"activity_id"`
	TargetKm         float64   `json:"target_km"`
	ActualDistanceKm float64   `json:"actual_distance_km"`
	TimeSeconds      int       `json:"time_seconds"`
	TimeFormatted    string    `json:"time_formatted"`
	PacePerMile      string    `json:"pace_per_mile"`
	Date             time.Time `json:"date"`
	Name             string    `json:"name"`
}

// WeeklyMileage is one ISO-week bucket of the mileage progression.
type WeeklyMileage struct {
	Week  string  `json:"week"`
	Miles float64 `json:"miles"`
}

// TrainingSummary is the derived training-feature record. Immutable once
// computed for a given input window.
type TrainingSummary struct {
	WindowWeeks        int                   `json:"window_weeks"`
	TotalRuns          int                   `json:"total_runs"`
	TotalMiles         float64               `json:"total_miles"`
	AvgWeeklyMiles     float64               `json:"avg_weekly_miles"`
	PeakWeeklyMiles    float64               `json:"peak_weekly_miles"`
	AvgRunDistanceMi   float64               `json:"avg_run_distance_mi"`
	LongestRunMi       float64               `json:"longest_run_mi"`
	AvgPaceSecPerMile  int                   `json:"avg_pace_per_mile_sec"`
	BestPaceSecPerMile int                   `json:"fastest_pace_per_mile_sec"`
	TotalElevationFt   float64               `json:"total_elevation_gain_ft"`
	AvgElevationFt     float64               `json:"avg_elevation_per_run_ft"`
	RunsWithHeartRate  int                   `json:"runs_with_heartrate"`
	AvgHeartRate       float64               `json:"avg_heartrate"`
	WeeklyProgression  []WeeklyMileage       `json:"weekly_mileage"`
	BestEfforts        map[string]BestEffort `json:"best_efforts"`
	Races              []Activity            `json:"races"`
}
