// Package domain defines the shared data model for the race prediction core.
package domain

import "fmt"

// ExperienceTier orders runners by pacing efficiency.
type ExperienceTier string

const (
	ExperienceBeginner     ExperienceTier = "beginner"
	ExperienceIntermediate ExperienceTier = "intermediate"
	ExperienceAdvanced     ExperienceTier = "advanced"
	ExperienceElite        ExperienceTier = "elite"
)

// ExperienceTiers lists the valid tiers from most to least penalized.
var ExperienceTiers = []ExperienceTier{
	ExperienceBeginner,
	ExperienceIntermediate,
	ExperienceAdvanced,
	ExperienceElite,
}

// Valid reports whether the tier is one of the known values.
func (t ExperienceTier) Valid() bool {
	for _, tier := range ExperienceTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// PredictionInput is the calibration input for a finish-time prediction.
type PredictionInput struct {
	BaselineDistanceKm float64
	BaselineTimeSec    int
	GoalDistanceKm     float64
	WeeklyMileage      float64
	Age                int
	Experience         ExperienceTier
}

// Validate enforces the positivity invariants. Experience defaults to
// intermediate when unset; any other unknown value is rejected.
func (in PredictionInput) Validate() error {
	if in.BaselineDistanceKm <= 0 {
		return fmt.Errorf("%w: baseline distance must be > 0", ErrInvalidInput)
	}
	if in.BaselineTimeSec <= 0 {
		return fmt.Errorf("%w: baseline time must be > 0", ErrInvalidInput)
	}
	if in.GoalDistanceKm <= 0 {
		return fmt.Errorf("%w: goal distance must be > 0", ErrInvalidInput)
	}
	if in.WeeklyMileage < 0 {
		return fmt.Errorf("%w: weekly mileage must be >= 0", ErrInvalidInput)
	}
	if in.Age < 0 {
		return fmt.Errorf("%w: age must be >= 0", ErrInvalidInput)
	}
	if in.Experience != "" && !in.Experience.Valid() {
		return fmt.Errorf("%w: unknown experience tier %q", ErrInvalidInput, in.Experience)
	}
	return nil
}

// Equivalent is one row of the equivalent-time table.
type Equivalent struct {
	TimeSeconds   int    `json:"time_seconds"`
	TimeFormatted string `json:"time_formatted"`
	PacePerMile   string `json:"pace_per_mile"`
}

// PredictionResult carries the predicted finish time with its confidence
// band and the equivalent times at every standard distance.
type PredictionResult struct {
	PredictedSeconds   int                   `json:"predicted_seconds"`
	PredictedFormatted string                `json:"predicted_formatted"`
	LowSeconds         int                   `json:"low_seconds"`
	LowFormatted       string                `json:"low_formatted"`
	HighSeconds        int                   `json:"high_seconds"`
	HighFormatted      string                `json:"high_formatted"`
	UncertaintyPct     float64               `json:"uncertainty_pct"`
	PacePerMile        string                `json:"pace_per_mile"`
	PacePerKm          string                `json:"pace_per_km"`
	Equivalents        map[string]Equivalent `json:"equivalents"`
}
