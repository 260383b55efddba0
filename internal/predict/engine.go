// Package predict implements the finish-time prediction engine. Pure and
// stateless; safe for concurrent use.
package predict

import (
	"math"

	"example.com/raceprophet/internal/domain"
)

// MileageTier reduces the effective Riegel exponent once weekly mileage
// reaches MinWeeklyMiles. Tiers are evaluated highest threshold first.
type MileageTier struct {
	MinWeeklyMiles float64
	Delta          float64
}

// Config carries every tunable of the engine. Heuristic constants live
// here rather than in the code so the engine stays independently testable.
type Config struct {
	BaseExponent float64
	ExponentMin  float64
	ExponentMax  float64

	MileageTiers    []MileageTier
	LowMileageBelow float64
	LowMileageDelta float64

	AgePlateau    int
	MaxAgePenalty float64

	ExperienceFactors map[domain.ExperienceTier]float64

	UncertaintyBase  float64
	UncertaintySlope float64
	UncertaintyCap   float64

	// AdjustmentRampLn is the |ln(goal/baseline)| span over which the
	// multiplicative age and experience factors phase in. At equal
	// distances the factors neutralize to 1 so the prediction returns
	// the baseline time exactly.
	AdjustmentRampLn float64
}

// DefaultConfig returns the calibration in production use.
func DefaultConfig() Config {
	return Config{
		BaseExponent: 1.06,
		ExponentMin:  0.90,
		ExponentMax:  1.15,
		MileageTiers: []MileageTier{
			{MinWeeklyMiles: 60, Delta: -0.03},
			{MinWeeklyMiles: 45, Delta: -0.02},
			{MinWeeklyMiles: 30, Delta: -0.01},
		},
		LowMileageBelow: 15,
		LowMileageDelta: 0.02,
		AgePlateau:      35,
		MaxAgePenalty:   0.30,
		ExperienceFactors: map[domain.ExperienceTier]float64{
			domain.ExperienceBeginner:     1.06,
			domain.ExperienceIntermediate: 1.00,
			domain.ExperienceAdvanced:     0.97,
			domain.ExperienceElite:        0.94,
		},
		UncertaintyBase:  0.03,
		UncertaintySlope: 0.008,
		UncertaintyCap:   0.06,
		AdjustmentRampLn: math.Ln2,
	}
}

// Engine computes finish-time predictions from a baseline performance.
type Engine struct {
	cfg Config
}

// NewEngine constructs an Engine with the provided configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Predict applies the power-law relation with training-volume, age, and
// experience adjustments and returns the result with its confidence band
// and equivalent-time table.
func (e *Engine) Predict(input domain.PredictionInput) (domain.PredictionResult, error) {
	if err := input.Validate(); err != nil {
		return domain.PredictionResult{}, err
	}

	exponent := e.effectiveExponent(input.WeeklyMileage)
	scale := e.experienceFactor(input.Experience) * e.ageFactor(input.Age)

	predicted := e.project(input, input.GoalDistanceKm, exponent, scale)
	uncertainty := e.uncertainty(input.GoalDistanceKm / input.BaselineDistanceKm)

	predictedSec := int(math.Round(predicted))
	lowSec := int(math.Round(predicted * (1 - uncertainty)))
	highSec := int(math.Round(predicted * (1 + uncertainty)))

	equivalents := make(map[string]domain.Equivalent, len(domain.StandardDistances))
	for _, dist := range domain.StandardDistances {
		eq := e.project(input, dist.Km, exponent, scale)
		eqSec := int(math.Round(eq))
		equivalents[dist.Label] = domain.Equivalent{
			TimeSeconds:   eqSec,
			TimeFormatted: domain.FormatSeconds(eqSec),
			PacePerMile:   domain.FormatSeconds(int(math.Round(eq / dist.Km * domain.KmPerMile))),
		}
	}

	return domain.PredictionResult{
		PredictedSeconds:   predictedSec,
		PredictedFormatted: domain.FormatSeconds(predictedSec),
		LowSeconds:         lowSec,
		LowFormatted:       domain.FormatSeconds(lowSec),
		HighSeconds:        highSec,
		HighFormatted:      domain.FormatSeconds(highSec),
		UncertaintyPct:     math.Round(uncertainty*1000) / 10,
		PacePerMile:        domain.FormatSeconds(int(math.Round(predicted / input.GoalDistanceKm * domain.KmPerMile))),
		PacePerKm:          domain.FormatSeconds(int(math.Round(predicted / input.GoalDistanceKm))),
		Equivalents:        equivalents,
	}, nil
}

// project computes the adjusted time at targetKm. The multiplicative
// factors are blended in proportionally to how far the target sits from
// the baseline distance, so a target equal to the baseline reproduces the
// baseline time exactly.
func (e *Engine) project(input domain.PredictionInput, targetKm, exponent, scale float64) float64 {
	ratio := targetKm / input.BaselineDistanceKm
	raw := float64(input.BaselineTimeSec) * math.Pow(ratio, exponent)

	ramp := e.cfg.AdjustmentRampLn
	if ramp <= 0 {
		ramp = math.Ln2
	}
	blend := math.Abs(math.Log(ratio)) / ramp
	if blend > 1 {
		blend = 1
	}
	return raw * (1 + (scale-1)*blend)
}

// effectiveExponent shifts the base exponent by training volume: more
// volume, less degradation over distance. Clamped to a safe band.
func (e *Engine) effectiveExponent(weeklyMiles float64) float64 {
	exponent := e.cfg.BaseExponent
	if weeklyMiles > 0 {
		applied := false
		for _, tier := range e.cfg.MileageTiers {
			if weeklyMiles >= tier.MinWeeklyMiles {
				exponent += tier.Delta
				applied = true
				break
			}
		}
		if !applied && weeklyMiles < e.cfg.LowMileageBelow {
			exponent += e.cfg.LowMileageDelta
		}
	}
	if exponent < e.cfg.ExponentMin {
		exponent = e.cfg.ExponentMin
	}
	if exponent > e.cfg.ExponentMax {
		exponent = e.cfg.ExponentMax
	}
	return exponent
}

func (e *Engine) experienceFactor(tier domain.ExperienceTier) float64 {
	if tier == "" {
		tier = domain.ExperienceIntermediate
	}
	if factor, ok := e.cfg.ExperienceFactors[tier]; ok {
		return factor
	}
	return 1.0
}

// ageFactor applies a small penalty past the plateau, growing with age and
// capped at MaxAgePenalty. Ages at or under the plateau are neutral except
// for the junior bump below 20.
func (e *Engine) ageFactor(age int) float64 {
	if age <= 0 {
		return 1.0
	}
	var factor float64
	switch {
	case age < 20:
		factor = 1.03
	case age <= e.cfg.AgePlateau:
		factor = 1.0
	case age <= 45:
		factor = 1.0 + float64(age-e.cfg.AgePlateau)*0.004
	case age <= 55:
		factor = 1.04 + float64(age-45)*0.006
	case age <= 65:
		factor = 1.10 + float64(age-55)*0.008
	default:
		factor = 1.18 + float64(age-65)*0.01
	}
	if cap := 1 + e.cfg.MaxAgePenalty; factor > cap {
		factor = cap
	}
	return factor
}

func (e *Engine) uncertainty(ratio float64) float64 {
	u := e.cfg.UncertaintyBase + math.Abs(math.Log(ratio))*e.cfg.UncertaintySlope
	if u > e.cfg.UncertaintyCap {
		u = e.cfg.UncertaintyCap
	}
	return u
}
