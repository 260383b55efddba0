package predict

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/raceprophet/internal/domain"
)

func validInput() domain.PredictionInput {
	return domain.PredictionInput{
		BaselineDistanceKm: 5,
		BaselineTimeSec:    1500,
		GoalDistanceKm:     21.0975,
		WeeklyMileage:      30,
		Age:                28,
		Experience:         domain.ExperienceIntermediate,
	}
}

func TestPredictEqualDistancesReturnsBaselineExactly(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	cases := []struct {
		name  string
		input domain.PredictionInput
	}{
		{"intermediate", domain.PredictionInput{BaselineDistanceKm: 10, BaselineTimeSec: 2700, GoalDistanceKm: 10, WeeklyMileage: 40, Age: 33, Experience: domain.ExperienceIntermediate}},
		{"beginner with age penalty", domain.PredictionInput{BaselineDistanceKm: 5, BaselineTimeSec: 1800, GoalDistanceKm: 5, WeeklyMileage: 10, Age: 58, Experience: domain.ExperienceBeginner}},
		{"elite", domain.PredictionInput{BaselineDistanceKm: 42.195, BaselineTimeSec: 8100, GoalDistanceKm: 42.195, WeeklyMileage: 90, Age: 24, Experience: domain.ExperienceElite}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := engine.Predict(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.input.BaselineTimeSec, result.PredictedSeconds)
		})
	}
}

func TestPredictBandOrdering(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	inputs := []domain.PredictionInput{
		validInput(),
		{BaselineDistanceKm: 42.195, BaselineTimeSec: 12600, GoalDistanceKm: 5, WeeklyMileage: 55, Age: 61, Experience: domain.ExperienceAdvanced},
		{BaselineDistanceKm: 1.60934, BaselineTimeSec: 330, GoalDistanceKm: 50, WeeklyMileage: 8, Age: 19, Experience: domain.ExperienceBeginner},
	}

	for _, input := range inputs {
		result, err := engine.Predict(input)
		require.NoError(t, err)
		require.LessOrEqual(t, result.LowSeconds, result.PredictedSeconds)
		require.LessOrEqual(t, result.PredictedSeconds, result.HighSeconds)
		require.GreaterOrEqual(t, result.UncertaintyPct, 0.0)
	}
}

func TestPredictUncertaintyGrowsWithDistanceRatio(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	input := validInput()
	input.GoalDistanceKm = 5
	same, err := engine.Predict(input)
	require.NoError(t, err)

	input.GoalDistanceKm = 10
	mid, err := engine.Predict(input)
	require.NoError(t, err)

	input.GoalDistanceKm = 42.195
	far, err := engine.Predict(input)
	require.NoError(t, err)

	require.LessOrEqual(t, same.UncertaintyPct, mid.UncertaintyPct)
	require.LessOrEqual(t, mid.UncertaintyPct, far.UncertaintyPct)
}

func TestPredictMileageNeverIncreasesPrediction(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	input := validInput()
	base := float64(input.BaselineTimeSec) * math.Pow(input.GoalDistanceKm/input.BaselineDistanceKm, DefaultConfig().BaseExponent)

	previous := math.MaxInt
	for _, miles := range []float64{20, 30, 45, 60, 80} {
		input.WeeklyMileage = miles
		result, err := engine.Predict(input)
		require.NoError(t, err)
		require.LessOrEqual(t, result.PredictedSeconds, previous, "mileage %v", miles)
		require.LessOrEqual(t, float64(result.PredictedSeconds), base+1, "mileage %v", miles)
		previous = result.PredictedSeconds
	}
}

func TestPredictExperienceMonotonicAcrossTiers(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	input := validInput()
	previous := math.MaxInt
	for _, tier := range domain.ExperienceTiers {
		input.Experience = tier
		result, err := engine.Predict(input)
		require.NoError(t, err)
		require.LessOrEqual(t, result.PredictedSeconds, previous, "tier %s", tier)
		previous = result.PredictedSeconds
	}
}

func TestPredictHalfMarathonScenario(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	result, err := engine.Predict(validInput())
	require.NoError(t, err)

	unadjusted := 1500 * math.Pow(21.0975/5, 1.06)
	volumeAdjusted := 1500 * math.Pow(21.0975/5, 1.05)

	require.Less(t, float64(result.PredictedSeconds), unadjusted)
	require.GreaterOrEqual(t, float64(result.PredictedSeconds), volumeAdjusted-1)
	require.Less(t, result.LowSeconds, result.PredictedSeconds)
	require.Greater(t, result.HighSeconds, result.PredictedSeconds)

	require.Len(t, result.Equivalents, len(domain.StandardDistances))
	for _, dist := range domain.StandardDistances {
		require.Contains(t, result.Equivalents, dist.Label)
	}
	require.Equal(t, 1500, result.Equivalents["5K"].TimeSeconds)
}

func TestPredictAgePenaltyCapped(t *testing.T) {
	cfg := DefaultConfig()
	engine := NewEngine(cfg)

	input := validInput()
	input.Age = 95
	old, err := engine.Predict(input)
	require.NoError(t, err)

	input.Age = 28
	young, err := engine.Predict(input)
	require.NoError(t, err)

	require.Greater(t, old.PredictedSeconds, young.PredictedSeconds)
	require.LessOrEqual(t, float64(old.PredictedSeconds), float64(young.PredictedSeconds)*(1+cfg.MaxAgePenalty)+1)
}

func TestPredictRejectsInvalidInput(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	cases := []struct {
		name  string
		mutid func(*domain.PredictionInput)
	}{
		{"zero baseline distance", func(in *domain.PredictionInput) { in.BaselineDistanceKm = 0 }},
		{"negative baseline time", func(in *domain.PredictionInput) { in.BaselineTimeSec = -1 }},
		{"zero goal distance", func(in *domain.PredictionInput) { in.GoalDistanceKm = 0 }},
		{"unknown experience", func(in *domain.PredictionInput) { in.Experience = "weekend-warrior" }},
		{"negative mileage", func(in *domain.PredictionInput) { in.WeeklyMileage = -5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutid(&input)
			_, err := engine.Predict(input)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}
