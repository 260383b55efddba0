package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashAthleteID(t *testing.T) {
	hash := HashAthleteID("salt", 42)
	require.Len(t, hash, 16)
	require.Equal(t, hash, HashAthleteID("salt", 42), "deterministic for same salt and id")
	require.NotEqual(t, hash, HashAthleteID("other-salt", 42))
	require.NotEqual(t, hash, HashAthleteID("salt", 43))
}

func TestAgeBucket(t *testing.T) {
	cases := map[int]string{
		-1: "",
		0:  "",
		17: "under-18",
		18: "18-24",
		24: "18-24",
		25: "25-34",
		44: "35-44",
		54: "45-54",
		64: "55-64",
		65: "65+",
		90: "65+",
	}
	for age, want := range cases {
		require.Equal(t, want, AgeBucket(age), "age %d", age)
	}
}

func TestFormatSeconds(t *testing.T) {
	require.Equal(t, "42:30", FormatSeconds(2550))
	require.Equal(t, "1:38:00", FormatSeconds(5880))
	require.Equal(t, "0:05", FormatSeconds(5))
	require.Equal(t, "0:00", FormatSeconds(-10))
}

func TestPredictionInputValidate(t *testing.T) {
	valid := PredictionInput{
		BaselineDistanceKm: 10,
		BaselineTimeSec:    2550,
		GoalDistanceKm:     21.0975,
		WeeklyMileage:      35,
		Age:                41,
	}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.BaselineDistanceKm = 0
	require.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	bad = valid
	bad.BaselineTimeSec = -1
	require.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	bad = valid
	bad.Experience = "weekend-warrior"
	require.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	ok := valid
	ok.Experience = ExperienceElite
	require.NoError(t, ok.Validate())
}

func TestActivityHelpers(t *testing.T) {
	run := Activity{
		Sport:          "Run",
		StartDate:      time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC),
		DistanceMeters: 10000,
		MovingTimeSec:  2500,
	}
	require.True(t, run.IsRun())
	require.Equal(t, 10.0, run.DistanceKm())
	require.Equal(t, 250.0, run.PaceSecPerKm())

	ride := Activity{Sport: "Ride", DistanceMeters: 40000, MovingTimeSec: 4800}
	require.False(t, ride.IsRun())

	degenerate := Activity{Sport: "Run"}
	require.Zero(t, degenerate.PaceSecPerKm())
}
