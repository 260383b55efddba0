// Package aggregate turns raw activity feeds into training summaries.
// Pure transformation: no I/O, no state, safe for concurrent use.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"example.com/raceprophet/internal/domain"
)

const metersToFeet = 3.281

// Config holds the heuristic tolerances for best-effort bucketing and
// race detection. These are calibration starting points, not contract.
type Config struct {
	// BestEffortTolerancePct is the relative window around a standard
	// distance for long targets.
	BestEffortTolerancePct float64
	// ShortTargetToleranceKm is the absolute window used for targets
	// below ShortTargetMaxKm, where a percentage window would be sloppy.
	ShortTargetToleranceKm float64
	ShortTargetMaxKm       float64
	// MinCompletionPct protects against partial-distance false matches.
	MinCompletionPct float64
	// RacePaceAdvantagePct is how much faster than the rolling average
	// pace an untagged activity must be to count as a race candidate.
	RacePaceAdvantagePct  float64
	RollingPaceWindowDays int
}

// DefaultConfig returns the production tolerances.
func DefaultConfig() Config {
	return Config{
		BestEffortTolerancePct: 0.15,
		ShortTargetToleranceKm: 0.5,
		ShortTargetMaxKm:       10,
		MinCompletionPct:       0.95,
		RacePaceAdvantagePct:   0.10,
		RollingPaceWindowDays:  90,
	}
}

// Aggregator computes training summaries from activity feeds.
type Aggregator struct {
	cfg Config
}

// New constructs an Aggregator.
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Aggregate summarises the trailing windowWeeks of the feed. Deterministic
// and total: malformed activities are dropped, never reported.
func (g *Aggregator) Aggregate(activities []domain.Activity, windowWeeks int) domain.TrainingSummary {
	summary := domain.TrainingSummary{
		WindowWeeks: windowWeeks,
		BestEfforts: map[string]domain.BestEffort{},
	}

	runs := retained(activities)
	if len(runs) == 0 {
		return summary
	}

	latest := runs[0].StartDate
	for _, run := range runs {
		if run.StartDate.After(latest) {
			latest = run.StartDate
		}
	}
	windowStart := latest.AddDate(0, 0, -7*windowWeeks)

	var inWindow []domain.Activity
	for _, run := range runs {
		if !run.StartDate.Before(windowStart) {
			inWindow = append(inWindow, run)
		}
	}
	if len(inWindow) == 0 {
		return summary
	}

	g.fillVolume(&summary, inWindow)
	g.fillBestEfforts(&summary, inWindow)
	g.fillRaces(&summary, inWindow)
	return summary
}

// retained drops non-runs and activities with non-positive distance or
// duration before any aggregation happens.
func retained(activities []domain.Activity) []domain.Activity {
	out := make([]domain.Activity, 0, len(activities))
	for _, act := range activities {
		if !act.IsRun() {
			continue
		}
		if act.DistanceMeters <= 0 || act.MovingTimeSec <= 0 {
			continue
		}
		out = append(out, act)
	}
	return out
}

func (g *Aggregator) fillVolume(summary *domain.TrainingSummary, runs []domain.Activity) {
	weekly := map[string]float64{}
	var totalMiles, totalElevFt, hrSum float64
	var paceSum float64
	bestPace := math.MaxFloat64
	longest := 0.0
	hrCount := 0

	for _, run := range runs {
		miles := run.DistanceKm() / domain.KmPerMile
		totalMiles += miles
		if miles > longest {
			longest = miles
		}

		pace := run.PaceSecPerKm() * domain.KmPerMile
		paceSum += pace
		if pace < bestPace {
			bestPace = pace
		}

		totalElevFt += run.ElevationGainM * metersToFeet
		if run.AverageHeartRate != nil {
			hrSum += *run.AverageHeartRate
			hrCount++
		}

		year, week := run.StartDate.ISOWeek()
		weekly[fmt.Sprintf("%d-W%02d", year, week)] += miles
	}

	summary.TotalRuns = len(runs)
	summary.TotalMiles = round1(totalMiles)
	summary.AvgRunDistanceMi = round1(totalMiles / float64(len(runs)))
	summary.LongestRunMi = round1(longest)
	summary.AvgPaceSecPerMile = int(math.Round(paceSum / float64(len(runs))))
	summary.BestPaceSecPerMile = int(math.Round(bestPace))
	summary.TotalElevationFt = math.Round(totalElevFt)
	summary.AvgElevationFt = math.Round(totalElevFt / float64(len(runs)))
	summary.RunsWithHeartRate = hrCount
	if hrCount > 0 {
		summary.AvgHeartRate = round1(hrSum / float64(hrCount))
	}

	weeks := make([]string, 0, len(weekly))
	var peak, sum float64
	for key, miles := range weekly {
		weeks = append(weeks, key)
		sum += miles
		if miles > peak {
			peak = miles
		}
	}
	sort.Strings(weeks)

	summary.AvgWeeklyMiles = round1(sum / float64(len(weekly)))
	summary.PeakWeeklyMiles = round1(peak)
	summary.WeeklyProgression = make([]domain.WeeklyMileage, 0, len(weeks))
	for _, key := range weeks {
		summary.WeeklyProgression = append(summary.WeeklyProgression, domain.WeeklyMileage{
			Week:  key,
			Miles: round1(weekly[key]),
		})
	}
}

func (g *Aggregator) fillBestEfforts(summary *domain.TrainingSummary, runs []domain.Activity) {
	for _, target := range domain.StandardDistances {
		var best *domain.Activity
		for i := range runs {
			run := runs[i]
			if !g.MatchesDistance(run.DistanceKm(), target.Km) {
				continue
			}
			if best == nil ||
				run.MovingTimeSec < best.MovingTimeSec ||
				(run.MovingTimeSec == best.MovingTimeSec && run.StartDate.Before(best.StartDate)) {
				best = &runs[i]
			}
		}
		if best == nil {
			continue
		}
		summary.BestEfforts[target.Label] = domain.BestEffort{
			ActivityID:       best.ID,
			TargetKm:         target.Km,
			ActualDistanceKm: round2(best.DistanceKm()),
			TimeSeconds:      best.MovingTimeSec,
			TimeFormatted:    domain.FormatSeconds(best.MovingTimeSec),
			PacePerMile:      domain.FormatSeconds(int(math.Round(best.PaceSecPerKm() * domain.KmPerMile))),
			Date:             best.StartDate,
			Name:             best.Name,
		}
	}
}

func (g *Aggregator) fillRaces(summary *domain.TrainingSummary, runs []domain.Activity) {
	for _, run := range runs {
		rolling := g.RollingAveragePace(runs, run.StartDate, run.ID)
		if g.IsRaceCandidate(run, rolling) {
			summary.Races = append(summary.Races, run)
		}
	}
	sort.Slice(summary.Races, func(i, j int) bool {
		return summary.Races[i].StartDate.After(summary.Races[j].StartDate)
	})
}

// MatchesDistance reports whether an activity distance qualifies for the
// target bucket: inside the tolerance window and at least MinCompletionPct
// of the target, so a cut-short race never matches.
func (g *Aggregator) MatchesDistance(activityKm, targetKm float64) bool {
	if activityKm <= 0 {
		return false
	}
	if activityKm < targetKm*g.cfg.MinCompletionPct {
		return false
	}
	if targetKm < g.cfg.ShortTargetMaxKm {
		return math.Abs(activityKm-targetKm) <= g.cfg.ShortTargetToleranceKm
	}
	return math.Abs(activityKm-targetKm)/targetKm <= g.cfg.BestEffortTolerancePct
}

// RollingAveragePace returns the mean pace (sec/km) over the trailing
// rolling window ending at asOf, excluding excludeID. Returns 0 when no
// history exists.
func (g *Aggregator) RollingAveragePace(activities []domain.Activity, asOf time.Time, excludeID int64) float64 {
	windowStart := asOf.AddDate(0, 0, -g.cfg.RollingPaceWindowDays)
	var sum float64
	count := 0
	for _, act := range retained(activities) {
		if act.ID == excludeID {
			continue
		}
		if act.StartDate.Before(windowStart) || act.StartDate.After(asOf) {
			continue
		}
		sum += act.PaceSecPerKm()
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// IsRaceCandidate applies the race-detection heuristic: a source race tag
// always qualifies; otherwise the pace must beat the rolling average by
// the configured margin and the distance must sit on a standard distance.
func (g *Aggregator) IsRaceCandidate(act domain.Activity, rollingPaceSecPerKm float64) bool {
	if !act.IsRun() || act.DistanceMeters <= 0 || act.MovingTimeSec <= 0 {
		return false
	}
	if act.RaceTagged {
		return true
	}
	if rollingPaceSecPerKm <= 0 {
		return false
	}
	if act.PaceSecPerKm() >= rollingPaceSecPerKm*(1-g.cfg.RacePaceAdvantagePct) {
		return false
	}
	for _, target := range domain.StandardDistances {
		if g.MatchesDistance(act.DistanceKm(), target.Km) {
			return true
		}
	}
	return false
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
