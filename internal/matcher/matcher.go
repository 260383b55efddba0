// Package matcher consumes activity-changed events and confirms pending
// predictions against real race results. One event, one pass through the
// state machine: fetch, detect, match, commit. Nothing persists between
// events; the only durable effects are the ledger transition and the
// race-result write, both idempotent per event.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/raceprophet/internal/aggregate"
	"example.com/raceprophet/internal/domain"
	"example.com/raceprophet/internal/strava"
)

// Config bounds the matcher's retries and match windows.
type Config struct {
	// MaxFetchAttempts caps upstream fetch retries before the event is
	// dropped and logged.
	MaxFetchAttempts int
	FetchBackoffBase time.Duration
	FetchBackoffCap  time.Duration
	FetchTimeout     time.Duration
	// MatchWindowDays widens the goal-date comparison: an activity
	// matches a dated prediction within +/- this many days.
	MatchWindowDays int
	// CandidateHorizon limits how far back FindCandidates looks.
	CandidateHorizon time.Duration
	// FeedWindowWeeks is the history window fetched for pace-based race
	// detection on untagged activities.
	FeedWindowWeeks int
	HashSalt        string
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MaxFetchAttempts: 4,
		FetchBackoffBase: 500 * time.Millisecond,
		FetchBackoffCap:  8 * time.Second,
		FetchTimeout:     10 * time.Second,
		MatchWindowDays:  3,
		CandidateHorizon: 120 * 24 * time.Hour,
		FeedWindowWeeks:  13,
	}
}

// Matcher coordinates the ledger and snapshot store. It owns neither.
type Matcher struct {
	cfg     Config
	tokens  strava.TokenSource
	fetcher strava.Fetcher
	agg     *aggregate.Aggregator
	ledger  domain.Ledger
	results domain.ResultWriter
	consent domain.ConsentStore
	logger  *log.Logger

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(context.Context, time.Duration) error
}

// New constructs a Matcher.
func New(cfg Config, tokens strava.TokenSource, fetcher strava.Fetcher, agg *aggregate.Aggregator, ledger domain.Ledger, results domain.ResultWriter, consent domain.ConsentStore) *Matcher {
	return &Matcher{
		cfg:     cfg,
		tokens:  tokens,
		fetcher: fetcher,
		agg:     agg,
		ledger:  ledger,
		results: results,
		consent: consent,
		logger:  log.New(log.Writer(), "[matcher] ", log.LstdFlags),
		sleep:   sleepCtx,
	}
}

// HandleActivityEvent runs one event through the state machine. Safe to
// re-invoke for the same event: duplicate delivery lands on the ledger's
// conditional write and no-ops. A non-nil error means transient storage
// trouble and asks the caller to redeliver.
func (m *Matcher) HandleActivityEvent(ctx context.Context, event domain.ActivityEvent) error {
	if event.EventType == domain.EventTypeDelete {
		recordOutcome(outcomeSkipped)
		return nil
	}

	athleteHash := domain.HashAthleteID(m.cfg.HashSalt, event.AthleteID)

	optedIn, err := m.consent.HasConsent(ctx, athleteHash)
	if err != nil {
		return fmt.Errorf("consent lookup: %w", err)
	}
	if !optedIn {
		recordOutcome(outcomeSkipped)
		return nil
	}

	token, err := m.tokens.AccessToken(ctx, event.AthleteID)
	if err != nil {
		// Credentials are gone; retrying cannot help. The surrounding
		// system prompts re-authorization out of band.
		m.logger.Printf("auth failed (athlete_hash=%s): %v", athleteHash, err)
		recordOutcome(outcomeAuthFailed)
		return nil
	}

	activity, err := m.fetchActivity(ctx, token, event.ActivityID)
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			m.logger.Printf("auth failed mid-fetch (athlete_hash=%s): %v", athleteHash, err)
			recordOutcome(outcomeAuthFailed)
			return nil
		}
		m.logger.Printf("event dropped after %d fetch attempts (activity=%d): %v",
			m.cfg.MaxFetchAttempts, event.ActivityID, err)
		recordOutcome(outcomeDropped)
		return nil
	}

	if !activity.IsRun() {
		recordOutcome(outcomeSkipped)
		return nil
	}

	isRace, err := m.detectRace(ctx, token, activity)
	if err != nil {
		m.logger.Printf("event dropped, race detection needs feed history (activity=%d): %v", activity.ID, err)
		recordOutcome(outcomeDropped)
		return nil
	}
	if !isRace {
		recordOutcome(outcomeNotRace)
		return nil
	}

	candidate, err := m.findCandidate(ctx, athleteHash, activity)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if candidate == nil {
		recordOutcome(outcomeNoCandidate)
		return nil
	}

	return m.commit(ctx, athleteHash, *candidate, activity)
}

// fetchActivity retries transient failures with bounded exponential
// backoff. Auth errors abort immediately.
func (m *Matcher) fetchActivity(ctx context.Context, token string, activityID int64) (domain.Activity, error) {
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxFetchAttempts; attempt++ {
		if attempt > 0 {
			recordFetchRetry()
			if err := m.sleep(ctx, m.backoff(attempt)); err != nil {
				return domain.Activity{}, err
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
		activity, err := m.fetcher.FetchActivity(fetchCtx, token, activityID)
		cancel()
		if err == nil {
			return activity, nil
		}
		if !domain.IsRetryable(err) {
			return domain.Activity{}, err
		}
		lastErr = err
	}
	return domain.Activity{}, lastErr
}

// detectRace applies the aggregator heuristic. Tagged races need no
// history; untagged ones are compared against the athlete's rolling pace,
// which requires the recent feed.
func (m *Matcher) detectRace(ctx context.Context, token string, activity domain.Activity) (bool, error) {
	if activity.RaceTagged {
		return true, nil
	}

	var feed []domain.Activity
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxFetchAttempts; attempt++ {
		if attempt > 0 {
			recordFetchRetry()
			if err := m.sleep(ctx, m.backoff(attempt)); err != nil {
				return false, err
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
		batch, err := m.fetcher.FetchActivities(fetchCtx, token, m.cfg.FeedWindowWeeks)
		cancel()
		if err == nil {
			feed = batch
			lastErr = nil
			break
		}
		if !domain.IsRetryable(err) {
			return false, err
		}
		lastErr = err
	}
	if lastErr != nil {
		return false, lastErr
	}

	rolling := m.agg.RollingAveragePace(feed, activity.StartDate, activity.ID)
	return m.agg.IsRaceCandidate(activity, rolling), nil
}

// findCandidate picks the pending prediction this activity confirms:
// goal distance within tolerance, goal date unset or inside the match
// window, most recently created first.
func (m *Matcher) findCandidate(ctx context.Context, athleteHash string, activity domain.Activity) (*domain.PendingPrediction, error) {
	after := activity.StartDate.Add(-m.cfg.CandidateHorizon)
	candidates, err := m.ledger.FindCandidates(ctx, athleteHash, after)
	if err != nil {
		return nil, err
	}

	window := time.Duration(m.cfg.MatchWindowDays) * 24 * time.Hour
	for i := range candidates {
		p := candidates[i]
		if !m.agg.MatchesDistance(activity.DistanceKm(), p.GoalDistanceKm) {
			continue
		}
		if p.GoalDate != nil {
			diff := activity.StartDate.Sub(*p.GoalDate)
			if diff < -window || diff > window {
				continue
			}
		}
		return &p, nil
	}
	return nil, nil
}

// commit performs the exactly-once transition and records the outcome.
func (m *Matcher) commit(ctx context.Context, athleteHash string, p domain.PendingPrediction, activity domain.Activity) error {
	match := domain.RaceMatch{
		ActivityID:      activity.ID,
		ActivityDate:    activity.StartDate,
		DistanceKm:      activity.DistanceKm(),
		TimeSeconds:     activity.MovingTimeSec,
		ElevationGainFt: activity.ElevationGainM * 3.281,
	}

	err := m.ledger.MarkMatched(ctx, p.ID, match)
	switch {
	case errors.Is(err, domain.ErrAlreadyMatched):
		// Another event already satisfied this candidate.
		m.logger.Printf("already matched (prediction=%s, activity=%d)", p.ID, activity.ID)
		recordOutcome(outcomeAlreadyMatched)
		return nil
	case errors.Is(err, domain.ErrPredictionNotFound):
		// Ledger entry vanished, e.g. deleted by the user. Not a pipeline error.
		m.logger.Printf("prediction vanished before commit (prediction=%s)", p.ID)
		recordOutcome(outcomeNoCandidate)
		return nil
	case err != nil:
		return fmt.Errorf("mark matched: %w", err)
	}

	rec := domain.RaceResultRecord{
		PredictionID:     p.ID,
		AthleteHash:      athleteHash,
		RefDistanceKm:    p.RefDistanceKm,
		RefTimeSec:       p.RefTimeSec,
		RefDate:          p.RefDate,
		GoalDistanceKm:   match.DistanceKm,
		GoalTimeSec:      match.TimeSeconds,
		GoalDate:         match.ActivityDate,
		GoalElevationFt:  match.ElevationGainFt,
		PredictedTimeSec: p.PredictedTimeSec,
		Source:           "webhook",
	}

	// The ledger transition already happened, so a redelivered event
	// would no-op; retry the result write here instead of losing it.
	var writeErr error
	for attempt := 0; attempt < m.cfg.MaxFetchAttempts; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, m.backoff(attempt)); err != nil {
				return err
			}
		}
		if _, writeErr = m.results.StoreRaceResult(ctx, rec); writeErr == nil {
			break
		}
	}
	if writeErr != nil {
		m.logger.Printf("race result write failed after retries (prediction=%s): %v", p.ID, writeErr)
		recordOutcome(outcomeDropped)
		return nil
	}

	errorSec := p.PredictedTimeSec - match.TimeSeconds
	m.logger.Printf("matched (prediction=%s, activity=%d, goal_km=%.2f, predicted=%ds, actual=%ds, error=%ds)",
		p.ID, activity.ID, p.GoalDistanceKm, p.PredictedTimeSec, match.TimeSeconds, errorSec)
	recordOutcome(outcomeMatched)
	return nil
}

func (m *Matcher) backoff(attempt int) time.Duration {
	delay := m.cfg.FetchBackoffBase << uint(attempt-1)
	if delay > m.cfg.FetchBackoffCap {
		delay = m.cfg.FetchBackoffCap
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
