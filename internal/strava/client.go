// Package strava fetches normalized activity data from the Strava API.
// Token acquisition and refresh belong to the surrounding system; this
// client only consumes tokens it is handed.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/raceprophet/internal/domain"
)

const defaultBaseURL = "https://www.strava.com/api/v3"

const activitiesPageSize = 100

// Fetcher is the activity-feed surface the core consumes.
type Fetcher interface {
	FetchActivities(ctx context.Context, accessToken string, windowWeeks int) ([]domain.Activity, error)
	FetchActivity(ctx context.Context, accessToken string, activityID int64) (domain.Activity, error)
}

// TokenSource resolves an access token for an athlete. Implemented by the
// excluded OAuth layer; returns domain.ErrAuth when credentials are gone.
type TokenSource interface {
	AccessToken(ctx context.Context, athleteID int64) (string, error)
}

// Client talks to the Strava REST API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient constructs a Client with sane defaults.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// activityPayload mirrors the wire format of a Strava activity.
type activityPayload struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	StartDate          string   `json:"start_date"`
	Distance           float64  `json:"distance"`
	MovingTime         int      `json:"moving_time"`
	TotalElevationGain float64  `json:"total_elevation_gain"`
	AverageHeartrate   *float64 `json:"average_heartrate"`
	WorkoutType        *int     `json:"workout_type"`
}

// workout_type 1 is Strava's race tag for runs.
const workoutTypeRace = 1

func (p activityPayload) toDomain() domain.Activity {
	started, _ := time.Parse(time.RFC3339, p.StartDate)
	return domain.Activity{
		ID:               p.ID,
		Name:             p.Name,
		Sport:            p.Type,
		StartDate:        started,
		DistanceMeters:   p.Distance,
		MovingTimeSec:    p.MovingTime,
		ElevationGainM:   p.TotalElevationGain,
		AverageHeartRate: p.AverageHeartrate,
		RaceTagged:       p.WorkoutType != nil && *p.WorkoutType == workoutTypeRace,
	}
}

// FetchActivities pages through the athlete's feed for the trailing
// windowWeeks. Auth failures surface as domain.ErrAuth; everything else
// transient wraps into a retryable FetchError.
func (c *Client) FetchActivities(ctx context.Context, accessToken string, windowWeeks int) ([]domain.Activity, error) {
	after := time.Now().AddDate(0, 0, -7*windowWeeks).Unix()

	var all []domain.Activity
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/athlete/activities?after=%d&per_page=%d&page=%d",
			c.baseURL(), after, activitiesPageSize, page)

		var batch []activityPayload
		if err := c.getJSON(ctx, accessToken, url, "activities", &batch); err != nil {
			return nil, err
		}
		for _, payload := range batch {
			all = append(all, payload.toDomain())
		}
		if len(batch) < activitiesPageSize {
			break
		}
	}
	return all, nil
}

// FetchActivity retrieves full detail for a single activity.
func (c *Client) FetchActivity(ctx context.Context, accessToken string, activityID int64) (domain.Activity, error) {
	url := c.baseURL() + "/activities/" + strconv.FormatInt(activityID, 10)

	var payload activityPayload
	if err := c.getJSON(ctx, accessToken, url, "activity", &payload); err != nil {
		return domain.Activity{}, err
	}
	return payload.toDomain(), nil
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

func (c *Client) getJSON(ctx context.Context, accessToken, url, op string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &domain.FetchError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &domain.FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: upstream returned %d", domain.ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.FetchError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.FetchError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// StaticTokenSource maps athlete ids to fixed tokens. Used in local dev
// and tests in place of the real OAuth layer.
type StaticTokenSource map[int64]string

// ParseStaticTokens builds a StaticTokenSource from "id:token,id:token".
// Malformed entries are skipped.
func ParseStaticTokens(raw string) StaticTokenSource {
	out := StaticTokenSource{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idStr, token, ok := strings.Cut(entry, ":")
		if !ok || token == "" {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		out[id] = strings.TrimSpace(token)
	}
	return out
}

// AccessToken returns the configured token for the athlete.
func (s StaticTokenSource) AccessToken(_ context.Context, athleteID int64) (string, error) {
	token, ok := s[athleteID]
	if !ok || token == "" {
		return "", fmt.Errorf("%w: no token for athlete %d", domain.ErrAuth, athleteID)
	}
	return token, nil
}
