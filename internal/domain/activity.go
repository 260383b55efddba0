package domain

import "time"

// Activity is the normalized run record handed to the core by the
// upstream feed layer. Distances arrive in meters, durations in seconds.
type Activity struct {
	ID               int64
	Name             string
	Sport            string
	StartDate        time.Time
	DistanceMeters   float64
	MovingTimeSec    int
	ElevationGainM   float64
	AverageHeartRate *float64
	RaceTagged       bool
}

// DistanceKm returns the activity distance in kilometers.
func (a Activity) DistanceKm() float64 {
	return a.DistanceMeters / 1000
}

// PaceSecPerKm returns the average pace, or 0 for degenerate records.
func (a Activity) PaceSecPerKm() float64 {
	km := a.DistanceKm()
	if km <= 0 || a.MovingTimeSec <= 0 {
		return 0
	}
	return float64(a.MovingTimeSec) / km
}

// IsRun reports whether the activity belongs to the single sport this
// pipeline understands.
func (a Activity) IsRun() bool {
	return a.Sport == "Run"
}

// Event types delivered by the webhook layer.
const (
	EventTypeCreate = "create"
	EventTypeUpdate = "update"
	EventTypeDelete = "delete"
)

// ActivityEvent is the inbound notification that an athlete's activity
// changed. Delete events are ignored for matching purposes.
type ActivityEvent struct {
	AthleteID  int64     `json:"athlete_id"`
	ActivityID int64     `json:"activity_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
}
