package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	predictionMatchedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raceprophet",
		Subsystem: "persistence",
		Name:      "last_prediction_matched_timestamp_seconds",
		Help:      "Unix timestamp of the most recent pending prediction transitioned to matched.",
	})
	raceResultGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raceprophet",
		Subsystem: "persistence",
		Name:      "last_race_result_timestamp_seconds",
		Help:      "Unix timestamp of the most recent race result written to Postgres.",
	})
)

func init() {
	prometheus.MustRegister(predictionMatchedGauge, raceResultGauge)
}

// RecordPredictionMatched updates the match watermark gauge.
func RecordPredictionMatched(ts time.Time) {
	if ts.IsZero() {
		return
	}
	predictionMatchedGauge.Set(float64(ts.Unix()))
}

// RecordRaceResultStored updates the race-result watermark gauge.
func RecordRaceResultStored(ts time.Time) {
	if ts.IsZero() {
		return
	}
	raceResultGauge.Set(float64(ts.Unix()))
}
