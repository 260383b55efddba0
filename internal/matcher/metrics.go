package matcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeMatched        = "matched"
	outcomeAlreadyMatched = "already_matched"
	outcomeNoCandidate    = "no_candidate"
	outcomeNotRace        = "not_race"
	outcomeSkipped        = "skipped"
	outcomeAuthFailed     = "auth_failed"
	outcomeDropped        = "dropped"
)

var (
	outcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raceprophet",
		Subsystem: "matcher",
		Name:      "events_total",
		Help:      "Activity events handled, grouped by final outcome.",
	}, []string{"outcome"})

	fetchRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raceprophet",
		Subsystem: "matcher",
		Name:      "fetch_retries_total",
		Help:      "Upstream fetch retries after transient failures.",
	})
)

func init() {
	prometheus.MustRegister(outcomeCounter, fetchRetryCounter)
}

func recordOutcome(outcome string) {
	outcomeCounter.WithLabelValues(outcome).Inc()
}

func recordFetchRetry() {
	fetchRetryCounter.Inc()
}
