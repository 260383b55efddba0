// Package api exposes HTTP handlers for the prediction service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"example.com/raceprophet/internal/aggregate"
	"example.com/raceprophet/internal/auth"
	"example.com/raceprophet/internal/domain"
	"example.com/raceprophet/internal/predict"
	"example.com/raceprophet/internal/strava"
)

// EventSink accepts webhook events for asynchronous delivery. Implemented
// by the Postgres outbox.
type EventSink interface {
	Enqueue(ctx context.Context, athleteHash string, event domain.ActivityEvent) error
}

// Config carries the handler-level settings.
type Config struct {
	HashSalt           string
	WebhookVerifyToken string
	FeedWindowWeeks    int
}

// Handler coordinates HTTP requests with the prediction core.
type Handler struct {
	cfg     Config
	engine  *predict.Engine
	agg     *aggregate.Aggregator
	ledger  domain.Ledger
	store   domain.SnapshotStore
	consent domain.ConsentStore
	fetcher strava.Fetcher
	tokens  strava.TokenSource
	events  EventSink
	logger  *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(cfg Config, engine *predict.Engine, agg *aggregate.Aggregator, ledger domain.Ledger, store domain.SnapshotStore, consent domain.ConsentStore, fetcher strava.Fetcher, tokens strava.TokenSource, events EventSink) *Handler {
	if cfg.FeedWindowWeeks <= 0 {
		cfg.FeedWindowWeeks = 13
	}
	return &Handler{
		cfg:     cfg,
		engine:  engine,
		agg:     agg,
		ledger:  ledger,
		store:   store,
		consent: consent,
		fetcher: fetcher,
		tokens:  tokens,
		events:  events,
		logger:  log.New(log.Writer(), "[api] ", log.LstdFlags),
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/predictions", h.predictions)
	mux.HandleFunc("/v1/training-summary", h.trainingSummary)
	mux.HandleFunc("/v1/consent", h.consentEndpoint)
	mux.HandleFunc("/v1/stats", h.stats)
	mux.HandleFunc("/v1/dataset/export", h.datasetExport)
	mux.HandleFunc("/v1/webhooks/strava", h.webhook)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// PredictionRequest is the payload for POST /v1/predictions.
type PredictionRequest struct {
	AthleteID          int64      `json:"athlete_id,omitempty"`
	BaselineDistanceKm float64    `json:"baseline_distance_km"`
	BaselineTimeSec    int        `json:"baseline_time_seconds"`
	BaselineDate       *time.Time `json:"baseline_date,omitempty"`
	GoalDistanceKm     float64    `json:"goal_distance_km"`
	GoalDate           *time.Time `json:"goal_date,omitempty"`
	WeeklyMileage      float64    `json:"weekly_mileage,omitempty"`
	Age                int        `json:"age,omitempty"`
	Experience         string     `json:"experience,omitempty"`
	WindowWeeks        int        `json:"window_weeks,omitempty"`
}

// PredictionResponse wraps the engine output with storage metadata.
type PredictionResponse struct {
	domain.PredictionResult
	PredictionID string                  `json:"prediction_id,omitempty"`
	Stored       bool                    `json:"stored"`
	Summary      *domain.TrainingSummary `json:"training_summary,omitempty"`
}

func (h *Handler) predictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopePredictionsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope predictions:write required")
		return
	}

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	// The feed is advisory: weekly mileage falls back to the aggregated
	// average when the caller left it unset.
	windowWeeks := req.WindowWeeks
	if windowWeeks <= 0 {
		windowWeeks = h.cfg.FeedWindowWeeks
	}

	var summary *domain.TrainingSummary
	if req.AthleteID > 0 {
		if s := h.fetchSummary(r.Context(), req.AthleteID, windowWeeks); s != nil {
			summary = s
			if req.WeeklyMileage == 0 {
				req.WeeklyMileage = s.AvgWeeklyMiles
			}
		}
	}

	input := domain.PredictionInput{
		BaselineDistanceKm: req.BaselineDistanceKm,
		BaselineTimeSec:    req.BaselineTimeSec,
		GoalDistanceKm:     req.GoalDistanceKm,
		WeeklyMileage:      req.WeeklyMileage,
		Age:                req.Age,
		Experience:         domain.ExperienceTier(req.Experience),
	}

	result, err := h.engine.Predict(input)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := PredictionResponse{PredictionResult: result, Summary: summary}

	if req.AthleteID > 0 {
		id, stored := h.storePrediction(r.Context(), req, input, result, summary)
		resp.PredictionID = id
		resp.Stored = stored
	}

	writeJSON(w, http.StatusOK, resp)
}

// fetchSummary pulls and aggregates the athlete's recent feed. Failures are
// logged and swallowed: a prediction never fails because Strava is down.
func (h *Handler) fetchSummary(ctx context.Context, athleteID int64, windowWeeks int) *domain.TrainingSummary {
	token, err := h.tokens.AccessToken(ctx, athleteID)
	if err != nil {
		h.logger.Printf("feed skipped, no token (athlete=%d): %v", athleteID, err)
		return nil
	}
	activities, err := h.fetcher.FetchActivities(ctx, token, windowWeeks)
	if err != nil {
		h.logger.Printf("feed skipped, fetch failed (athlete=%d): %v", athleteID, err)
		return nil
	}
	summary := h.agg.Aggregate(activities, windowWeeks)
	return &summary
}

// storePrediction persists the snapshot and pending prediction when the
// athlete opted in. Storage failures degrade to an unstored prediction.
func (h *Handler) storePrediction(ctx context.Context, req PredictionRequest, input domain.PredictionInput, result domain.PredictionResult, summary *domain.TrainingSummary) (string, bool) {
	athleteHash := domain.HashAthleteID(h.cfg.HashSalt, req.AthleteID)

	optedIn, err := h.consent.HasConsent(ctx, athleteHash)
	if err != nil {
		h.logger.Printf("consent lookup failed (athlete_hash=%s): %v", athleteHash, err)
		return "", false
	}
	if !optedIn {
		return "", false
	}

	if summary != nil {
		if _, err := h.store.StoreSnapshot(ctx, athleteHash, *summary, domain.AgeBucket(req.Age), input.Experience); err != nil {
			h.logger.Printf("snapshot store failed (athlete_hash=%s): %v", athleteHash, err)
		}
	}

	id, err := h.ledger.Insert(ctx, domain.PendingPrediction{
		AthleteHash:      athleteHash,
		RefDistanceKm:    req.BaselineDistanceKm,
		RefTimeSec:       req.BaselineTimeSec,
		RefDate:          req.BaselineDate,
		GoalDistanceKm:   req.GoalDistanceKm,
		GoalDate:         req.GoalDate,
		PredictedTimeSec: result.PredictedSeconds,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		h.logger.Printf("ledger insert failed (athlete_hash=%s): %v", athleteHash, err)
		return "", false
	}
	return id, true
}

// TrainingSummaryRequest is the payload for POST /v1/training-summary.
// Callers either supply raw activities or an athlete id to fetch for.
type TrainingSummaryRequest struct {
	AthleteID   int64             `json:"athlete_id,omitempty"`
	WindowWeeks int               `json:"window_weeks,omitempty"`
	Activities  []domain.Activity `json:"activities,omitempty"`
}

func (h *Handler) trainingSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopePredictionsRead) && !claims.HasScope(auth.ScopePredictionsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope predictions:read required")
		return
	}

	var req TrainingSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	windowWeeks := req.WindowWeeks
	if windowWeeks <= 0 {
		windowWeeks = h.cfg.FeedWindowWeeks
	}

	activities := req.Activities
	if len(activities) == 0 {
		if req.AthleteID <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "athlete_id or activities required")
			return
		}
		token, err := h.tokens.AccessToken(r.Context(), req.AthleteID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no upstream credentials for athlete")
			return
		}
		activities, err = h.fetcher.FetchActivities(r.Context(), token, windowWeeks)
		if err != nil {
			if errors.Is(err, domain.ErrAuth) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "upstream rejected credentials")
				return
			}
			writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
			return
		}
	}

	summary := h.agg.Aggregate(activities, windowWeeks)
	writeJSON(w, http.StatusOK, summary)
}

// ConsentRequest is the payload for PUT /v1/consent.
type ConsentRequest struct {
	AthleteID int64 `json:"athlete_id"`
	OptedIn   bool  `json:"opted_in"`
}

func (h *Handler) consentEndpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopePredictionsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope predictions:write required")
		return
	}

	var req ConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.AthleteID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "athlete_id is required")
		return
	}

	athleteHash := domain.HashAthleteID(h.cfg.HashSalt, req.AthleteID)
	if err := h.consent.SetConsent(r.Context(), athleteHash, req.OptedIn); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"athlete_hash": athleteHash,
		"opted_in":     req.OptedIn,
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeStatsRead) {
		writeError(w, http.StatusForbidden, "forbidden", "scope stats:read required")
		return
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// datasetExport returns the anonymized calibration dataset. Gated by its
// own scope: the rows carry no identifiers but bulk export is still an
// operator-only concern.
func (h *Handler) datasetExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeDatasetExport) {
		writeError(w, http.StatusForbidden, "forbidden", "scope dataset:export required")
		return
	}

	rows, err := h.store.ExportDataset(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if rows == nil {
		rows = []domain.DatasetRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(rows),
		"records": rows,
	})
}

// webhookEvent mirrors the Strava push payload.
type webhookEvent struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	AspectType string `json:"aspect_type"`
	OwnerID    int64  `json:"owner_id"`
	EventTime  int64  `json:"event_time"`
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.webhookChallenge(w, r)
	case http.MethodPost:
		h.webhookEvent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// webhookChallenge answers the subscription validation handshake.
func (h *Handler) webhookChallenge(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != h.cfg.WebhookVerifyToken {
		writeError(w, http.StatusForbidden, "forbidden", "verify token mismatch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": query.Get("hub.challenge")})
}

// webhookEvent acknowledges fast and defers all work to the outbox. The
// upstream retries on non-2xx, so only enqueue failures return an error.
func (h *Handler) webhookEvent(w http.ResponseWriter, r *http.Request) {
	var payload webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if payload.ObjectType != "activity" {
		// Athlete-level events (e.g. deauthorization) are acknowledged
		// without processing.
		w.WriteHeader(http.StatusOK)
		return
	}

	aspect := strings.ToLower(payload.AspectType)
	switch aspect {
	case domain.EventTypeCreate, domain.EventTypeUpdate, domain.EventTypeDelete:
	default:
		writeError(w, http.StatusBadRequest, "validation_failed", "unknown aspect_type")
		return
	}
	if payload.OwnerID <= 0 || payload.ObjectID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "owner_id and object_id are required")
		return
	}

	occurred := time.Unix(payload.EventTime, 0).UTC()
	if payload.EventTime == 0 {
		occurred = time.Now().UTC()
	}

	event := domain.ActivityEvent{
		AthleteID:  payload.OwnerID,
		ActivityID: payload.ObjectID,
		EventType:  aspect,
		OccurredAt: occurred,
	}
	athleteHash := domain.HashAthleteID(h.cfg.HashSalt, payload.OwnerID)

	if err := h.events.Enqueue(r.Context(), athleteHash, event); err != nil {
		h.logger.Printf("webhook enqueue failed (athlete_hash=%s, activity=%d): %v", athleteHash, payload.ObjectID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "event not recorded")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
