package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"example.com/raceprophet/internal/domain"
)

// EventHandler is the matcher-facing surface the bridge dispatches to.
type EventHandler interface {
	HandleActivityEvent(ctx context.Context, event domain.ActivityEvent) error
}

// MatchHandler bridges decoded Kafka messages to the matcher. Event types
// outside athlete.activity_* are acknowledged and ignored so the topic can
// carry future event families without redeploying the matcher.
type MatchHandler struct {
	matcher EventHandler
}

// NewMatchHandler constructs a MatchHandler.
func NewMatchHandler(matcher EventHandler) *MatchHandler {
	return &MatchHandler{matcher: matcher}
}

// Handle decodes the payload and runs the matcher state machine.
func (h *MatchHandler) Handle(ctx context.Context, msg Message) error {
	if !strings.HasPrefix(msg.EventType, "athlete.activity_") {
		return nil
	}

	var event domain.ActivityEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode activity event: %w", err)
	}
	if event.AthleteID == 0 || event.ActivityID == 0 {
		return fmt.Errorf("activity event missing ids (event_type=%s)", msg.EventType)
	}

	return h.matcher.HandleActivityEvent(ctx, event)
}
