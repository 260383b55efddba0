package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"example.com/raceprophet/internal/domain"
)

// execer is satisfied by *pgxpool.Pool and pgx.Tx so events can be
// enqueued inside a caller-owned transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnqueueActivityEvent writes one activity-changed event to the outbox.
// The dedupe key collapses webhook retries for the same activity aspect;
// partitioning by hashed athlete id keeps per-athlete ordering on the topic.
func EnqueueActivityEvent(ctx context.Context, db execer, athleteHash string, event domain.ActivityEvent) error {
	eventType, err := kafkaEventType(event.EventType)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode activity event: %w", err)
	}

	dedupeKey := fmt.Sprintf("%s:%d:%s:%d", athleteHash, event.ActivityID, event.EventType, event.OccurredAt.Unix())

	const stmt = `INSERT INTO outbox
        (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ('activity', $1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = db.Exec(ctx, stmt,
		fmt.Sprintf("%d", event.ActivityID), eventType,
		ActivityTopic, ActivitySchemaSubject,
		athleteHash, payload, dedupeKey,
	)
	return err
}

// Enqueuer adapts EnqueueActivityEvent to the API's event sink interface.
type Enqueuer struct {
	DB execer
}

// Enqueue writes the event to the outbox table.
func (e Enqueuer) Enqueue(ctx context.Context, athleteHash string, event domain.ActivityEvent) error {
	return EnqueueActivityEvent(ctx, e.DB, athleteHash, event)
}

func kafkaEventType(aspect string) (string, error) {
	switch aspect {
	case domain.EventTypeCreate:
		return EventActivityCreated, nil
	case domain.EventTypeUpdate:
		return EventActivityUpdated, nil
	case domain.EventTypeDelete:
		return EventActivityDeleted, nil
	default:
		return "", fmt.Errorf("%w: unknown event aspect %q", domain.ErrInvalidInput, aspect)
	}
}
