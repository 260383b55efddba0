package outbox

// Kafka event types carried on the activity topic. The webhook handler
// maps the upstream aspect (create/update/delete) onto one of these.
const (
	EventActivityCreated = "athlete.activity_created"
	EventActivityUpdated = "athlete.activity_updated"
	EventActivityDeleted = "athlete.activity_deleted"
)

// Topic and subject for activity-changed events.
const (
	ActivityTopic         = "athlete_activity_events"
	ActivitySchemaSubject = "athlete_activity_events-value"
)

const activityChangedSchema = `{
  "type": "object",
  "title": "AthleteActivityChanged",
  "properties": {
    "athlete_id": {"type": "integer"},
    "activity_id": {"type": "integer"},
    "event_type": {"type": "string", "enum": ["create", "update", "delete"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["athlete_id", "activity_id", "event_type", "occurred_at"],
  "additionalProperties": false
}`
