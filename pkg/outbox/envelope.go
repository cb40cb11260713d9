package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/originhash-backend/pkg/enums"
)

// ActorRef is the signed-in user behind an event. Pipeline events raised by
// the cron worker have no actor.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is what outbox_events.payload holds and what subscribers
// receive as the Pub/Sub message body. Subject is the certificate uniqueId so
// consumers can route without decoding Data.
type PayloadEnvelope struct {
	Version    int                   `json:"version"`
	EventID    string                `json:"eventId"`
	EventType  enums.OutboxEventType `json:"eventType,omitempty"`
	Subject    string                `json:"subject,omitempty"`
	OccurredAt time.Time             `json:"occurredAt"`
	Actor      *ActorRef             `json:"actor,omitempty"`
	Data       json.RawMessage       `json:"data"`
}
