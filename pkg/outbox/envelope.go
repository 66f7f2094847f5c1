package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies who produced the event. Operator is a dashboard
// account name; HolderID is set when a member action triggered the event.
type ActorRef struct {
	Operator string `json:"operator,omitempty"`
	HolderID string `json:"holderId,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
