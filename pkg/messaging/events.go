package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// Event types published on the dispatch exchange. Routing keys equal the
// event type.
const (
	EventCompanyRegistered    = "company.registered"
	EventMobileUserRegistered = "user.mobile.registered"
	EventMissionCreated       = "mission.created"
	EventRoutePlanned         = "route.planned"
	EventBalanceExhausted     = "balance.exhausted"
)

// Event is the wire envelope. Actor carries the publishing request's tenant
// context so consumers can re-establish the same scope; the broker is
// internal transport, so consumers bind the snapshot without re-reading the
// user row.
type Event struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	Source        string           `json:"source"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
	Actor         *reqctx.Snapshot `json:"actor,omitempty"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
}

// NewEvent builds an envelope, snapshotting the tenant context and the
// correlation id from ctx.
func NewEvent(ctx context.Context, eventType, source string, payload interface{}) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		CorrelationID: getCorrelationID(ctx),
		OccurredAt:    time.Now().UTC(),
		Actor:         reqctx.From(ctx).Snapshot(),
		Payload:       raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// getCorrelationID retrieves the correlation ID from context
func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
