package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

func TestNewEventSnapshotsActor(t *testing.T) {
	ctx := reqctx.With(context.Background(), &reqctx.Context{
		UserID:    "u1",
		ActorType: reqctx.ActorWeb,
		CompanyID: "c1",
		RoleName:  "companyAdmin",
	})
	ctx = WithCorrelationID(ctx, "corr-1")

	event, err := NewEvent(ctx, EventMissionCreated, "dispatch-server", map[string]string{"id": "m1"})
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventMissionCreated, event.Type)
	assert.Equal(t, "dispatch-server", event.Source)
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.WithinDuration(t, time.Now().UTC(), event.OccurredAt, 5*time.Second)

	require.NotNil(t, event.Actor)
	assert.Equal(t, "u1", event.Actor.UserID)
	assert.Equal(t, "c1", event.Actor.CompanyID)
	assert.Nil(t, event.Actor.Restore().Tx)

	var payload map[string]string
	require.NoError(t, event.Decode(&payload))
	assert.Equal(t, "m1", payload["id"])
}

func TestNewEventWithoutActor(t *testing.T) {
	event, err := NewEvent(context.Background(), EventCompanyRegistered, "dispatch-server", nil)
	require.NoError(t, err)

	assert.Nil(t, event.Actor)
	assert.Empty(t, event.CorrelationID)
	assert.Nil(t, event.Payload)
}

func TestEventRoundTrip(t *testing.T) {
	ctx := reqctx.With(context.Background(), &reqctx.Context{UserID: "u1", CompanyID: "c1"})
	event, err := NewEvent(ctx, EventRoutePlanned, "dispatch-server", map[string]int{"stops": 7})
	require.NoError(t, err)

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, event.Type, decoded.Type)
	require.NotNil(t, decoded.Actor)
	assert.Equal(t, "c1", decoded.Actor.CompanyID)

	var payload map[string]int
	require.NoError(t, decoded.Decode(&payload))
	assert.Equal(t, 7, payload["stops"])
}

func TestNewEventRejectsUnmarshalablePayload(t *testing.T) {
	_, err := NewEvent(context.Background(), EventMissionCreated, "test", func() {})
	assert.Error(t, err)
}

func TestGetRetryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int64
	}{
		{"no headers", nil, 0},
		{"no x-death", amqp.Table{"foo": "bar"}, 0},
		{"empty x-death list", amqp.Table{"x-death": []interface{}{}}, 0},
		{"malformed entry", amqp.Table{"x-death": []interface{}{"junk"}}, 0},
		{"count present", amqp.Table{"x-death": []interface{}{amqp.Table{"count": int64(2)}}}, 2},
		{"count wrong type", amqp.Table{"x-death": []interface{}{amqp.Table{"count": "2"}}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getRetryCount(tt.headers))
		})
	}
}

func TestCorrelationIDContext(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr-9")
	assert.Equal(t, "corr-9", getCorrelationID(ctx))
	assert.Equal(t, "", getCorrelationID(context.Background()))
}
