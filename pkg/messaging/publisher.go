package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dispatchd/dispatch-backend/pkg/logger"
)

// Publisher publishes events to RabbitMQ
type Publisher struct {
	rmq      *RabbitMQ
	exchange string
	source   string
	logger   *logger.Logger
}

// NewPublisher creates a new publisher
func NewPublisher(rmq *RabbitMQ, exchange, source string, log *logger.Logger) *Publisher {
	return &Publisher{
		rmq:      rmq,
		exchange: exchange,
		source:   source,
		logger:   log,
	}
}

// Publish builds an envelope from the request context and publishes it with
// the event type as routing key.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	event, err := NewEvent(ctx, eventType, p.source, payload)
	if err != nil {
		return fmt.Errorf("failed to build event: %w", err)
	}
	return p.PublishEvent(ctx, event)
}

// PublishEvent publishes a pre-built envelope.
func (p *Publisher) PublishEvent(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.rmq.Channel().PublishWithContext(
		ctx,
		p.exchange,
		event.Type, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     event.ID,
			CorrelationId: event.CorrelationID,
			Timestamp:     event.OccurredAt,
			Body:          body,
		},
	)
	if err != nil {
		p.logger.Error().Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Msg("failed to publish event")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("exchange", p.exchange).
		Msg("event published")

	return nil
}
