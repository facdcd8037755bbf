package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// MessageHandler processes one event inside a tenant-scoped transaction. A
// nil return commits and acks; an error rolls back and nacks.
type MessageHandler func(ctx context.Context, event *Event) error

// Consumer consumes events from RabbitMQ. Before each handler runs, the
// consumer rebuilds the same transaction shape the HTTP pipeline gives a
// request: a dedicated connection, the restricted role, and the tenant
// variables bound from the envelope's actor snapshot. The broker is internal
// transport, so the snapshot is trusted as-is.
type Consumer struct {
	rmq       *RabbitMQ
	db        *database.DB
	queueName string
	handlers  map[string]MessageHandler
	logger    *logger.Logger
}

// NewConsumer creates a new consumer
func NewConsumer(rmq *RabbitMQ, db *database.DB, queueName string, log *logger.Logger) *Consumer {
	return &Consumer{
		rmq:       rmq,
		db:        db,
		queueName: queueName,
		handlers:  make(map[string]MessageHandler),
		logger:    log,
	}
}

// RegisterHandler registers a handler for an event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Subscribe binds the consumer's queue to the given routing key patterns.
func (c *Consumer) Subscribe(exchange string, routingKeys ...string) error {
	if _, err := c.rmq.DeclareQueue(c.queueName); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, key := range routingKeys {
		if err := c.rmq.BindQueue(c.queueName, exchange, key); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}

	return nil
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Str("queue", c.queueName).Msg("message channel closed")
					return
				}
				c.handleMessage(ctx, msg)
			}
		}
	}()

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event, rejecting")
		msg.Reject(false) // unparseable, straight to DLQ
		return
	}

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().Str("event_type", event.Type).Msg("no handler registered, acking")
		msg.Ack(false)
		return
	}

	if event.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, event.CorrelationID)
	}

	if err := c.dispatch(ctx, handler, &event); err != nil {
		retryCount := getRetryCount(msg.Headers)
		c.logger.Error().Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Int64("retry_count", retryCount).
			Msg("failed to handle event")

		if retryCount >= 3 {
			c.logger.Warn().
				Str("event_type", event.Type).
				Str("event_id", event.ID).
				Msg("max retries exceeded, sending to DLQ")
			msg.Reject(false)
		} else {
			msg.Nack(false, true)
		}
		return
	}

	msg.Ack(false)
}

// dispatch runs the handler inside a tenant transaction bound from the
// envelope. Events without an actor snapshot run under the system bypass.
func (c *Consumer) dispatch(ctx context.Context, handler MessageHandler, event *Event) error {
	rtx, err := c.db.BeginRequestTx(ctx)
	if err != nil {
		return err
	}
	defer rtx.Rollback()

	if err := database.SetLocalRole(ctx, rtx.Tx); err != nil {
		return err
	}

	rc := event.Actor.Restore()
	if rc == nil {
		rc = &reqctx.Context{IsSuperAdmin: true}
	}
	if err := database.SetTenantScope(ctx, rtx.Tx, rc.IsSuperAdmin, rc.CompanyID); err != nil {
		return err
	}
	rc.Tx = rtx.Tx

	if err := handler(reqctx.With(ctx, rc), event); err != nil {
		return err
	}

	return rtx.Commit()
}

// getRetryCount extracts the retry count from x-death headers.
func getRetryCount(headers amqp.Table) int64 {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return 0
	}

	death, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0
	}

	count, ok := death["count"].(int64)
	if !ok {
		return 0
	}

	return count
}
