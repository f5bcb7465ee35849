// internal/service/order/interfaces/dlt_handler.go
package interfaces

import (
	"context"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/pkg/mq"
)

const deadLetterQueue = "order-service.deadletter"

// DeadLetterConsumer logs every dead-lettered message and saga timeout record.
type DeadLetterConsumer struct {
	subscriber mq.Subscriber
}

func NewDeadLetterConsumer(subscriber mq.Subscriber) *DeadLetterConsumer {
	return &DeadLetterConsumer{subscriber: subscriber}
}

func (c *DeadLetterConsumer) Start(ctx context.Context) error {
	sub := mq.Subscription{
		Queue:    deadLetterQueue,
		Exchange: contract.DeadLetterExchange,
		Bindings: []string{"#"},
	}
	if err := c.subscriber.Subscribe(ctx, sub, c.handle); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Str("queue", sub.Queue).Msg("✅ DLT consumer started.")
	return nil
}

// handle always acknowledges: logging is the whole treatment.
func (c *DeadLetterConsumer) handle(ctx context.Context, msg mq.Message) error {
	// Saga timeouts are counted where they are raised.
	if msg.RoutingKey != contract.SagaTimeoutType {
		metrics.DeadLetters.WithLabelValues("delivery_failed").Inc()
	}

	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("message_id", msg.ID).
		Str("routing_key", msg.RoutingKey).
		Str("original_exchange", msg.Headers[mq.HeaderOriginalExchange]).
		Str("original_routing_key", msg.Headers[mq.HeaderOriginalRoutingKey]).
		Str("original_partition", msg.Headers[mq.HeaderOriginalPartition]).
		Str("original_offset", msg.Headers[mq.HeaderOriginalOffset]).
		Str("exception_message", msg.Headers[mq.HeaderExceptionMessage]).
		Str("delivery_attempts", msg.Headers[mq.HeaderDeliveryAttempts]).
		Str("key", msg.Key).
		Str("value", string(msg.Body)).
		Msg("🚨 CRITICAL: Dead letter message received")
	return nil
}
