package interfaces

import (
	"context"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/service/order/application/saga"
)

const feedbackQueue = "order-service.inventory-feedback"

// FeedbackConsumer drives the orchestrator from inventory feedback on the bus.
type FeedbackConsumer struct {
	subscriber mq.Subscriber
	handler    saga.FeedbackHandler
}

func NewFeedbackConsumer(subscriber mq.Subscriber, handler saga.FeedbackHandler) *FeedbackConsumer {
	return &FeedbackConsumer{subscriber: subscriber, handler: handler}
}

// Start subscribes in the background; consumption stops when ctx is cancelled.
func (c *FeedbackConsumer) Start(ctx context.Context) error {
	sub := mq.Subscription{
		Queue:    feedbackQueue,
		Exchange: contract.FeedbackExchange,
		Bindings: []string{"inventory.#"},
	}
	if err := c.subscriber.Subscribe(ctx, sub, c.handle); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Str("queue", sub.Queue).Str("exchange", sub.Exchange).Msg("✅ Feedback consumer started.")
	return nil
}

// handle returns the orchestrator's error so the bus redelivers and finally
// dead-letters the message.
func (c *FeedbackConsumer) handle(ctx context.Context, msg mq.Message) error {
	env, err := contract.Decode(msg.Body)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("message_id", msg.ID).Str("routing_key", msg.RoutingKey).Msg("Undecodable feedback message.")
		return err
	}
	return c.handler.HandleFeedbackEvent(ctx, env.EventType, env.Payload)
}
