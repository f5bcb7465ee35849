package interfaces

import (
	"context"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/pkg/mq"
)

const productQueue = "order-service.product-events"

// ProductEventsConsumer follows catalog announcements from the inventory service.
// Products are still read through the catalog on every order, so it only logs.
type ProductEventsConsumer struct {
	subscriber mq.Subscriber
}

func NewProductEventsConsumer(subscriber mq.Subscriber) *ProductEventsConsumer {
	return &ProductEventsConsumer{subscriber: subscriber}
}

func (c *ProductEventsConsumer) Start(ctx context.Context) error {
	sub := mq.Subscription{
		Queue:    productQueue,
		Exchange: contract.ProductsExchange,
		Bindings: []string{"product.*"},
	}
	if err := c.subscriber.Subscribe(ctx, sub, c.handle); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Str("queue", sub.Queue).Str("exchange", sub.Exchange).Msg("✅ Product events consumer started.")
	return nil
}

// handle acknowledges everything; a lost announcement costs nothing.
func (c *ProductEventsConsumer) handle(ctx context.Context, msg mq.Message) error {
	env, err := contract.Decode(msg.Body)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("message_id", msg.ID).Msg("Undecodable product event dropped.")
		return nil
	}
	metrics.ProductEvents.WithLabelValues(env.EventType).Inc()

	if env.EventType != contract.ProductCreatedType {
		logger.Ctx(ctx).Info().Str("event_type", env.EventType).Msg("Product event ignored.")
		return nil
	}
	var evt contract.ProductCreated
	if err := contract.DecodePayload(env.Payload, &evt); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("message_id", msg.ID).Msg("Malformed ProductCreated dropped.")
		return nil
	}
	logger.Ctx(ctx).Info().
		Str("product_id", evt.ProductID).
		Str("name", evt.Name).
		Str("price", evt.Price+" "+evt.Currency).
		Int("stock", evt.Stock).
		Msg("📦 Product available for ordering.")
	return nil
}
