package interfaces

import (
	"context"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/service/inventory/application"
	"ordersaga/internal/service/inventory/domain"
)

const orderEventsQueue = "inventory-service.order-events"

// OrderEventsConsumer turns order events into reservation commands.
type OrderEventsConsumer struct {
	subscriber mq.Subscriber
	handler    *application.ReservationHandler
}

func NewOrderEventsConsumer(subscriber mq.Subscriber, handler *application.ReservationHandler) *OrderEventsConsumer {
	return &OrderEventsConsumer{subscriber: subscriber, handler: handler}
}

func (c *OrderEventsConsumer) Start(ctx context.Context) error {
	sub := mq.Subscription{
		Queue:    orderEventsQueue,
		Exchange: contract.OrdersExchange,
		Bindings: []string{contract.OrderCreatedType, contract.OrderCompensationRequestedType},
	}
	if err := c.subscriber.Subscribe(ctx, sub, c.handle); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Str("queue", sub.Queue).Str("exchange", sub.Exchange).Msg("✅ Order events consumer started.")
	return nil
}

func (c *OrderEventsConsumer) handle(ctx context.Context, msg mq.Message) error {
	env, err := contract.Decode(msg.Body)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("message_id", msg.ID).Msg("Undecodable order event.")
		return err
	}

	switch env.EventType {
	case contract.OrderCreatedType:
		var evt contract.OrderCreated
		if err := contract.DecodePayload(env.Payload, &evt); err != nil {
			return err
		}
		return settled(c.handler.ReserveOrder(ctx, evt))
	case contract.OrderCompensationRequestedType:
		var evt contract.OrderCompensationRequested
		if err := contract.DecodePayload(env.Payload, &evt); err != nil {
			return err
		}
		if !evt.Affects(contract.AffectedInventory) {
			return nil
		}
		if evt.ProductID == "" && evt.ReservationID == "" {
			logger.Ctx(ctx).Warn().Str("order_id", evt.OrderID).Msg("Compensation request names no reservation, ignoring.")
			return nil
		}
		return c.handler.CompensateReservation(ctx, application.ReleaseCommand{
			OrderID:       evt.OrderID,
			ProductID:     evt.ProductID,
			Quantity:      evt.Quantity,
			ReservationID: evt.ReservationID,
			Reason:        evt.Reason,
		})
	default:
		logger.Ctx(ctx).Debug().Str("event_type", env.EventType).Msg("Order event ignored.")
		return nil
	}
}

// settled acknowledges business refusals; the failure event is already out.
// Anything else goes back to the bus for redelivery.
func settled(err error) error {
	if err == nil || domain.IsNotFound(err) || domain.IsInsufficientInventory(err) || domain.IsValidation(err) {
		return nil
	}
	return err
}
