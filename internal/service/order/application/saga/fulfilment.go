package saga

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/service/order/domain"
)

// Advance moves a confirmed order along fulfilment. Cancellation is not a
// fulfilment step; it goes through ExecuteCancelOrder so reservations are released.
func (o *Orchestrator) Advance(ctx context.Context, orderID string, target domain.Status) (*domain.Order, error) {
	ctx, span := o.tracer.Start(ctx, "saga.Advance")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("target", target.String()))

	switch target {
	case domain.StatusProcessing, domain.StatusShipped, domain.StatusDelivered:
	default:
		return nil, domain.NewValidationError("status", "cannot advance an order to "+target.String())
	}

	sc, err := o.registry.Acquire(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer o.registry.Release(sc)
	sc.Lock()
	defer sc.Unlock()

	order, err := o.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := order.Status()
	if err := order.ChangeStatus(target); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := o.orders.Update(ctx, order); err != nil {
		return nil, errors.Wrapf(err, "persist %s order", target)
	}
	o.notify(order, "")
	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("from", from.String()).
		Str("to", target.String()).
		Msg("Order advanced.")
	return order, nil
}
