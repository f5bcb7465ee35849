package saga

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/service/order/domain"
)

// CompensationStepError is a reversal action that failed. Compensation logs it
// and carries on with the remaining steps.
type CompensationStepError struct {
	OrderID string
	Step    string
	Err     error
}

func (e *CompensationStepError) Error() string {
	return fmt.Sprintf("order %s: compensating step %s: %v", e.OrderID, e.Step, e.Err)
}

func (e *CompensationStepError) Unwrap() error { return e.Err }

// Compensate undoes the saga newest step first and cancels the order exactly once.
// An already cancelled order is left untouched.
func (o *Orchestrator) Compensate(ctx context.Context, orderID, reason string) error {
	ctx, span := o.tracer.Start(ctx, "saga.Compensate")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("reason", reason))

	sc, err := o.registry.Acquire(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer o.registry.Release(sc)
	sc.Lock()
	defer sc.Unlock()

	if err := o.compensateLocked(ctx, sc, reason); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compensation failed")
		return err
	}
	return nil
}

func (o *Orchestrator) compensateLocked(ctx context.Context, sc *OrderContext, reason string) error {
	log := logger.Ctx(ctx).With().Str("order_id", sc.OrderID).Logger()

	order, err := o.orders.FindByID(ctx, sc.OrderID)
	if err != nil {
		if domain.IsNotFound(err) {
			o.registry.Discard(sc.OrderID)
		}
		return err
	}
	if order.Status() == domain.StatusCancelled {
		log.Info().Msg("Order already cancelled, compensation skipped.")
		_, err := o.registry.Finish(ctx, sc, order.Status())
		return err
	}
	if !order.Status().CanTransitionTo(domain.StatusCancelled) {
		return &domain.TransitionError{OrderID: order.ID, From: order.Status(), To: domain.StatusCancelled}
	}

	steps := o.stepsToCompensate(sc, order)
	log.Info().Int("steps", len(steps)).Str("reason", reason).Msg("Starting compensation.")

	var failed []*CompensationStepError
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if !step.Compensatable {
			continue
		}
		if err := o.compensateStep(ctx, order, step, reason); err != nil {
			stepErr := &CompensationStepError{OrderID: order.ID, Step: step.Name, Err: err}
			failed = append(failed, stepErr)
			metrics.CompensationStepFailures.WithLabelValues(step.Name).Inc()
			log.Error().Err(stepErr).Str("step", step.Name).Str("reason", reason).Msg("Compensation step failed, continuing.")
		}
	}

	if err := order.Cancel(); err != nil {
		return err
	}
	if err := o.orders.Update(ctx, order); err != nil {
		return errors.Wrap(err, "persist cancelled order")
	}
	if err := o.publisher.Publish(ctx, contract.OrderCancelled{
		Metadata:   contract.NewMetadata(),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Reason:     reason,
	}); err != nil {
		log.Error().Err(err).Msg("failed to publish OrderCancelled")
	}
	o.end(ctx, sc, order, reason)
	log.Info().Int("failed_steps", len(failed)).Msg("🛑 Order cancelled.")
	return nil
}

// stepsToCompensate returns the ledger, or for a confirmed order whose ledger was
// already cleared, the reservations implied by its items.
func (o *Orchestrator) stepsToCompensate(sc *OrderContext, order *domain.Order) []Step {
	steps := sc.Ledger().Completed()
	if order.IsPending() || len(sc.Ledger().ReservedProducts()) > 0 {
		return steps
	}
	return append(steps, derivedReservations(order)...)
}

func derivedReservations(order *domain.Order) []Step {
	items := order.Items()
	steps := make([]Step, 0, len(items))
	for _, item := range items {
		steps = append(steps, Step{
			Name:    StepInventoryReserved,
			Outcome: OutcomeCompleted,
			Data: StepData{
				ProductID:     item.ProductID(),
				Quantity:      item.Quantity().Int(),
				ReservationID: contract.ReservationID(order.ID, item.ProductID()),
				CustomerID:    order.CustomerID,
			},
			Timestamp:     order.UpdatedAt,
			Compensatable: true,
		})
	}
	return steps
}

func (o *Orchestrator) compensateStep(ctx context.Context, order *domain.Order, step Step, reason string) error {
	switch step.Name {
	case StepInventoryReserved:
		return o.publisher.Publish(ctx, releaseRequest(order, step.Data, reason))
	case StepOrderCreated:
		// The final cancellation undoes this one.
		return nil
	default:
		logger.Ctx(ctx).Warn().Str("order_id", order.ID).Str("step", step.Name).Msg("No compensation registered for step.")
		return nil
	}
}

func releaseRequest(order *domain.Order, data StepData, reason string) contract.OrderCompensationRequested {
	return contract.OrderCompensationRequested{
		Metadata:         contract.NewMetadata(),
		OrderID:          order.ID,
		CustomerID:       order.CustomerID,
		Reason:           reason,
		AffectedServices: []string{contract.AffectedInventory},
		ProductID:        data.ProductID,
		Quantity:         data.Quantity,
		ReservationID:    data.ReservationID,
	}
}

// compensateAfterTaskFailure is the supervisor hook for tasks that failed
// without timing out.
func (o *Orchestrator) compensateAfterTaskFailure(ctx context.Context, orderID string, cause error) {
	err := o.Compensate(ctx, orderID, "Inventory check failed: "+cause.Error())
	if err != nil && !domain.IsTransition(err) {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("CRITICAL: compensation after task failure did not complete")
	}
}
