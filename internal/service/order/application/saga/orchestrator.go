package saga

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/dedup"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/service/order/domain"
	"ordersaga/internal/service/order/domain/port"
)

const (
	tracerName       = "order-saga"
	taskInventory    = "inventory_check"
	maxCatalogFanout = 8
)

// ItemRequest is one requested line before pricing.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// CancelOrderCommand is an externally initiated cancellation.
type CancelOrderCommand struct {
	OrderID     string
	Reason      string
	InitiatedBy string
}

// Dependencies wires an Orchestrator. Notifier, Ledgers, Dedup and Check have defaults.
type Dependencies struct {
	Orders       domain.OrderRepository
	Catalog      port.ProductCatalog
	Publisher    port.EventPublisher
	Notifier     port.StatusNotifier
	Ledgers      LedgerStore
	Dedup        dedup.Store
	Check        InventoryCheck
	CheckTimeout time.Duration
}

// Orchestrator drives the order saga: the forward flow in Execute and feedback
// handling, the reverse flow in Compensate.
type Orchestrator struct {
	orders     domain.OrderRepository
	catalog    port.ProductCatalog
	publisher  port.EventPublisher
	notifier   port.StatusNotifier
	registry   *Registry
	dedup      dedup.Store
	check      InventoryCheck
	supervisor *Supervisor
	tracer     trace.Tracer
}

func NewOrchestrator(deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		orders:    deps.Orders,
		catalog:   deps.Catalog,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		registry:  NewRegistry(deps.Ledgers),
		dedup:     deps.Dedup,
		check:     deps.Check,
		tracer:    otel.Tracer(tracerName),
	}
	if o.notifier == nil {
		o.notifier = port.NopNotifier{}
	}
	if o.dedup == nil {
		o.dedup = dedup.NewMemoryStore(24*time.Hour, 100000)
	}
	if o.check == nil {
		o.check = EventRoundTripCheck{}
	}
	timeout := deps.CheckTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	o.supervisor = NewSupervisor(timeout, deps.Publisher, o.compensateAfterTaskFailure)
	return o
}

// Registry exposes the live saga contexts.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Execute validates and prices the request, persists a PENDING order, publishes
// OrderCreated and returns before the inventory outcome is known.
func (o *Orchestrator) Execute(ctx context.Context, customerID string, items []ItemRequest) (*domain.Order, error) {
	ctx, span := o.tracer.Start(ctx, "saga.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID), attribute.Int("items.count", len(items)))

	lines, err := mergeItems(customerID, items)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	products, err := o.fetchProducts(ctx, lines)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "product validation failed")
		return nil, err
	}

	orderItems := make([]domain.OrderItem, 0, len(lines))
	for i, line := range lines {
		p := products[i]
		item, err := domain.NewOrderItem(p.ID, p.Name, line.Quantity, p.Price)
		if err != nil {
			return nil, err
		}
		orderItems = append(orderItems, item)
	}

	order, err := domain.NewOrder(customerID, orderItems)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	log := logger.Ctx(ctx).With().Str("order_id", order.ID).Logger()

	sc := o.registry.Start(order.ID)
	if err := o.orders.Save(ctx, order); err != nil {
		o.registry.Discard(order.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save order")
		return nil, errors.Wrap(err, "save order")
	}
	span.AddEvent("Order saved with PENDING status.")

	if err := o.begin(ctx, sc, order); err != nil {
		log.Error().Err(err).Msg("Saga start failed after the order was persisted, compensating.")
		span.RecordError(err)
		span.SetStatus(codes.Error, "saga start failed")
		if compErr := o.Compensate(ctx, order.ID, "Saga start failed: "+err.Error()); compErr != nil {
			log.Error().Err(compErr).Msg("CRITICAL: compensation after failed saga start did not complete")
		}
		return nil, err
	}

	metrics.SagasStarted.Inc()
	o.notify(order, "")
	sc.task.Store(o.supervisor.Spawn(ctx, order.ID, taskInventory, func(taskCtx context.Context) error {
		return o.check.Await(taskCtx, sc, order, o)
	}))
	log.Info().Str("customer_id", customerID).Str("total", order.Total().String()).Msg("Order accepted, awaiting inventory outcome.")
	return order, nil
}

// begin records the first step and announces the order, holding the saga lock
// so feedback cannot overtake it.
func (o *Orchestrator) begin(ctx context.Context, sc *OrderContext, order *domain.Order) error {
	sc.Lock()
	defer sc.Unlock()

	if err := o.registry.Record(ctx, sc, Step{
		Name:          StepOrderCreated,
		Outcome:       OutcomeCompleted,
		Data:          StepData{CustomerID: order.CustomerID},
		Compensatable: true,
	}); err != nil {
		return err
	}
	return o.publisher.Publish(ctx, orderCreatedEvent(order))
}

func mergeItems(customerID string, items []ItemRequest) ([]ItemRequest, error) {
	if customerID == "" {
		return nil, domain.NewValidationError("customerId", "must not be empty")
	}
	if len(items) == 0 {
		return nil, domain.NewValidationError("items", "an order needs at least one item")
	}
	index := make(map[string]int, len(items))
	merged := make([]ItemRequest, 0, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, domain.NewValidationError("items.productId", "must not be empty")
		}
		if it.Quantity <= 0 {
			return nil, domain.NewValidationError("items.quantity", "must be greater than zero")
		}
		if i, ok := index[it.ProductID]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(merged)
		merged = append(merged, it)
	}
	return merged, nil
}

// fetchProducts loads every product concurrently; the first failure cancels the rest.
func (o *Orchestrator) fetchProducts(ctx context.Context, lines []ItemRequest) ([]*port.Product, error) {
	products := make([]*port.Product, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCatalogFanout)
	for i, line := range lines {
		i, productID := i, line.ProductID
		g.Go(func() error {
			p, err := o.catalog.GetProduct(gctx, productID)
			if err != nil {
				if domain.IsNotFound(err) {
					return err
				}
				return errors.Wrapf(err, "fetch product %s", productID)
			}
			if p == nil {
				return domain.NewNotFoundError("product", productID)
			}
			if !p.Active {
				return domain.NewValidationError("items", "product "+productID+" is not active")
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}

// HandleFeedbackEvent applies one inventory feedback event. Redeliveries of an
// already processed eventId are acknowledged without effect.
func (o *Orchestrator) HandleFeedbackEvent(ctx context.Context, eventType string, payload []byte) error {
	ctx, span := o.tracer.Start(ctx, "saga.HandleFeedbackEvent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(attribute.String("event.type", eventType))

	var meta struct {
		contract.Metadata
		OrderID string `json:"orderId"`
	}
	if err := contract.DecodePayload(payload, &meta); err != nil {
		span.RecordError(err)
		return err
	}
	log := logger.Ctx(ctx).With().Str("order_id", meta.OrderID).Str("event_type", eventType).Str("event_id", meta.EventID).Logger()

	if meta.EventID != "" {
		seen, err := o.dedup.Seen(ctx, meta.EventID)
		if err != nil {
			return errors.Wrap(err, "dedup lookup")
		}
		if seen {
			metrics.DuplicateEvents.WithLabelValues(eventType).Inc()
			log.Info().Msg("Duplicate feedback event ignored.")
			return nil
		}
	} else {
		log.Warn().Msg("Feedback event without eventId, processing without deduplication.")
	}

	err := o.dispatch(ctx, eventType, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "feedback handling failed")
		if meta.EventID != "" {
			if fErr := o.dedup.Forget(ctx, meta.EventID); fErr != nil {
				log.Error().Err(fErr).Msg("failed to forget event id, redelivery will be dropped")
			}
		}
	}
	return err
}

func (o *Orchestrator) dispatch(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case contract.InventoryReservedType:
		var evt contract.InventoryReserved
		if err := contract.DecodePayload(payload, &evt); err != nil {
			return err
		}
		return o.onReserved(ctx, evt)
	case contract.InventoryReservationFailedType:
		var evt contract.InventoryReservationFailed
		if err := contract.DecodePayload(payload, &evt); err != nil {
			return err
		}
		return o.onReservationFailed(ctx, evt)
	case contract.InventoryReleasedType:
		var evt contract.InventoryReleased
		if err := contract.DecodePayload(payload, &evt); err != nil {
			return err
		}
		logger.Ctx(ctx).Info().
			Str("order_id", evt.OrderID).
			Str("product_id", evt.ProductID).
			Str("reservation_id", evt.ReservationID).
			Int("quantity", evt.Quantity).
			Msg("Inventory released.")
		return nil
	default:
		logger.Ctx(ctx).Warn().Str("event_type", eventType).Msg("Unknown feedback event type ignored.")
		return nil
	}
}

func (o *Orchestrator) onReserved(ctx context.Context, evt contract.InventoryReserved) error {
	sc, err := o.registry.Acquire(ctx, evt.OrderID)
	if err != nil {
		return err
	}
	defer o.registry.Release(sc)
	sc.Lock()
	defer sc.Unlock()

	log := logger.Ctx(ctx).With().Str("order_id", evt.OrderID).Str("reservation_id", evt.ReservationID).Logger()
	order, err := o.orders.FindByID(ctx, evt.OrderID)
	if err != nil {
		if domain.IsNotFound(err) {
			log.Warn().Msg("Reservation for unknown order ignored.")
			o.registry.Discard(evt.OrderID)
			return nil
		}
		return err
	}

	switch order.Status() {
	case domain.StatusCancelled, domain.StatusFailed:
		// The order ended before this reservation arrived; give the stock back.
		log.Warn().Str("status", order.Status().String()).Msg("Reservation for a closed order, requesting release.")
		if err := o.publisher.Publish(ctx, releaseRequest(order, StepData{
			ProductID:     evt.ProductID,
			Quantity:      evt.Quantity,
			ReservationID: evt.ReservationID,
		}, "order already "+order.Status().String())); err != nil {
			return err
		}
		_, err := o.registry.Finish(ctx, sc, order.Status())
		return err
	case domain.StatusPending:
	default:
		log.Info().Str("status", order.Status().String()).Msg("Reservation for an already confirmed order, nothing to do.")
		return nil
	}

	if !sc.Ledger().HasReservation(evt.ReservationID) {
		if err := o.registry.Record(ctx, sc, Step{
			Name:    StepInventoryReserved,
			Outcome: OutcomeCompleted,
			Data: StepData{
				ProductID:     evt.ProductID,
				Quantity:      evt.Quantity,
				ReservationID: evt.ReservationID,
				CustomerID:    order.CustomerID,
			},
			Compensatable: true,
		}); err != nil {
			return err
		}
		metrics.Reservations.WithLabelValues("recorded").Inc()
	}

	reserved := sc.Ledger().ReservedProducts()
	for _, item := range order.Items() {
		if !reserved[item.ProductID()] {
			log.Info().Int("reserved", len(reserved)).Int("items", order.ItemCount()).Msg("Waiting for remaining reservations.")
			return nil
		}
	}
	return o.confirm(ctx, sc, order)
}

func (o *Orchestrator) confirm(ctx context.Context, sc *OrderContext, order *domain.Order) error {
	if err := order.Confirm(); err != nil {
		return err
	}
	if err := o.orders.Update(ctx, order); err != nil {
		return errors.Wrap(err, "persist confirmed order")
	}
	if err := o.publisher.Publish(ctx, contract.OrderConfirmed{
		Metadata:   contract.NewMetadata(),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
	}); err != nil {
		// The order is confirmed either way; a redelivery would find it CONFIRMED.
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to publish OrderConfirmed")
	}
	o.end(ctx, sc, order, "")
	logger.Ctx(ctx).Info().Str("order_id", order.ID).Msg("✅ Order confirmed.")
	return nil
}

func (o *Orchestrator) onReservationFailed(ctx context.Context, evt contract.InventoryReservationFailed) error {
	err := o.Compensate(ctx, evt.OrderID, "Inventory reservation failed: "+evt.Reason)
	switch {
	case err == nil:
		return nil
	case domain.IsNotFound(err), domain.IsTransition(err):
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", evt.OrderID).Msg("Reservation failure could not cancel the order, ignoring.")
		return nil
	default:
		return err
	}
}

// ExecuteCancelOrder cancels an order on request, compensating whatever the saga did.
func (o *Orchestrator) ExecuteCancelOrder(ctx context.Context, cmd CancelOrderCommand) error {
	reason := cmd.Reason
	if reason == "" {
		reason = "Cancelled by " + cmd.InitiatedBy
	}
	logger.Ctx(ctx).Info().
		Str("order_id", cmd.OrderID).
		Str("initiated_by", cmd.InitiatedBy).
		Str("reason", reason).
		Msg("Cancellation requested.")
	return o.Compensate(ctx, cmd.OrderID, reason)
}

// end finishes the saga context and records the outcome.
func (o *Orchestrator) end(ctx context.Context, sc *OrderContext, order *domain.Order, reason string) {
	first, err := o.registry.Finish(ctx, sc, order.Status())
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to clear saga ledger")
	}
	if first {
		metrics.SagaOutcomes.WithLabelValues(order.Status().String()).Inc()
		if !sc.StartedAt.IsZero() {
			metrics.SagaDuration.Observe(time.Since(sc.StartedAt).Seconds())
		}
	}
	o.notify(order, reason)
}

func (o *Orchestrator) notify(order *domain.Order, reason string) {
	o.notifier.Notify(port.StatusChange{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status().String(),
		Reason:     reason,
		At:         order.UpdatedAt,
	})
}

// Shutdown stops supervised tasks; their orders stay PENDING for the audit sweep.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.supervisor.Shutdown(ctx)
}

func orderCreatedEvent(order *domain.Order) contract.OrderCreated {
	items := order.Items()
	payload := make([]contract.OrderItemPayload, 0, len(items))
	for _, it := range items {
		payload = append(payload, contract.OrderItemPayload{
			ProductID:   it.ProductID(),
			ProductName: it.ProductName(),
			Quantity:    it.Quantity().Int(),
			UnitPrice:   it.UnitPrice().Amount().StringFixed(2),
			Subtotal:    it.Subtotal().Amount().StringFixed(2),
		})
	}
	return contract.OrderCreated{
		Metadata:   contract.NewMetadata(),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Items:      payload,
		Total:      order.Total().Amount().StringFixed(2),
		Currency:   order.Total().Currency(),
	}
}
