package application

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/service/inventory/domain"
)

// EventPublisher sends feedback events to the order service.
type EventPublisher interface {
	Publish(ctx context.Context, evt contract.Event) error
}

// ReserveCommand asks for stock of one product for one order.
type ReserveCommand struct {
	OrderID   string
	ProductID string
	Quantity  int
	SagaID    string
}

// ReleaseCommand undoes a reservation. ReservationID defaults to the one derived
// from OrderID and ProductID.
type ReleaseCommand struct {
	OrderID       string
	ProductID     string
	Quantity      int
	ReservationID string
	Reason        string
}

// ReservationHandler is the inventory side of the order saga.
type ReservationHandler struct {
	uow       domain.UnitOfWork
	policy    domain.FulfillmentPolicy
	publisher EventPublisher
	tracer    trace.Tracer
}

func NewReservationHandler(uow domain.UnitOfWork, policy domain.FulfillmentPolicy, publisher EventPublisher, tracer trace.Tracer) *ReservationHandler {
	if policy == nil {
		policy = domain.DefaultPolicy{}
	}
	return &ReservationHandler{uow: uow, policy: policy, publisher: publisher, tracer: tracer}
}

// ExecuteReservation reserves one product. A replayed command republishes
// InventoryReserved without touching stock. A missing product or a refusal by
// the fulfillment policy publishes InventoryReservationFailed and is returned,
// as does a command with a non-positive quantity.
func (h *ReservationHandler) ExecuteReservation(ctx context.Context, cmd ReserveCommand) error {
	ctx, span := h.tracer.Start(ctx, "inventory.ExecuteReservation")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", cmd.OrderID),
		attribute.String("product.id", cmd.ProductID),
		attribute.Int("quantity", cmd.Quantity),
	)
	log := logger.Ctx(ctx).With().Str("order_id", cmd.OrderID).Str("product_id", cmd.ProductID).Str("saga_id", cmd.SagaID).Logger()

	if cmd.Quantity <= 0 {
		return h.fail(ctx, cmd.OrderID, cmd.ProductID, cmd.Quantity, domain.NewValidationError("quantity", "must be greater than zero"))
	}
	res := domain.NewReservation(cmd.OrderID, cmd.ProductID, cmd.Quantity)

	replayed := false
	err := h.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		existing, err := repos.Reservations.Find(ctx, res.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			res, replayed = existing, true
			return nil
		}
		product, err := h.load(ctx, repos, cmd.ProductID, cmd.Quantity)
		if err != nil {
			return err
		}
		if err := product.Reserve(cmd.Quantity); err != nil {
			return err
		}
		if err := repos.Products.Update(ctx, product); err != nil {
			return err
		}
		return repos.Reservations.Save(ctx, res)
	})
	if errors.Is(err, domain.ErrReservationExists) {
		// A concurrent delivery of the same command won; ours was rolled back.
		replayed, err = true, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reservation failed")
		return h.fail(ctx, cmd.OrderID, cmd.ProductID, cmd.Quantity, err)
	}

	if replayed {
		metrics.Reservations.WithLabelValues("replayed").Inc()
		log.Info().Str("reservation_id", res.ID).Msg("Reservation already recorded, replaying confirmation.")
	} else {
		metrics.Reservations.WithLabelValues("reserved").Inc()
		log.Info().Str("reservation_id", res.ID).Int("quantity", res.Quantity).Msg("✅ Inventory reserved.")
	}
	return h.publisher.Publish(ctx, reservedEvent(res))
}

// ReserveOrder reserves every item of an order or none of them. Items are
// validated before any stock moves; the first failing item is reported.
func (h *ReservationHandler) ReserveOrder(ctx context.Context, evt contract.OrderCreated) error {
	ctx, span := h.tracer.Start(ctx, "inventory.ReserveOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", evt.OrderID), attribute.Int("items.count", len(evt.Items)))
	log := logger.Ctx(ctx).With().Str("order_id", evt.OrderID).Logger()

	// A malformed order can never be reserved; refusing it lets the saga cancel now.
	if len(evt.Items) == 0 {
		return h.fail(ctx, evt.OrderID, "", 0, domain.NewValidationError("items", "order has no items"))
	}
	for _, it := range evt.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return h.fail(ctx, evt.OrderID, it.ProductID, it.Quantity,
				domain.NewValidationError("items", "every item needs a product id and a positive quantity"))
		}
	}

	var reserved []*domain.Reservation
	var failed contract.OrderItemPayload
	err := h.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		reserved = reserved[:0]
		pending := make([]contract.OrderItemPayload, 0, len(evt.Items))
		for _, it := range evt.Items {
			existing, err := repos.Reservations.Find(ctx, contract.ReservationID(evt.OrderID, it.ProductID))
			if err != nil {
				return err
			}
			if existing != nil {
				reserved = append(reserved, existing)
				continue
			}
			pending = append(pending, it)
		}

		// Row locks are taken in product id order so concurrent orders cannot deadlock.
		locked := make([]string, 0, len(pending))
		for _, it := range pending {
			locked = append(locked, it.ProductID)
		}
		sort.Strings(locked)
		products := make(map[string]*domain.Product, len(locked))
		for _, id := range locked {
			p, err := repos.Products.FindByID(ctx, id)
			if domain.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			products[id] = p
		}

		for _, it := range pending {
			p, ok := products[it.ProductID]
			if !ok {
				failed = it
				return domain.NewNotFoundError("product", it.ProductID)
			}
			if err := h.check(p, it.Quantity); err != nil {
				failed = it
				return err
			}
		}

		for _, it := range pending {
			p := products[it.ProductID]
			if err := p.Reserve(it.Quantity); err != nil {
				failed = it
				return err
			}
			if err := repos.Products.Update(ctx, p); err != nil {
				return err
			}
			res := domain.NewReservation(evt.OrderID, it.ProductID, it.Quantity)
			if err := repos.Reservations.Save(ctx, res); err != nil {
				return err
			}
			reserved = append(reserved, res)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order reservation failed")
		if errors.Is(err, domain.ErrReservationExists) {
			// Another delivery reserved concurrently; the redelivery will replay it.
			return err
		}
		return h.fail(ctx, evt.OrderID, failed.ProductID, failed.Quantity, err)
	}

	metrics.Reservations.WithLabelValues("reserved").Add(float64(len(reserved)))
	log.Info().Int("items", len(reserved)).Msg("✅ Order inventory reserved.")
	for _, res := range reserved {
		if err := h.publisher.Publish(ctx, reservedEvent(res)); err != nil {
			return err
		}
	}
	return nil
}

// CompensateReservation releases a reservation. An unknown reservation counts
// as already released and publishes nothing.
func (h *ReservationHandler) CompensateReservation(ctx context.Context, cmd ReleaseCommand) error {
	ctx, span := h.tracer.Start(ctx, "inventory.CompensateReservation")
	defer span.End()

	id := cmd.ReservationID
	if id == "" {
		id = contract.ReservationID(cmd.OrderID, cmd.ProductID)
	}
	span.SetAttributes(attribute.String("order.id", cmd.OrderID), attribute.String("reservation.id", id))
	log := logger.Ctx(ctx).With().Str("order_id", cmd.OrderID).Str("reservation_id", id).Logger()

	var released *domain.Reservation
	err := h.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		res, err := repos.Reservations.Find(ctx, id)
		if err != nil || res == nil {
			return err
		}
		product, err := repos.Products.FindByID(ctx, res.ProductID)
		if err != nil {
			return err
		}
		if err := product.Restock(res.Quantity); err != nil {
			return err
		}
		if err := repos.Products.Update(ctx, product); err != nil {
			return err
		}
		if err := repos.Reservations.Delete(ctx, res.ID); err != nil {
			return err
		}
		released = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		log.Error().Err(err).Msg("Failed to release reservation.")
		return err
	}
	if released == nil {
		log.Info().Msg("Reservation not found, treating as already released.")
		return nil
	}
	if cmd.Quantity > 0 && cmd.Quantity != released.Quantity {
		log.Warn().Int("requested", cmd.Quantity).Int("reserved", released.Quantity).Msg("Release quantity differs from the reservation, restored the reserved amount.")
	}

	metrics.Reservations.WithLabelValues("released").Inc()
	log.Info().Str("product_id", released.ProductID).Int("quantity", released.Quantity).Msg("✅ Inventory released.")
	return h.publisher.Publish(ctx, contract.InventoryReleased{
		Metadata:      contract.NewMetadata(),
		OrderID:       released.OrderID,
		ProductID:     released.ProductID,
		Quantity:      released.Quantity,
		ReservationID: released.ID,
		Reason:        cmd.Reason,
	})
}

// load fetches the product and applies the fulfillment policy.
func (h *ReservationHandler) load(ctx context.Context, repos domain.Repositories, productID string, quantity int) (*domain.Product, error) {
	product, err := repos.Products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := h.check(product, quantity); err != nil {
		return nil, err
	}
	return product, nil
}

func (h *ReservationHandler) check(p *domain.Product, quantity int) error {
	ok, err := h.policy.CanFulfill(p, quantity)
	if err != nil {
		return errors.Wrapf(err, "evaluate fulfillment policy for %s", p.ID)
	}
	if !ok {
		return &domain.InsufficientInventoryError{ProductID: p.ID, Available: p.Stock(), Requested: quantity, Active: p.Active}
	}
	return nil
}

// fail reports refusals and malformed commands to the order service.
// Infrastructure errors are returned untouched so the bus redelivers the command.
func (h *ReservationHandler) fail(ctx context.Context, orderID, productID string, quantity int, cause error) error {
	if !domain.IsNotFound(cause) && !domain.IsInsufficientInventory(cause) && !domain.IsValidation(cause) {
		return cause
	}
	metrics.Reservations.WithLabelValues("failed").Inc()
	logger.Ctx(ctx).Warn().Err(cause).Str("order_id", orderID).Str("product_id", productID).Msg("Inventory reservation refused.")
	if err := h.publisher.Publish(ctx, contract.InventoryReservationFailed{
		Metadata:  contract.NewMetadata(),
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		Reason:    cause.Error(),
	}); err != nil {
		return errors.Wrap(err, "publish reservation failure")
	}
	return cause
}

func reservedEvent(res *domain.Reservation) contract.InventoryReserved {
	return contract.InventoryReserved{
		Metadata:      contract.NewMetadata(),
		OrderID:       res.OrderID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		ReservationID: res.ID,
	}
}
