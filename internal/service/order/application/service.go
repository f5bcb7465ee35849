// internal/service/order/application/service.go
package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/service/order/application/saga"
	"ordersaga/internal/service/order/domain"
)

// OrderApplicationService is the entry point of the interface layer. Commands go
// through the saga orchestrator; queries read the repository directly.
type OrderApplicationService struct {
	orders domain.OrderRepository
	orch   *saga.Orchestrator
	tracer trace.Tracer
}

func NewOrderApplicationService(orders domain.OrderRepository, orch *saga.Orchestrator, tracer trace.Tracer) *OrderApplicationService {
	return &OrderApplicationService{orders: orders, orch: orch, tracer: tracer}
}

// CreateOrder accepts an order. The response carries the PENDING order; the
// inventory outcome arrives asynchronously.
func (s *OrderApplicationService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", req.CustomerID))

	order, err := s.orch.Execute(ctx, req.CustomerID, req.toSagaItems())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ToOrderResponse(order), nil
}

// CancelOrder cancels and compensates, then returns the stored order.
func (s *OrderApplicationService) CancelOrder(ctx context.Context, orderID string, req *CancelOrderRequest) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	initiatedBy := req.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = "customer"
	}
	if err := s.orch.ExecuteCancelOrder(ctx, saga.CancelOrderCommand{
		OrderID:     orderID,
		Reason:      req.Reason,
		InitiatedBy: initiatedBy,
	}); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}

func (s *OrderApplicationService) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return ToOrderResponse(order), nil
}

// ListCustomerOrders returns the customer's orders, newest first.
func (s *OrderApplicationService) ListCustomerOrders(ctx context.Context, customerID string) ([]*OrderResponse, error) {
	if customerID == "" {
		return nil, domain.NewValidationError("customerId", "must not be empty")
	}
	orders, err := s.orders.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	out := make([]*OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, ToOrderResponse(o))
	}
	return out, nil
}

// AdvanceOrder walks CONFIRMED → PROCESSING → SHIPPED → DELIVERED.
func (s *OrderApplicationService) AdvanceOrder(ctx context.Context, orderID string, req *AdvanceOrderRequest) (*OrderResponse, error) {
	target, err := domain.ParseStatus(req.Status)
	if err != nil {
		return nil, &domain.ValidationError{Field: "status", Message: err.Error(), Err: err}
	}
	order, err := s.orch.Advance(ctx, orderID, target)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Str("target", req.Status).Msg("Order advance rejected.")
		return nil, err
	}
	return ToOrderResponse(order), nil
}
