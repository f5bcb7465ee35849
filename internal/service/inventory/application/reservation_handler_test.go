package application_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/money"
	"ordersaga/internal/service/inventory/application"
	"ordersaga/internal/service/inventory/domain"
	"ordersaga/internal/service/inventory/infrastructure"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []contract.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt contract.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) take() []contract.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.events
	p.events = nil
	return out
}

type env struct {
	store *infrastructure.MemoryStore
	pub   *recordingPublisher
	h     *application.ReservationHandler
}

func newEnv(t *testing.T, policy domain.FulfillmentPolicy, stock map[string]int) *env {
	t.Helper()
	store := infrastructure.NewMemoryStore()
	for id, n := range stock {
		p, err := domain.RestoreProduct(id, "Product "+id, "", money.MustNew("5.00", "USD"), n, true, testTime, testTime)
		require.NoError(t, err)
		require.NoError(t, store.Products().Save(context.Background(), p))
	}
	pub := &recordingPublisher{}
	return &env{
		store: store,
		pub:   pub,
		h:     application.NewReservationHandler(store, policy, pub, otel.Tracer("test")),
	}
}

func (e *env) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := e.store.Products().FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock()
}

func TestExecuteReservationIsIdempotent(t *testing.T) {
	e := newEnv(t, nil, map[string]int{"p1": 10})
	ctx := context.Background()
	cmd := application.ReserveCommand{OrderID: "o1", ProductID: "p1", Quantity: 4, SagaID: "o1"}

	require.NoError(t, e.h.ExecuteReservation(ctx, cmd))
	assert.Equal(t, 6, e.stock(t, "p1"))
	events := e.pub.take()
	require.Len(t, events, 1)
	first := events[0].(contract.InventoryReserved)
	assert.Equal(t, "RES-o1-p1", first.ReservationID)
	assert.Equal(t, 4, first.Quantity)

	require.NoError(t, e.h.ExecuteReservation(ctx, cmd))
	assert.Equal(t, 6, e.stock(t, "p1"), "a replay must not take stock twice")
	events = e.pub.take()
	require.Len(t, events, 1)
	replay := events[0].(contract.InventoryReserved)
	assert.Equal(t, first.ReservationID, replay.ReservationID)
	assert.NotEqual(t, first.EventID, replay.EventID)
}

func TestExecuteReservationFailures(t *testing.T) {
	tests := []struct {
		name    string
		cmd     application.ReserveCommand
		isError func(error) bool
	}{
		{"insufficient stock", application.ReserveCommand{OrderID: "o1", ProductID: "p1", Quantity: 11}, domain.IsInsufficientInventory},
		{"unknown product", application.ReserveCommand{OrderID: "o1", ProductID: "nope", Quantity: 1}, domain.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil, map[string]int{"p1": 10})
			err := e.h.ExecuteReservation(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.True(t, tt.isError(err), err.Error())
			assert.Equal(t, 10, e.stock(t, "p1"))
			assert.Nil(t, e.store.Reservation(contract.ReservationID(tt.cmd.OrderID, tt.cmd.ProductID)))

			events := e.pub.take()
			require.Len(t, events, 1)
			failed, ok := events[0].(contract.InventoryReservationFailed)
			require.True(t, ok)
			assert.Equal(t, tt.cmd.ProductID, failed.ProductID)
			assert.Equal(t, err.Error(), failed.Reason)
		})
	}
}

func TestExecuteReservationRejectsNonPositiveQuantity(t *testing.T) {
	e := newEnv(t, nil, map[string]int{"p1": 10})
	err := e.h.ExecuteReservation(context.Background(), application.ReserveCommand{OrderID: "o1", ProductID: "p1"})
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, 10, e.stock(t, "p1"))

	events := e.pub.take()
	require.Len(t, events, 1)
	failed := events[0].(contract.InventoryReservationFailed)
	assert.Equal(t, "o1", failed.OrderID)
	assert.Equal(t, "p1", failed.ProductID)
	assert.Contains(t, failed.Reason, "quantity")
}

func TestReserveOrderRefusesMalformedOrders(t *testing.T) {
	tests := []struct {
		name        string
		items       []contract.OrderItemPayload
		wantProduct string
	}{
		{"no items", nil, ""},
		{"zero quantity", []contract.OrderItemPayload{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 0}}, "p2"},
		{"negative quantity", []contract.OrderItemPayload{{ProductID: "p1", Quantity: -3}}, "p1"},
		{"missing product id", []contract.OrderItemPayload{{Quantity: 2}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil, map[string]int{"p1": 10, "p2": 10})
			evt := contract.OrderCreated{Metadata: contract.NewMetadata(), OrderID: "o1", CustomerID: "c1", Items: tt.items}

			err := e.h.ReserveOrder(context.Background(), evt)
			require.True(t, domain.IsValidation(err), "%v", err)
			assert.Equal(t, 10, e.stock(t, "p1"))
			assert.Nil(t, e.store.Reservation("RES-o1-p1"))

			events := e.pub.take()
			require.Len(t, events, 1)
			failed, ok := events[0].(contract.InventoryReservationFailed)
			require.True(t, ok)
			assert.Equal(t, "o1", failed.OrderID)
			assert.Equal(t, tt.wantProduct, failed.ProductID)
			assert.Equal(t, err.Error(), failed.Reason)
		})
	}
}

func orderCreated(orderID string, items map[string]int, order ...string) contract.OrderCreated {
	evt := contract.OrderCreated{Metadata: contract.NewMetadata(), OrderID: orderID, CustomerID: "c1", Currency: "USD"}
	for _, id := range order {
		evt.Items = append(evt.Items, contract.OrderItemPayload{ProductID: id, Quantity: items[id]})
	}
	return evt
}

func TestReserveOrderIsAllOrNothing(t *testing.T) {
	e := newEnv(t, nil, map[string]int{"p1": 10, "p2": 1, "p3": 10})
	evt := orderCreated("o1", map[string]int{"p1": 2, "p2": 5, "p3": 1}, "p1", "p2", "p3")

	err := e.h.ReserveOrder(context.Background(), evt)
	require.True(t, domain.IsInsufficientInventory(err))

	assert.Equal(t, 10, e.stock(t, "p1"))
	assert.Equal(t, 1, e.stock(t, "p2"))
	assert.Equal(t, 10, e.stock(t, "p3"))
	assert.Nil(t, e.store.Reservation("RES-o1-p1"))

	events := e.pub.take()
	require.Len(t, events, 1, "a single failure event for the first failing item")
	failed := events[0].(contract.InventoryReservationFailed)
	assert.Equal(t, "p2", failed.ProductID)
	assert.Equal(t, 5, failed.Quantity)
}

func TestReserveOrderReportsMissingProduct(t *testing.T) {
	e := newEnv(t, nil, map[string]int{"p1": 10})
	err := e.h.ReserveOrder(context.Background(), orderCreated("o1", map[string]int{"p1": 1, "ghost": 1}, "p1", "ghost"))
	require.True(t, domain.IsNotFound(err))
	assert.Equal(t, 10, e.stock(t, "p1"))
	events := e.pub.take()
	require.Len(t, events, 1)
	assert.Equal(t, "ghost", events[0].(contract.InventoryReservationFailed).ProductID)
}

func TestReserveOrderThenReleaseRestoresStock(t *testing.T) {
	e := newEnv(t, nil, map[string]int{"p1": 10, "p2": 3})
	ctx := context.Background()
	evt := orderCreated("o1", map[string]int{"p1": 4, "p2": 3}, "p1", "p2")

	require.NoError(t, e.h.ReserveOrder(ctx, evt))
	assert.Equal(t, 6, e.stock(t, "p1"))
	assert.Equal(t, 0, e.stock(t, "p2"))
	reserved := e.pub.take()
	require.Len(t, reserved, 2)

	// a redelivered OrderCreated replays without moving stock
	require.NoError(t, e.h.ReserveOrder(ctx, evt))
	assert.Equal(t, 6, e.stock(t, "p1"))
	assert.Len(t, e.pub.take(), 2)

	for _, ev := range reserved {
		r := ev.(contract.InventoryReserved)
		require.NoError(t, e.h.CompensateReservation(ctx, application.ReleaseCommand{
			OrderID:       r.OrderID,
			ProductID:     r.ProductID,
			Quantity:      r.Quantity,
			ReservationID: r.ReservationID,
			Reason:        "order cancelled",
		}))
	}
	assert.Equal(t, 10, e.stock(t, "p1"))
	assert.Equal(t, 3, e.stock(t, "p2"))

	released := e.pub.take()
	require.Len(t, released, 2)
	rel := released[0].(contract.InventoryReleased)
	assert.Equal(t, "order cancelled", rel.Reason)
	assert.Equal(t, "RES-o1-p1", rel.ReservationID)

	// releasing again finds nothing and says nothing
	require.NoError(t, e.h.CompensateReservation(ctx, application.ReleaseCommand{OrderID: "o1", ProductID: "p1", Quantity: 4}))
	assert.Equal(t, 10, e.stock(t, "p1"))
	assert.Empty(t, e.pub.take())
}

func TestCompensateUsesReservedQuantity(t *testing.T) {
	e := newEnv(t, nil, map[string]int{"p1": 10})
	ctx := context.Background()
	require.NoError(t, e.h.ExecuteReservation(ctx, application.ReserveCommand{OrderID: "o1", ProductID: "p1", Quantity: 3}))
	e.pub.take()

	require.NoError(t, e.h.CompensateReservation(ctx, application.ReleaseCommand{OrderID: "o1", ProductID: "p1", Quantity: 99}))
	assert.Equal(t, 10, e.stock(t, "p1"))
	events := e.pub.take()
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].(contract.InventoryReleased).Quantity)
}

func TestCELPolicyRefusesReservation(t *testing.T) {
	policy, err := infrastructure.NewCELPolicy("active && stock - quantity >= 2")
	require.NoError(t, err)
	e := newEnv(t, policy, map[string]int{"p1": 5})

	err = e.h.ExecuteReservation(context.Background(), application.ReserveCommand{OrderID: "o1", ProductID: "p1", Quantity: 4})
	require.True(t, domain.IsInsufficientInventory(err))
	assert.Equal(t, 5, e.stock(t, "p1"))

	require.NoError(t, e.h.ExecuteReservation(context.Background(), application.ReserveCommand{OrderID: "o2", ProductID: "p1", Quantity: 3}))
	assert.Equal(t, 2, e.stock(t, "p1"))
}
