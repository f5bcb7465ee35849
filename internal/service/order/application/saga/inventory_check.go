package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ordersaga/internal/contract"
	"ordersaga/internal/service/order/domain"
)

// FeedbackHandler receives inventory feedback, normally from the bus consumer.
type FeedbackHandler interface {
	HandleFeedbackEvent(ctx context.Context, eventType string, payload []byte) error
}

// InventoryCheck resolves the inventory outcome of a new order. It returns once
// the saga has an outcome, or with ctx's error when the deadline passes first.
type InventoryCheck interface {
	Await(ctx context.Context, sc *OrderContext, order *domain.Order, feedback FeedbackHandler) error
}

// EventRoundTripCheck relies on the inventory service answering OrderCreated over
// the bus; it only waits for the saga context to finish.
type EventRoundTripCheck struct{}

func (EventRoundTripCheck) Await(ctx context.Context, sc *OrderContext, _ *domain.Order, _ FeedbackHandler) error {
	select {
	case <-sc.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StaticInventoryCheck answers from an in-memory stock table, feeding the same
// events the inventory service would publish straight into the orchestrator.
type StaticInventoryCheck struct {
	mu    sync.Mutex
	stock map[string]int
	// Delay postpones the answer; a delay past the supervisor timeout simulates silence.
	Delay time.Duration
	// Silent suppresses feedback entirely.
	Silent bool
}

func NewStaticInventoryCheck(stock map[string]int) *StaticInventoryCheck {
	cp := make(map[string]int, len(stock))
	for k, v := range stock {
		cp[k] = v
	}
	return &StaticInventoryCheck{stock: cp}
}

// Stock returns the remaining stock of productID.
func (c *StaticInventoryCheck) Stock(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stock[productID]
}

func (c *StaticInventoryCheck) Await(ctx context.Context, sc *OrderContext, order *domain.Order, feedback FeedbackHandler) error {
	if c.Silent {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.Delay > 0 {
		timer := time.NewTimer(c.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, evt := range c.decide(order) {
		body, err := contract.Encode(evt)
		if err != nil {
			return err
		}
		env, err := contract.Decode(body)
		if err != nil {
			return err
		}
		if err := feedback.HandleFeedbackEvent(ctx, env.EventType, env.Payload); err != nil {
			return err
		}
	}
	return nil
}

// decide reserves every item or none, like the inventory service does.
func (c *StaticInventoryCheck) decide(order *domain.Order) []contract.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := order.Items()
	for _, item := range items {
		qty := item.Quantity().Int()
		if available := c.stock[item.ProductID()]; available < qty {
			return []contract.Event{contract.InventoryReservationFailed{
				Metadata:  contract.NewMetadata(),
				OrderID:   order.ID,
				ProductID: item.ProductID(),
				Quantity:  qty,
				Reason:    fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", item.ProductID(), available, qty),
			}}
		}
	}

	events := make([]contract.Event, 0, len(items))
	for _, item := range items {
		qty := item.Quantity().Int()
		c.stock[item.ProductID()] -= qty
		events = append(events, contract.InventoryReserved{
			Metadata:      contract.NewMetadata(),
			OrderID:       order.ID,
			ProductID:     item.ProductID(),
			Quantity:      qty,
			ReservationID: contract.ReservationID(order.ID, item.ProductID()),
		})
	}
	return events
}
