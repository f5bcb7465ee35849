package port

import (
	"context"
	"time"

	"ordersaga/internal/contract"
)

// EventPublisher sends integration events to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, evt contract.Event) error
}

// StatusChange is pushed to live subscribers whenever an order changes status.
type StatusChange struct {
	OrderID    string    `json:"orderId"`
	CustomerID string    `json:"customerId"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// StatusNotifier fans status changes out to watchers. Notify must not block.
type StatusNotifier interface {
	Notify(change StatusChange)
}

// NopNotifier drops every change.
type NopNotifier struct{}

func (NopNotifier) Notify(StatusChange) {}
