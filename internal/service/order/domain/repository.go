// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"
)

// OrderRepository is the persistence port of the order aggregate.
// Implementations return *NotFoundError for unknown ids.
type OrderRepository interface {
	// Save inserts a new order.
	Save(ctx context.Context, order *Order) error

	// Update persists status and timestamps of an existing order.
	Update(ctx context.Context, order *Order) error

	FindByID(ctx context.Context, id string) (*Order, error)

	// ListByCustomer returns a customer's orders, newest first.
	ListByCustomer(ctx context.Context, customerID string) ([]*Order, error)

	// ListPendingBefore returns up to limit PENDING orders created before cutoff, oldest first.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)

	// IncrementRedrive bumps the redrive counter and returns the new value.
	IncrementRedrive(ctx context.Context, id string) (int, error)
}
