// internal/service/order/domain/order.go
package domain

import (
	"time"

	"github.com/google/uuid"

	"ordersaga/internal/pkg/money"
)

// Order is the aggregate root. Status only changes through ChangeStatus.
type Order struct {
	ID         string
	CustomerID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// RedriveCount counts how often the audit sweep re-published OrderCreated.
	RedriveCount int

	items  []OrderItem
	status Status
	total  money.Money
}

// NewOrder creates a PENDING order whose total is the sum of the item subtotals.
func NewOrder(customerID string, items []OrderItem) (*Order, error) {
	if customerID == "" {
		return nil, NewValidationError("customerId", "must not be empty")
	}
	total, err := sumItems(items)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Order{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		CreatedAt:  now,
		UpdatedAt:  now,
		items:      append([]OrderItem(nil), items...),
		status:     StatusPending,
		total:      total,
	}, nil
}

// RestoreOrder rebuilds an order from storage and re-checks the total.
func RestoreOrder(id, customerID string, items []OrderItem, status Status, total money.Money, createdAt, updatedAt time.Time, redrives int) (*Order, error) {
	sum, err := sumItems(items)
	if err != nil {
		return nil, err
	}
	if !sum.Equals(total) {
		return nil, NewValidationError("total", "stored total "+total.String()+" does not equal item sum "+sum.String())
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, &ValidationError{Field: "status", Message: err.Error(), Err: err}
	}
	return &Order{
		ID:           id,
		CustomerID:   customerID,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		RedriveCount: redrives,
		items:        append([]OrderItem(nil), items...),
		status:       status,
		total:        total,
	}, nil
}

func sumItems(items []OrderItem) (money.Money, error) {
	if len(items) == 0 {
		return money.Money{}, NewValidationError("items", "an order needs at least one item")
	}
	total := money.Zero(items[0].UnitPrice().Currency())
	for _, item := range items {
		var err error
		if total, err = total.Add(item.Subtotal()); err != nil {
			return money.Money{}, &ValidationError{Field: "items", Message: "all items must share one currency", Err: err}
		}
	}
	return total, nil
}

// ChangeStatus moves the order along the transition table and stamps UpdatedAt.
func (o *Order) ChangeStatus(target Status) error {
	if !o.status.CanTransitionTo(target) {
		return &TransitionError{OrderID: o.ID, From: o.status, To: target}
	}
	o.status = target
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (o *Order) Confirm() error         { return o.ChangeStatus(StatusConfirmed) }
func (o *Order) Cancel() error          { return o.ChangeStatus(StatusCancelled) }
func (o *Order) Fail() error            { return o.ChangeStatus(StatusFailed) }
func (o *Order) StartProcessing() error { return o.ChangeStatus(StatusProcessing) }
func (o *Order) Ship() error            { return o.ChangeStatus(StatusShipped) }
func (o *Order) Deliver() error         { return o.ChangeStatus(StatusDelivered) }

func (o *Order) Status() Status     { return o.status }
func (o *Order) Total() money.Money { return o.total }
func (o *Order) IsPending() bool    { return o.status == StatusPending }
func (o *Order) ItemCount() int     { return len(o.items) }

// Items returns a copy of the order lines.
func (o *Order) Items() []OrderItem {
	return append([]OrderItem(nil), o.items...)
}

func (o *Order) HasItem(productID string) bool {
	for _, item := range o.items {
		if item.ProductID() == productID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so stores never share a mutable aggregate with callers.
func (o *Order) Clone() *Order {
	c := *o
	c.items = append([]OrderItem(nil), o.items...)
	return &c
}
