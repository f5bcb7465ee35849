package domain

import (
	"time"

	"ordersaga/internal/contract"
)

// Reservation records stock held for one product of one order. Its id is
// derived from both, so a replayed command finds the existing record.
type Reservation struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	CreatedAt time.Time
}

func NewReservation(orderID, productID string, quantity int) *Reservation {
	return &Reservation{
		ID:        contract.ReservationID(orderID, productID),
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
}
