// internal/contract/events.go
package contract

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Exchanges. Kafka maps each exchange onto a topic of the same name.
const (
	OrdersExchange     = "orders.exchange"
	FeedbackExchange   = "order-feedback.exchange"
	DeadLetterExchange = "deadletter.exchange"
	ProductsExchange   = "products.exchange"
)

// Event types double as routing keys.
const (
	OrderCreatedType               = "order.created"
	OrderConfirmedType             = "order.confirmed"
	OrderCancelledType             = "order.cancelled"
	OrderFailedType                = "order.failed"
	OrderCompensationRequestedType = "order.compensation.requested"

	InventoryReservedType          = "inventory.reserved"
	InventoryReservationFailedType = "inventory.reservation.failed"
	InventoryReleasedType          = "inventory.released"

	ProductCreatedType = "product.created"
)

// ReservationID is the idempotency key of one product reservation for an order.
// Both sides derive it, so a redelivered command maps onto the same record.
func ReservationID(orderID, productID string) string {
	return fmt.Sprintf("RES-%s-%s", orderID, productID)
}

// AffectedInventory marks a compensation request the inventory service must act on.
const AffectedInventory = "inventory"

// Event is implemented by every payload that travels on the bus.
type Event interface {
	EventType() string
	Exchange() string
	// Key keeps all messages of one order on the same partition.
	Key() string
	Meta() Metadata
}

// Metadata is carried by every event for correlation and auditing.
type Metadata struct {
	EventID    string    `json:"eventId"`
	OccurredOn time.Time `json:"occurredOn"`
}

func NewMetadata() Metadata {
	return Metadata{EventID: uuid.NewString(), OccurredOn: time.Now().UTC()}
}

func (m Metadata) Meta() Metadata { return m }

type OrderItemPayload struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	Subtotal    string `json:"subtotal"`
}

type OrderCreated struct {
	Metadata
	OrderID    string             `json:"orderId"`
	CustomerID string             `json:"customerId"`
	Items      []OrderItemPayload `json:"items"`
	Total      string             `json:"total"`
	Currency   string             `json:"currency"`
}

func (OrderCreated) EventType() string { return OrderCreatedType }
func (OrderCreated) Exchange() string  { return OrdersExchange }
func (e OrderCreated) Key() string     { return e.OrderID }

type OrderConfirmed struct {
	Metadata
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
}

func (OrderConfirmed) EventType() string { return OrderConfirmedType }
func (OrderConfirmed) Exchange() string  { return OrdersExchange }
func (e OrderConfirmed) Key() string     { return e.OrderID }

type OrderCancelled struct {
	Metadata
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Reason     string `json:"reason"`
}

func (OrderCancelled) EventType() string { return OrderCancelledType }
func (OrderCancelled) Exchange() string  { return OrdersExchange }
func (e OrderCancelled) Key() string     { return e.OrderID }

type OrderFailed struct {
	Metadata
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Reason     string `json:"reason"`
}

func (OrderFailed) EventType() string { return OrderFailedType }
func (OrderFailed) Exchange() string  { return OrdersExchange }
func (e OrderFailed) Key() string     { return e.OrderID }

// OrderCompensationRequested asks the affected services to undo one step.
// ProductID, Quantity and ReservationID identify the reservation to release.
type OrderCompensationRequested struct {
	Metadata
	OrderID          string   `json:"orderId"`
	CustomerID       string   `json:"customerId"`
	Reason           string   `json:"reason"`
	AffectedServices []string `json:"affectedServices"`
	ProductID        string   `json:"productId,omitempty"`
	Quantity         int      `json:"quantity,omitempty"`
	ReservationID    string   `json:"reservationId,omitempty"`
}

func (OrderCompensationRequested) EventType() string { return OrderCompensationRequestedType }
func (OrderCompensationRequested) Exchange() string  { return OrdersExchange }
func (e OrderCompensationRequested) Key() string     { return e.OrderID }

// Affects reports whether service is listed in AffectedServices.
func (e OrderCompensationRequested) Affects(service string) bool {
	for _, s := range e.AffectedServices {
		if s == service {
			return true
		}
	}
	return false
}

type InventoryReserved struct {
	Metadata
	OrderID       string `json:"orderId"`
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
	ReservationID string `json:"reservationId"`
}

func (InventoryReserved) EventType() string { return InventoryReservedType }
func (InventoryReserved) Exchange() string  { return FeedbackExchange }
func (e InventoryReserved) Key() string     { return e.OrderID }

type InventoryReservationFailed struct {
	Metadata
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

func (InventoryReservationFailed) EventType() string { return InventoryReservationFailedType }
func (InventoryReservationFailed) Exchange() string  { return FeedbackExchange }
func (e InventoryReservationFailed) Key() string     { return e.OrderID }

type InventoryReleased struct {
	Metadata
	OrderID       string `json:"orderId"`
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
	ReservationID string `json:"reservationId"`
	Reason        string `json:"reason"`
}

func (InventoryReleased) EventType() string { return InventoryReleasedType }
func (InventoryReleased) Exchange() string  { return FeedbackExchange }
func (e InventoryReleased) Key() string     { return e.OrderID }

// ProductCreated announces a new catalog entry. It is informational; no saga
// step depends on it.
type ProductCreated struct {
	Metadata
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	Stock     int    `json:"stock"`
}

func (ProductCreated) EventType() string { return ProductCreatedType }
func (ProductCreated) Exchange() string  { return ProductsExchange }
func (e ProductCreated) Key() string     { return e.ProductID }
