package domain

import (
	"ordersaga/internal/pkg/money"
)

// OrderItem is a priced line captured at order time. Its subtotal always
// equals unitPrice × quantity.
type OrderItem struct {
	productID   string
	productName string
	quantity    money.Quantity
	unitPrice   money.Money
	subtotal    money.Money
}

// NewOrderItem snapshots a catalog product into an order line.
func NewOrderItem(productID, productName string, quantity int, unitPrice money.Money) (OrderItem, error) {
	if productID == "" {
		return OrderItem{}, NewValidationError("productId", "must not be empty")
	}
	q, err := money.NewQuantity(quantity)
	if err != nil {
		return OrderItem{}, &ValidationError{Field: "quantity", Message: err.Error(), Err: err}
	}
	return OrderItem{
		productID:   productID,
		productName: productName,
		quantity:    q,
		unitPrice:   unitPrice,
		subtotal:    unitPrice.Multiply(q),
	}, nil
}

// RestoreOrderItem rebuilds a stored line and rejects a subtotal that does not match.
func RestoreOrderItem(productID, productName string, quantity int, unitPrice, subtotal money.Money) (OrderItem, error) {
	item, err := NewOrderItem(productID, productName, quantity, unitPrice)
	if err != nil {
		return OrderItem{}, err
	}
	if !item.subtotal.Equals(subtotal) {
		return OrderItem{}, NewValidationError("subtotal",
			"stored subtotal "+subtotal.String()+" does not equal "+item.subtotal.String())
	}
	return item, nil
}

func (i OrderItem) ProductID() string        { return i.productID }
func (i OrderItem) ProductName() string      { return i.productName }
func (i OrderItem) Quantity() money.Quantity { return i.quantity }
func (i OrderItem) UnitPrice() money.Money   { return i.unitPrice }
func (i OrderItem) Subtotal() money.Money    { return i.subtotal }
