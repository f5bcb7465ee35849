package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"ordersaga/internal/pkg/money"
)

// Product is the inventory aggregate. Stock changes only through Reserve and Restock.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       money.Money
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time

	stock int
}

// NewProduct creates an active product with a generated id.
func NewProduct(name, description string, price money.Money, stock int) (*Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("name", "must not be empty")
	}
	if len(name) > 255 {
		return nil, NewValidationError("name", "must be at most 255 characters")
	}
	if !price.Amount().IsPositive() {
		return nil, NewValidationError("price", "must be positive")
	}
	if stock < 0 {
		return nil, NewValidationError("stock", "must not be negative")
	}
	now := time.Now().UTC()
	return &Product{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Price:       price,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
		stock:       stock,
	}, nil
}

// RestoreProduct rebuilds a product from storage.
func RestoreProduct(id, name, description string, price money.Money, stock int, active bool, createdAt, updatedAt time.Time) (*Product, error) {
	if stock < 0 {
		return nil, NewValidationError("stock", "stored stock is negative")
	}
	return &Product{
		ID:          id,
		Name:        name,
		Description: description,
		Price:       price,
		Active:      active,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		stock:       stock,
	}, nil
}

func (p *Product) Stock() int { return p.stock }

// CanFulfillOrder is the default fulfillment rule.
func (p *Product) CanFulfillOrder(quantity int) bool {
	return p.Active && p.stock >= quantity
}

// Reserve takes quantity out of stock.
func (p *Product) Reserve(quantity int) error {
	if quantity <= 0 {
		return NewValidationError("quantity", "must be greater than zero")
	}
	if p.stock < quantity {
		return &InsufficientInventoryError{ProductID: p.ID, Available: p.stock, Requested: quantity, Active: p.Active}
	}
	p.stock -= quantity
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Restock puts quantity back, e.g. when a reservation is released.
func (p *Product) Restock(quantity int) error {
	if quantity <= 0 {
		return NewValidationError("quantity", "must be greater than zero")
	}
	p.stock += quantity
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Product) Deactivate() {
	p.Active = false
	p.UpdatedAt = time.Now().UTC()
}

func (p *Product) Clone() *Product {
	cp := *p
	return &cp
}

// FulfillmentPolicy decides whether a product can serve a requested quantity.
type FulfillmentPolicy interface {
	CanFulfill(p *Product, quantity int) (bool, error)
}

// DefaultPolicy requires an active product with enough stock.
type DefaultPolicy struct{}

func (DefaultPolicy) CanFulfill(p *Product, quantity int) (bool, error) {
	return p.CanFulfillOrder(quantity), nil
}
