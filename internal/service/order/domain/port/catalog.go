package port

import (
	"context"

	"ordersaga/internal/pkg/money"
)

// Product is the catalog snapshot the order side prices items from.
type Product struct {
	ID     string
	Name   string
	Price  money.Money
	Stock  int
	Active bool
}

// ProductCatalog is the outbound port to the product catalog.
// GetProduct returns a *domain.NotFoundError for unknown products.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
}
