package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/httpclient"
	"ordersaga/internal/pkg/money"
	"ordersaga/internal/service/order/domain"
	"ordersaga/internal/service/order/domain/port"
)

const productPath = "/api/products/"

// Resolver turns a service name into a base URL such as http://10.0.0.4:8082.
type Resolver interface {
	Resolve(serviceName string) (string, error)
}

// StaticResolver always answers with the same base URL.
type StaticResolver string

func (r StaticResolver) Resolve(string) (string, error) {
	if r == "" {
		return "", errors.New("no static base url configured")
	}
	return strings.TrimRight(string(r), "/"), nil
}

// CatalogHTTPAdapter implements port.ProductCatalog against the inventory
// service's product API.
type CatalogHTTPAdapter struct {
	client   *httpclient.Client
	resolver Resolver
	service  string
}

func NewCatalogHTTPAdapter(client *httpclient.Client, resolver Resolver, serviceName string) *CatalogHTTPAdapter {
	return &CatalogHTTPAdapter{client: client, resolver: resolver, service: serviceName}
}

func (a *CatalogHTTPAdapter) GetProduct(ctx context.Context, id string) (*port.Product, error) {
	base, err := a.resolver.Resolve(a.service)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", a.service)
	}
	var view contract.ProductView
	if err := a.client.GetJSON(ctx, base+productPath+url.PathEscape(id), &view); err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return nil, domain.NewNotFoundError("product", id)
		}
		return nil, err
	}
	return toProduct(view)
}

func toProduct(v contract.ProductView) (*port.Product, error) {
	amount, err := decimal.NewFromString(v.Price)
	if err != nil {
		return nil, errors.Wrapf(err, "product %s price %q", v.ID, v.Price)
	}
	price, err := money.New(amount, v.Currency)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("product %s", v.ID))
	}
	return &port.Product{
		ID:     v.ID,
		Name:   v.Name,
		Price:  price,
		Stock:  v.Stock,
		Active: v.Active,
	}, nil
}
