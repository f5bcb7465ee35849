package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"ordersaga/internal/contract"
	"ordersaga/internal/service/inventory/application"
	"ordersaga/internal/service/inventory/domain"
	"ordersaga/internal/service/inventory/infrastructure"
)

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCreateAndReadProducts(t *testing.T) {
	store := infrastructure.NewMemoryStore()
	pub := &recordingPublisher{}
	svc := application.NewProductService(store.Products(), pub, otel.Tracer("test"))
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, &application.CreateProductRequest{Name: "Lamp", Price: "19.9", Stock: 3})
	require.NoError(t, err)
	assert.Equal(t, "19.90", created.Price)
	assert.Equal(t, "USD", created.Currency)
	assert.True(t, created.Active)

	events := pub.take()
	require.Len(t, events, 1)
	announced, ok := events[0].(contract.ProductCreated)
	require.True(t, ok)
	assert.Equal(t, created.ID, announced.ProductID)
	assert.Equal(t, "Lamp", announced.Name)
	assert.Equal(t, "19.90", announced.Price)
	assert.Equal(t, 3, announced.Stock)
	assert.NotEmpty(t, announced.EventID)
	assert.Equal(t, contract.ProductsExchange, announced.Exchange())

	got, err := svc.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = svc.CreateProduct(ctx, &application.CreateProductRequest{Name: "Bulb", Price: "1.00", Currency: "EUR", Stock: 10})
	require.NoError(t, err)
	list, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Bulb", list[0].Name)

	_, err = svc.GetProduct(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestCreateProductStillSucceedsWhenAnnouncementFails(t *testing.T) {
	store := infrastructure.NewMemoryStore()
	svc := application.NewProductService(store.Products(), brokenPublisher{}, otel.Tracer("test"))

	created, err := svc.CreateProduct(context.Background(), &application.CreateProductRequest{Name: "Desk", Price: "120", Stock: 1})
	require.NoError(t, err)
	_, err = svc.GetProduct(context.Background(), created.ID)
	assert.NoError(t, err)
}

type brokenPublisher struct{}

func (brokenPublisher) Publish(context.Context, contract.Event) error {
	return errors.New("broker unavailable")
}

func TestCreateProductValidation(t *testing.T) {
	pub := &recordingPublisher{}
	svc := application.NewProductService(infrastructure.NewMemoryStore().Products(), pub, otel.Tracer("test"))
	for name, req := range map[string]application.CreateProductRequest{
		"price not a number": {Name: "Lamp", Price: "cheap", Stock: 1},
		"negative price":     {Name: "Lamp", Price: "-1", Stock: 1},
		"bad currency":       {Name: "Lamp", Price: "1", Currency: "dollars", Stock: 1},
		"no name":            {Price: "1", Stock: 1},
		"negative stock":     {Name: "Lamp", Price: "1", Stock: -2},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateProduct(context.Background(), &req)
			assert.True(t, domain.IsValidation(err), "%v", err)
		})
	}
	assert.Empty(t, pub.take(), "nothing is announced for a rejected product")
}
