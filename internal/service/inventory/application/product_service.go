package application

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/money"
	"ordersaga/internal/service/inventory/domain"
)

const defaultCurrency = "USD"

// CreateProductRequest is the input of the create-product use case.
type CreateProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	Stock       int    `json:"stock"`
}

// ProductService serves the catalog queries and product creation.
type ProductService struct {
	products  domain.ProductRepository
	publisher EventPublisher
	tracer    trace.Tracer
}

func NewProductService(products domain.ProductRepository, publisher EventPublisher, tracer trace.Tracer) *ProductService {
	return &ProductService{products: products, publisher: publisher, tracer: tracer}
}

func (s *ProductService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*contract.ProductView, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CreateProduct")
	defer span.End()

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		return nil, domain.NewValidationError("price", "must be a decimal number")
	}
	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	price, err := money.New(amount, currency)
	if err != nil {
		return nil, domain.NewValidationError("price", err.Error())
	}
	product, err := domain.NewProduct(req.Name, req.Description, price, req.Stock)
	if err != nil {
		return nil, err
	}
	if err := s.products.Save(ctx, product); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("product.id", product.ID))
	log := logger.Ctx(ctx).With().Str("product_id", product.ID).Logger()
	log.Info().Str("name", product.Name).Int("stock", product.Stock()).Msg("Product created.")

	view := ToProductView(product)
	if err := s.publisher.Publish(ctx, contract.ProductCreated{
		Metadata:  contract.NewMetadata(),
		ProductID: view.ID,
		Name:      view.Name,
		Price:     view.Price,
		Currency:  view.Currency,
		Stock:     view.Stock,
	}); err != nil {
		// The product is stored; subscribers only miss the announcement.
		span.RecordError(err)
		log.Error().Err(err).Msg("failed to publish ProductCreated")
	}
	return view, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id string) (*contract.ProductView, error) {
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToProductView(product), nil
}

func (s *ProductService) ListProducts(ctx context.Context) ([]*contract.ProductView, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*contract.ProductView, 0, len(products))
	for _, p := range products {
		out = append(out, ToProductView(p))
	}
	return out, nil
}

func ToProductView(p *domain.Product) *contract.ProductView {
	return &contract.ProductView{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price.Amount().StringFixed(2),
		Currency: p.Price.Currency(),
		Stock:    p.Stock(),
		Active:   p.Active,
	}
}
