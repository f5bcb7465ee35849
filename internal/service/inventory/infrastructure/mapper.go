package infrastructure

import (
	"github.com/pkg/errors"

	"ordersaga/internal/pkg/money"
	"ordersaga/internal/service/inventory/domain"
)

func ToDomainProduct(m *ProductModel) (*domain.Product, error) {
	price, err := money.New(m.Price, m.Currency)
	if err != nil {
		return nil, errors.Wrapf(err, "product %s price", m.ID)
	}
	return domain.RestoreProduct(m.ID, m.Name, m.Description, price, m.Stock, m.Active, m.CreatedAt, m.UpdatedAt)
}

func FromDomainProduct(p *domain.Product) *ProductModel {
	return &ProductModel{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.Amount(),
		Currency:    p.Price.Currency(),
		Stock:       p.Stock(),
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func ToDomainReservation(m *ReservationModel) *domain.Reservation {
	return &domain.Reservation{
		ID:        m.ID,
		OrderID:   m.OrderID,
		ProductID: m.ProductID,
		Quantity:  m.Quantity,
		CreatedAt: m.CreatedAt,
	}
}

func FromDomainReservation(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:        r.ID,
		OrderID:   r.OrderID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		CreatedAt: r.CreatedAt,
	}
}
