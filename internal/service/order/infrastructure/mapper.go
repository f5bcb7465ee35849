package infrastructure

import (
	"sort"

	"github.com/pkg/errors"

	"ordersaga/internal/pkg/money"
	"ordersaga/internal/service/order/domain"
)

// ToDomainOrder rebuilds the aggregate from its rows. Stored totals are checked
// against the lines, so a corrupted row surfaces as an error.
func ToDomainOrder(model *OrderModel) (*domain.Order, error) {
	lines := append([]OrderItemModel(nil), model.Items...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].Position < lines[j].Position })

	items := make([]domain.OrderItem, 0, len(lines))
	for _, l := range lines {
		unit, err := money.New(l.UnitPrice, model.Currency)
		if err != nil {
			return nil, errors.Wrapf(err, "order %s item %s unit price", model.ID, l.ProductID)
		}
		subtotal, err := money.New(l.Subtotal, model.Currency)
		if err != nil {
			return nil, errors.Wrapf(err, "order %s item %s subtotal", model.ID, l.ProductID)
		}
		item, err := domain.RestoreOrderItem(l.ProductID, l.ProductName, l.Quantity, unit, subtotal)
		if err != nil {
			return nil, errors.Wrapf(err, "order %s", model.ID)
		}
		items = append(items, item)
	}
	total, err := money.New(model.Total, model.Currency)
	if err != nil {
		return nil, errors.Wrapf(err, "order %s total", model.ID)
	}
	return domain.RestoreOrder(model.ID, model.CustomerID, items, domain.Status(model.Status), total,
		model.CreatedAt, model.UpdatedAt, model.RedriveCount)
}

// FromDomainOrder builds the rows for an insert.
func FromDomainOrder(o *domain.Order) *OrderModel {
	items := o.Items()
	model := &OrderModel{
		ID:           o.ID,
		CustomerID:   o.CustomerID,
		Status:       o.Status().String(),
		Total:        o.Total().Amount(),
		Currency:     o.Total().Currency(),
		RedriveCount: o.RedriveCount,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		Items:        make([]OrderItemModel, len(items)),
	}
	for i, it := range items {
		model.Items[i] = OrderItemModel{
			OrderID:     o.ID,
			Position:    i,
			ProductID:   it.ProductID(),
			ProductName: it.ProductName(),
			Quantity:    it.Quantity().Int(),
			UnitPrice:   it.UnitPrice().Amount(),
			Subtotal:    it.Subtotal().Amount(),
		}
	}
	return model
}
