// internal/service/order/application/dto.go
package application

import (
	"time"

	"ordersaga/internal/service/order/application/saga"
	"ordersaga/internal/service/order/domain"
)

// CreateOrderRequest is the input of the create-order use case.
type CreateOrderRequest struct {
	CustomerID string        `json:"customerId"`
	Items      []ItemRequest `json:"items"`
}

type ItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (r CreateOrderRequest) toSagaItems() []saga.ItemRequest {
	out := make([]saga.ItemRequest, len(r.Items))
	for i, it := range r.Items {
		out[i] = saga.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

// CancelOrderRequest carries an externally initiated cancellation.
type CancelOrderRequest struct {
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiatedBy"`
}

// AdvanceOrderRequest moves a confirmed order along fulfilment.
type AdvanceOrderRequest struct {
	Status string `json:"status"`
}

// OrderResponse is the read model returned by every use case.
type OrderResponse struct {
	ID         string              `json:"id"`
	CustomerID string              `json:"customerId"`
	Status     domain.Status       `json:"status"`
	Items      []OrderItemResponse `json:"items"`
	Total      string              `json:"total"`
	Currency   string              `json:"currency"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

type OrderItemResponse struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	Subtotal    string `json:"subtotal"`
}

// ToOrderResponse maps the aggregate to its read model. Amounts are fixed to two decimals.
func ToOrderResponse(o *domain.Order) *OrderResponse {
	items := o.Items()
	resp := &OrderResponse{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status(),
		Items:      make([]OrderItemResponse, len(items)),
		Total:      o.Total().Amount().StringFixed(2),
		Currency:   o.Total().Currency(),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	for i, it := range items {
		resp.Items[i] = OrderItemResponse{
			ProductID:   it.ProductID(),
			ProductName: it.ProductName(),
			Quantity:    it.Quantity().Int(),
			UnitPrice:   it.UnitPrice().Amount().StringFixed(2),
			Subtotal:    it.Subtotal().Amount().StringFixed(2),
		}
	}
	return resp
}
