package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"ordersaga/internal/service/order/domain"
)

// MemoryOrderRepository stores clones of orders in a map. Used with the memory
// storage driver and in tests.
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

func (r *MemoryOrderRepository) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return errors.Errorf("order %s already exists", order.ID)
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryOrderRepository) Update(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[order.ID]
	if !ok {
		return domain.NewNotFoundError("order", order.ID)
	}
	next := order.Clone()
	next.RedriveCount = cur.RedriveCount
	r.orders[order.ID] = next
	return nil
}

func (r *MemoryOrderRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.NewNotFoundError("order", id)
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) ListByCustomer(_ context.Context, customerID string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.CustomerID == customerID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryOrderRepository) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.IsPending() && o.CreatedAt.Before(cutoff) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryOrderRepository) IncrementRedrive(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return 0, domain.NewNotFoundError("order", id)
	}
	o.RedriveCount++
	return o.RedriveCount, nil
}

// Backdate shifts an order's creation time; used to age orders for the audit sweep.
func (r *MemoryOrderRepository) Backdate(id string, by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		o.CreatedAt = o.CreatedAt.Add(-by)
	}
}
