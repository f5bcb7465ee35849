package infrastructure

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"ordersaga/internal/service/inventory/domain"
)

// MemoryStore keeps products and reservations in maps. Units of work run one at
// a time and are rolled back to a snapshot on error.
type MemoryStore struct {
	mu           sync.Mutex
	products     map[string]*domain.Product
	reservations map[string]*domain.Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*domain.Product),
		reservations: make(map[string]*domain.Reservation),
	}
}

// Products returns a repository usable outside a unit of work.
func (s *MemoryStore) Products() domain.ProductRepository {
	return &memProducts{store: s, locking: true}
}

func (s *MemoryStore) Do(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make(map[string]*domain.Product, len(s.products))
	for id, p := range s.products {
		products[id] = p.Clone()
	}
	reservations := make(map[string]*domain.Reservation, len(s.reservations))
	for id, r := range s.reservations {
		cp := *r
		reservations[id] = &cp
	}

	err := fn(ctx, domain.Repositories{
		Products:     &memProducts{store: s},
		Reservations: &memReservations{store: s},
	})
	if err != nil {
		s.products, s.reservations = products, reservations
	}
	return err
}

// Reservation returns a stored reservation, or nil.
func (s *MemoryStore) Reservation(id string) *domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// memProducts takes the store lock itself only when used outside Do.
type memProducts struct {
	store   *MemoryStore
	locking bool
}

func (r *memProducts) lock() func() {
	if !r.locking {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *memProducts) FindByID(_ context.Context, id string) (*domain.Product, error) {
	defer r.lock()()
	p, ok := r.store.products[id]
	if !ok {
		return nil, domain.NewNotFoundError("product", id)
	}
	return p.Clone(), nil
}

func (r *memProducts) Save(_ context.Context, p *domain.Product) error {
	defer r.lock()()
	if _, exists := r.store.products[p.ID]; exists {
		return errors.Errorf("product %s already exists", p.ID)
	}
	r.store.products[p.ID] = p.Clone()
	return nil
}

func (r *memProducts) Update(_ context.Context, p *domain.Product) error {
	defer r.lock()()
	if _, ok := r.store.products[p.ID]; !ok {
		return domain.NewNotFoundError("product", p.ID)
	}
	r.store.products[p.ID] = p.Clone()
	return nil
}

func (r *memProducts) List(_ context.Context) ([]*domain.Product, error) {
	defer r.lock()()
	out := make([]*domain.Product, 0, len(r.store.products))
	for _, p := range r.store.products {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// memReservations is only handed out inside Do, which holds the lock.
type memReservations struct {
	store *MemoryStore
}

func (r *memReservations) Find(_ context.Context, id string) (*domain.Reservation, error) {
	res, ok := r.store.reservations[id]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

func (r *memReservations) Save(_ context.Context, res *domain.Reservation) error {
	if _, exists := r.store.reservations[res.ID]; exists {
		return errors.WithStack(domain.ErrReservationExists)
	}
	cp := *res
	r.store.reservations[res.ID] = &cp
	return nil
}

func (r *memReservations) Delete(_ context.Context, id string) error {
	delete(r.store.reservations, id)
	return nil
}
