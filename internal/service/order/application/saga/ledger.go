package saga

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"ordersaga/internal/service/order/domain"
)

const (
	StepOrderCreated      = "order_created"
	StepInventoryReserved = "inventory_reserved"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// StepData is what a compensating action needs to undo a step.
type StepData struct {
	ProductID     string `json:"productId,omitempty"`
	Quantity      int    `json:"quantity,omitempty"`
	ReservationID string `json:"reservationId,omitempty"`
	CustomerID    string `json:"customerId,omitempty"`
}

// Step is one ledger entry.
type Step struct {
	Name          string    `json:"name"`
	Outcome       Outcome   `json:"outcome"`
	Data          StepData  `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
	Compensatable bool      `json:"compensatable"`
}

// Ledger is the append-only step history of one saga. It is not safe for
// concurrent use; the owning OrderContext serializes access.
type Ledger struct {
	steps []Step
}

func (l *Ledger) Record(step Step) {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	l.steps = append(l.steps, step)
}

// Completed returns the completed steps in chronological order.
func (l *Ledger) Completed() []Step {
	out := make([]Step, 0, len(l.steps))
	for _, s := range l.steps {
		if s.Outcome == OutcomeCompleted {
			out = append(out, s)
		}
	}
	return out
}

func (l *Ledger) Len() int { return len(l.steps) }

func (l *Ledger) Clear() { l.steps = nil }

// HasReservation reports whether reservationID has already been recorded.
func (l *Ledger) HasReservation(reservationID string) bool {
	for _, s := range l.steps {
		if s.Name == StepInventoryReserved && s.Data.ReservationID == reservationID {
			return true
		}
	}
	return false
}

// ReservedProducts returns the product ids with a completed reservation step.
func (l *Ledger) ReservedProducts() map[string]bool {
	out := make(map[string]bool)
	for _, s := range l.steps {
		if s.Name == StepInventoryReserved && s.Outcome == OutcomeCompleted {
			out[s.Data.ProductID] = true
		}
	}
	return out
}

// OrderContext is the state of one in-flight saga. Every flow that touches the
// order holds its lock, so feedback, compensation and cancellation never interleave.
type OrderContext struct {
	OrderID   string
	StartedAt time.Time

	mu       sync.Mutex
	ledger   Ledger
	done     chan struct{}
	doneOnce sync.Once
	outcome  domain.Status
	task     atomic.Pointer[Task]
	refs     int // guarded by Registry.mu
}

func newOrderContext(orderID string, steps []Step) *OrderContext {
	sc := &OrderContext{OrderID: orderID, done: make(chan struct{})}
	sc.ledger.steps = steps
	return sc
}

func (c *OrderContext) Lock()   { c.mu.Lock() }
func (c *OrderContext) Unlock() { c.mu.Unlock() }

// Ledger must only be used while holding the lock.
func (c *OrderContext) Ledger() *Ledger { return &c.ledger }

// Done is closed once the saga reached CONFIRMED, CANCELLED or FAILED.
func (c *OrderContext) Done() <-chan struct{} { return c.done }

// Task is the supervised inventory check of this saga, nil for a context
// rebuilt from the store.
func (c *OrderContext) Task() *Task { return c.task.Load() }

// Outcome is the terminal status, valid after Done is closed.
func (c *OrderContext) Outcome() domain.Status {
	<-c.done
	return c.outcome
}

func (c *OrderContext) finish(status domain.Status) bool {
	first := false
	c.doneOnce.Do(func() {
		c.outcome = status
		close(c.done)
		first = true
	})
	return first
}

// LedgerStore mirrors ledgers outside the process so a restarted orchestrator
// can still compensate.
type LedgerStore interface {
	Append(ctx context.Context, orderID string, step Step) error
	Load(ctx context.Context, orderID string) ([]Step, error)
	Clear(ctx context.Context, orderID string) error
}

// MemoryLedgerStore keeps ledgers in process. It survives a Registry, not a restart.
type MemoryLedgerStore struct {
	mu      sync.Mutex
	ledgers map[string][]Step
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{ledgers: make(map[string][]Step)}
}

func (s *MemoryLedgerStore) Append(_ context.Context, orderID string, step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[orderID] = append(s.ledgers[orderID], step)
	return nil
}

func (s *MemoryLedgerStore) Load(_ context.Context, orderID string) ([]Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Step(nil), s.ledgers[orderID]...), nil
}

func (s *MemoryLedgerStore) Clear(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ledgers, orderID)
	return nil
}

// Registry maps order ids to live saga contexts.
type Registry struct {
	mu       sync.Mutex
	contexts map[string]*OrderContext // each holds one ref per Acquire, plus one from Start until Finish
	store    LedgerStore
}

func NewRegistry(store LedgerStore) *Registry {
	if store == nil {
		store = NewMemoryLedgerStore()
	}
	return &Registry{contexts: make(map[string]*OrderContext), store: store}
}

// Start registers a fresh context for a new order. The saga owns a reference
// that only Finish or Discard give up, so Release never evicts it mid-flight.
func (r *Registry) Start(orderID string) *OrderContext {
	sc := newOrderContext(orderID, nil)
	sc.StartedAt = time.Now()
	sc.refs = 1
	r.mu.Lock()
	r.contexts[orderID] = sc
	r.mu.Unlock()
	return sc
}

// Acquire returns the live context for orderID, rebuilding it from the store on a miss.
func (r *Registry) Acquire(ctx context.Context, orderID string) (*OrderContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sc, ok := r.contexts[orderID]; ok {
		sc.refs++
		return sc, nil
	}
	steps, err := r.store.Load(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "load ledger for order %s", orderID)
	}
	sc := newOrderContext(orderID, steps)
	sc.refs = 1
	r.contexts[orderID] = sc
	return sc, nil
}

// Release gives back a reference taken by Acquire. A context is dropped once
// nobody holds it; its ledger stays in the store.
func (r *Registry) Release(sc *OrderContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc.refs--
	if sc.refs > 0 {
		return
	}
	if cur, ok := r.contexts[sc.OrderID]; ok && cur == sc {
		delete(r.contexts, sc.OrderID)
	}
}

// Record appends step to the durable store first, then to the in-memory ledger.
// The caller holds sc's lock.
func (r *Registry) Record(ctx context.Context, sc *OrderContext, step Step) error {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	if err := r.store.Append(ctx, sc.OrderID, step); err != nil {
		return errors.Wrapf(err, "persist step %s for order %s", step.Name, sc.OrderID)
	}
	sc.ledger.Record(step)
	return nil
}

// Finish clears the ledger, drops the context and closes Done. It reports
// whether this call was the one that ended the saga.
func (r *Registry) Finish(ctx context.Context, sc *OrderContext, status domain.Status) (bool, error) {
	sc.ledger.Clear()
	clearErr := r.store.Clear(ctx, sc.OrderID)

	r.mu.Lock()
	if cur, ok := r.contexts[sc.OrderID]; ok && cur == sc {
		delete(r.contexts, sc.OrderID)
	}
	r.mu.Unlock()

	first := sc.finish(status)
	if clearErr != nil {
		return first, errors.Wrapf(clearErr, "clear ledger for order %s", sc.OrderID)
	}
	return first, nil
}

// Discard forgets a context whose order was never persisted.
func (r *Registry) Discard(orderID string) {
	r.mu.Lock()
	delete(r.contexts, orderID)
	r.mu.Unlock()
}

// Active is the number of live contexts.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}
