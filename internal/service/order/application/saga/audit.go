package saga

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/service/order/domain"
)

const auditLockName = "order-saga-audit"

// Locker grants the sweep to one replica at a time. ok is false when another
// holder has it; unlock must be called when ok is true.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error)
}

// LocalLocker is a process-local Locker for single-replica runs and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) TryLock(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}, true, nil
}

type AuditConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	// MaxRedrives is how often OrderCreated is re-published before the order is
	// failed. Zero never fails an order.
	MaxRedrives int
	BatchSize   int
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Redriven int
	Failed   int
	Skipped  int
}

// AuditSweeper resolves PENDING orders whose saga stalled, for example after a
// restart lost the in-flight task or the inventory answer never came.
type AuditSweeper struct {
	orch   *Orchestrator
	orders domain.OrderRepository
	locker Locker
	cfg    AuditConfig
	now    func() time.Time
}

func NewAuditSweeper(orch *Orchestrator, orders domain.OrderRepository, locker Locker, cfg AuditConfig) *AuditSweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &AuditSweeper{orch: orch, orders: orders, locker: locker, cfg: cfg, now: time.Now}
}

// Run sweeps every Interval until ctx is cancelled.
func (a *AuditSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	logger.Ctx(ctx).Info().Dur("interval", a.cfg.Interval).Dur("stale_after", a.cfg.StaleAfter).Msg("✅ Pending order audit started.")
	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 Pending order audit shutting down.")
			return
		case <-ticker.C:
			res, err := a.Sweep(ctx)
			if err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("audit sweep failed")
				continue
			}
			if res.Redriven+res.Failed > 0 {
				logger.Ctx(ctx).Info().Int("redriven", res.Redriven).Int("failed", res.Failed).Msg("Audit sweep resolved stale orders.")
			}
		}
	}
}

// Sweep handles one batch of stale PENDING orders if this replica holds the lock.
func (a *AuditSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	unlock, ok, err := a.locker.TryLock(ctx, auditLockName)
	if err != nil {
		return res, errors.Wrap(err, "acquire audit lock")
	}
	if !ok {
		logger.Ctx(ctx).Debug().Msg("Audit lock held elsewhere, skipping sweep.")
		return res, nil
	}
	defer unlock()

	stale, err := a.orders.ListPendingBefore(ctx, a.now().Add(-a.cfg.StaleAfter), a.cfg.BatchSize)
	if err != nil {
		return res, errors.Wrap(err, "list stale orders")
	}
	for _, order := range stale {
		if a.cfg.MaxRedrives > 0 && order.RedriveCount >= a.cfg.MaxRedrives {
			done, err := a.orch.FailStale(ctx, order.ID, "no inventory outcome after redrives")
			if err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to fail stale order")
				continue
			}
			if done {
				res.Failed++
				metrics.AuditRedrives.WithLabelValues("failed").Inc()
			} else {
				res.Skipped++
			}
			continue
		}
		done, err := a.orch.Redrive(ctx, order.ID)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to redrive stale order")
			continue
		}
		if done {
			res.Redriven++
			metrics.AuditRedrives.WithLabelValues("redriven").Inc()
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// Redrive re-publishes OrderCreated for a still PENDING order. Reservations are
// keyed by (order, product), so the inventory side replays instead of reserving twice.
func (o *Orchestrator) Redrive(ctx context.Context, orderID string) (bool, error) {
	sc, err := o.registry.Acquire(ctx, orderID)
	if err != nil {
		return false, err
	}
	defer o.registry.Release(sc)
	sc.Lock()
	defer sc.Unlock()

	order, err := o.orders.FindByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if !order.IsPending() {
		return false, nil
	}
	count, err := o.orders.IncrementRedrive(ctx, orderID)
	if err != nil {
		return false, err
	}
	if err := o.publisher.Publish(ctx, orderCreatedEvent(order)); err != nil {
		return false, err
	}
	logger.Ctx(ctx).Warn().Str("order_id", orderID).Int("redrive", count).Msg("Stale order re-published.")
	return true, nil
}

// FailStale marks a stuck PENDING order FAILED and asks inventory to release
// anything it may have reserved for it.
func (o *Orchestrator) FailStale(ctx context.Context, orderID, reason string) (bool, error) {
	sc, err := o.registry.Acquire(ctx, orderID)
	if err != nil {
		return false, err
	}
	defer o.registry.Release(sc)
	sc.Lock()
	defer sc.Unlock()

	log := logger.Ctx(ctx).With().Str("order_id", orderID).Logger()
	order, err := o.orders.FindByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if !order.IsPending() {
		return false, nil
	}

	releases := sc.Ledger().Completed()
	if len(sc.Ledger().ReservedProducts()) == 0 {
		// Feedback may have been lost; releasing an absent reservation is a no-op.
		releases = derivedReservations(order)
	}
	for _, step := range releases {
		if step.Name != StepInventoryReserved {
			continue
		}
		if err := o.publisher.Publish(ctx, releaseRequest(order, step.Data, reason)); err != nil {
			metrics.CompensationStepFailures.WithLabelValues(step.Name).Inc()
			log.Error().Err(err).Str("step", step.Name).Msg("Release request failed, continuing.")
		}
	}

	if err := order.Fail(); err != nil {
		return false, err
	}
	if err := o.orders.Update(ctx, order); err != nil {
		return false, errors.Wrap(err, "persist failed order")
	}
	if err := o.publisher.Publish(ctx, contract.OrderFailed{
		Metadata:   contract.NewMetadata(),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Reason:     reason,
	}); err != nil {
		log.Error().Err(err).Msg("failed to publish OrderFailed")
	}
	o.end(ctx, sc, order, reason)
	log.Warn().Str("reason", reason).Msg("Stale order failed.")
	return true, nil
}
