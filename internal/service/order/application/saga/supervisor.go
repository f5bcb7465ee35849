package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/service/order/domain/port"
)

// ErrSupervisorStopped is the task error when the supervisor shut down first.
var ErrSupervisorStopped = errors.New("saga: supervisor stopped")

// Task is a supervised background step whose result can be observed.
type Task struct {
	OrderID string
	Name    string

	done chan struct{}
	err  error
}

func (t *Task) Done() <-chan struct{} { return t.done }

// Err is the task result. It is nil until Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task ends or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailureFunc handles a task error that is neither a timeout nor a shutdown.
type FailureFunc func(ctx context.Context, orderID string, err error)

// Supervisor runs saga tasks under a deadline. A task that runs out of time is
// dead-lettered and its order left alone; any other failure goes to onFailure.
type Supervisor struct {
	timeout   time.Duration
	publisher port.EventPublisher
	onFailure FailureFunc

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewSupervisor(timeout time.Duration, publisher port.EventPublisher, onFailure FailureFunc) *Supervisor {
	base, stop := context.WithCancel(context.Background())
	return &Supervisor{
		timeout:   timeout,
		publisher: publisher,
		onFailure: onFailure,
		base:      base,
		stop:      stop,
	}
}

// Spawn starts fn detached from the caller's deadline but keeps its trace.
func (s *Supervisor) Spawn(parent context.Context, orderID, name string, fn func(ctx context.Context) error) *Task {
	task := &Task{OrderID: orderID, Name: name, done: make(chan struct{})}

	spanCtx := trace.SpanContextFromContext(parent)
	detached := trace.ContextWithRemoteSpanContext(s.base, spanCtx)
	taskCtx, cancel := context.WithTimeout(detached, s.timeout)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer close(task.done)

		task.err = s.run(taskCtx, fn)
		s.settle(detached, task)
	}()
	return task
}

func (s *Supervisor) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("saga task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) settle(ctx context.Context, task *Task) {
	log := logger.Ctx(ctx).With().Str("order_id", task.OrderID).Str("task", task.Name).Logger()
	switch {
	case task.err == nil:
		return
	case s.base.Err() != nil:
		task.err = ErrSupervisorStopped
		log.Warn().Msg("🛑 Saga task abandoned on shutdown, order left for the audit sweep.")
	case errors.Is(task.err, context.DeadlineExceeded):
		log.Warn().Dur("timeout", s.timeout).Msg("Saga task timed out, dead-lettering.")
		s.deadLetter(ctx, task)
	default:
		log.Error().Err(task.err).Msg("Saga task failed.")
		if s.onFailure != nil {
			s.onFailure(ctx, task.OrderID, task.err)
		}
	}
}

func (s *Supervisor) deadLetter(ctx context.Context, task *Task) {
	metrics.DeadLetters.WithLabelValues(contract.SagaTimeoutType).Inc()
	record := contract.SagaDeadLetter{
		Metadata: contract.NewMetadata(),
		OrderID:  task.OrderID,
		Task:     task.Name,
		Reason:   fmt.Sprintf("no outcome within %s", s.timeout),
		Deadline: s.timeout,
	}
	if err := s.publisher.Publish(ctx, record); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", task.OrderID).Msg("failed to dead-letter timed out saga task")
	}
}

// Shutdown cancels running tasks and waits for them until ctx is done.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stop()
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
