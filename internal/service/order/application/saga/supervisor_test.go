package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersaga/internal/contract"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []contract.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt contract.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) snapshot() []contract.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]contract.Event(nil), p.events...)
}

func TestSupervisorReportsSuccess(t *testing.T) {
	s := NewSupervisor(time.Second, &recordingPublisher{}, nil)
	task := s.Spawn(context.Background(), "o-1", "noop", func(context.Context) error { return nil })

	require.NoError(t, task.Wait(context.Background()))
	assert.NoError(t, task.Err())
}

func TestSupervisorDeadLettersOnTimeout(t *testing.T) {
	pub := &recordingPublisher{}
	var failures int
	s := NewSupervisor(20*time.Millisecond, pub, func(context.Context, string, error) { failures++ })

	task := s.Spawn(context.Background(), "o-1", "inventory_check", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := task.Wait(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, failures, "a timeout is not a failure to compensate")

	events := pub.snapshot()
	require.Len(t, events, 1)
	dl, ok := events[0].(contract.SagaDeadLetter)
	require.True(t, ok)
	assert.Equal(t, "o-1", dl.OrderID)
	assert.Equal(t, contract.DeadLetterExchange, dl.Exchange())
	assert.Equal(t, contract.SagaTimeoutType, dl.EventType())
}

func TestSupervisorHandsOtherErrorsToFailureHook(t *testing.T) {
	got := make(chan error, 1)
	s := NewSupervisor(time.Second, &recordingPublisher{}, func(_ context.Context, orderID string, err error) {
		assert.Equal(t, "o-2", orderID)
		got <- err
	})

	boom := errors.New("boom")
	task := s.Spawn(context.Background(), "o-2", "x", func(context.Context) error { return boom })
	assert.ErrorIs(t, task.Wait(context.Background()), boom)
	assert.ErrorIs(t, <-got, boom)
}

func TestSupervisorRecoversPanics(t *testing.T) {
	got := make(chan error, 1)
	s := NewSupervisor(time.Second, &recordingPublisher{}, func(_ context.Context, _ string, err error) { got <- err })

	task := s.Spawn(context.Background(), "o-3", "x", func(context.Context) error { panic("nil map") })
	err := task.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
	<-got
}

func TestSupervisorShutdownAbandonsTasks(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSupervisor(time.Minute, pub, func(context.Context, string, error) { t.Error("shutdown must not compensate") })

	task := s.Spawn(context.Background(), "o-4", "x", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Shutdown(context.Background()))
	assert.ErrorIs(t, task.Err(), ErrSupervisorStopped)
	assert.Empty(t, pub.snapshot())
}

func TestTaskWaitHonoursContext(t *testing.T) {
	s := NewSupervisor(time.Minute, &recordingPublisher{}, nil)
	defer s.Shutdown(context.Background())

	release := make(chan struct{})
	defer close(release)
	task := s.Spawn(context.Background(), "o-5", "x", func(context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, task.Wait(ctx), context.DeadlineExceeded)
	assert.NoError(t, task.Err())
}
