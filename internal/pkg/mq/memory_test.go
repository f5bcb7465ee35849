package mq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchRoutingKey(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"order.created", "order.created", true},
		{"order.*", "order.created", true},
		{"order.*", "order.compensation.requested", false},
		{"order.#", "order.compensation.requested", true},
		{"#", "inventory.reservation.failed", true},
		{"inventory.*.failed", "inventory.reservation.failed", true},
		{"inventory.reserved", "inventory.released", false},
		{"#.failed", "inventory.reservation.failed", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchRoutingKey(tt.pattern, tt.key))
		})
	}
}

func TestMemoryBusRoutesByBinding(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	require.NoError(t, bus.Subscribe(ctx, Subscription{
		Queue:    "order-feedback",
		Exchange: "order-feedback.exchange",
		Bindings: []string{"inventory.reserved", "inventory.reservation.failed"},
	}, func(ctx context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.RoutingKey)
		return nil
	}))

	for _, rk := range []string{"inventory.reserved", "inventory.released", "inventory.reservation.failed"} {
		require.NoError(t, bus.Publish(ctx, Message{Exchange: "order-feedback.exchange", RoutingKey: rk}))
	}
	require.NoError(t, bus.Publish(ctx, Message{Exchange: "orders.exchange", RoutingKey: "inventory.reserved"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"inventory.reserved", "inventory.reservation.failed"}, got)
	mu.Unlock()
	assert.Len(t, bus.Published(), 4)
}

func TestMemoryBusRedeliversThenDeadLetters(t *testing.T) {
	bus := NewMemoryBus().WithMaxDeliveries(3)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	require.NoError(t, bus.Subscribe(ctx, Subscription{
		Queue: "q", Exchange: "ex", Bindings: []string{"#"},
	}, func(ctx context.Context, msg Message) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}))

	dead := make(chan Message, 1)
	require.NoError(t, bus.Subscribe(ctx, Subscription{
		Queue: "dlq", Exchange: defaultDeadLetterExchange, Bindings: []string{"#"},
	}, func(ctx context.Context, msg Message) error {
		dead <- msg
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, Message{ID: "m-1", Exchange: "ex", RoutingKey: "a.b", Body: []byte("{}")}))

	select {
	case msg := <-dead:
		assert.Equal(t, "m-1", msg.ID)
		assert.Equal(t, "ex", msg.Headers[HeaderOriginalExchange])
		assert.Equal(t, "boom", msg.Headers[HeaderExceptionMessage])
	case <-time.After(time.Second):
		t.Fatal("message was not dead-lettered")
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestMemoryBusRecoversOnRedelivery(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)
	require.NoError(t, bus.Subscribe(ctx, Subscription{
		Queue: "q", Exchange: "ex", Bindings: []string{"k"},
	}, func(ctx context.Context, msg Message) error {
		if msg.Attempt == 1 {
			return errors.New("transient")
		}
		done <- msg.Attempt
		return nil
	}))
	require.NoError(t, bus.Publish(ctx, Message{Exchange: "ex", RoutingKey: "k"}))

	select {
	case attempt := <-done:
		assert.Equal(t, 2, attempt)
	case <-time.After(time.Second):
		t.Fatal("message was not redelivered")
	}
}

func TestMemoryBusRejectsAfterClose(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Close())
	err := bus.Publish(context.Background(), Message{Exchange: "ex", RoutingKey: "k"})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestSubscriptionValidation(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	err := bus.Subscribe(context.Background(), Subscription{Queue: "q", Exchange: "ex"}, nil)
	assert.Error(t, err)
}
