package infrastructure

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersaga/internal/pkg/redis/redistest"
	"ordersaga/internal/service/order/application/saga"
)

func newLedgerServer() *redistest.Server {
	srv := redistest.NewServer()
	srv.Script(appendStepLua, func(s *redistest.Server, keys, args []string) (interface{}, error) {
		n := s.RPush(keys[0], args[0])
		ms, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, err
		}
		s.PExpire(keys[0], time.Duration(ms)*time.Millisecond)
		return n, nil
	})
	return srv
}

func TestRedisLedgerStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newLedgerServer()
	store, err := NewRedisLedgerStore(ctx, srv.Client(), time.Hour)
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, "o-1", saga.Step{Name: saga.StepOrderCreated, Outcome: saga.OutcomeCompleted, Compensatable: true, Timestamp: at}))
	require.NoError(t, store.Append(ctx, "o-1", saga.Step{
		Name:          saga.StepInventoryReserved,
		Outcome:       saga.OutcomeCompleted,
		Data:          saga.StepData{ProductID: "p1", Quantity: 2, ReservationID: "RES-o-1-p1"},
		Compensatable: true,
		Timestamp:     at.Add(time.Second),
	}))

	assert.Len(t, srv.List("ordersaga:ledger:o-1"), 2)
	assert.Equal(t, time.Hour, srv.TTL("ordersaga:ledger:o-1"))

	steps, err := store.Load(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, saga.StepOrderCreated, steps[0].Name)
	assert.Equal(t, "RES-o-1-p1", steps[1].Data.ReservationID)
	assert.Equal(t, 2, steps[1].Data.Quantity)
	assert.True(t, at.Add(time.Second).Equal(steps[1].Timestamp))

	other, err := store.Load(ctx, "o-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, store.Clear(ctx, "o-1"))
	assert.False(t, srv.Exists("ordersaga:ledger:o-1"))
	steps, err = store.Load(ctx, "o-1")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestRedisLedgerStoreRebuildsRegistryAfterRestart(t *testing.T) {
	ctx := context.Background()
	srv := newLedgerServer()
	store, err := NewRedisLedgerStore(ctx, srv.Client(), time.Hour)
	require.NoError(t, err)

	before := saga.NewRegistry(store)
	sc := before.Start("o-1")
	sc.Lock()
	require.NoError(t, before.Record(ctx, sc, saga.Step{Name: saga.StepOrderCreated, Outcome: saga.OutcomeCompleted, Compensatable: true}))
	sc.Unlock()

	restarted, err := NewRedisLedgerStore(ctx, srv.Client(), time.Hour)
	require.NoError(t, err)
	rebuilt, err := saga.NewRegistry(restarted).Acquire(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rebuilt.Ledger().Len())
}

func TestRedisLedgerStoreSurfacesFailures(t *testing.T) {
	ctx := context.Background()
	srv := newLedgerServer()
	store, err := NewRedisLedgerStore(ctx, srv.Client(), time.Hour)
	require.NoError(t, err)

	srv.FailWith(errors.New("connection reset"))
	assert.ErrorContains(t, store.Append(ctx, "o-1", saga.Step{Name: saga.StepOrderCreated}), "connection reset")
	_, err = store.Load(ctx, "o-1")
	assert.ErrorContains(t, err, "load ledger o-1")
	assert.ErrorContains(t, store.Clear(ctx, "o-1"), "clear ledger o-1")

	srv.FailWith(nil)
	srv.Script(appendStepLua, func(*redistest.Server, []string, []string) (interface{}, error) {
		return nil, errors.New("OOM command not allowed")
	})
	assert.Error(t, store.Append(ctx, "o-1", saga.Step{Name: saga.StepOrderCreated}))
}

func TestRedisLedgerStoreDecodeError(t *testing.T) {
	ctx := context.Background()
	srv := newLedgerServer()
	store, err := NewRedisLedgerStore(ctx, srv.Client(), time.Hour)
	require.NoError(t, err)

	require.NoError(t, srv.Client().GetClient().RPush(ctx, "ordersaga:ledger:o-9", "{not json").Err())

	_, err = store.Load(ctx, "o-9")
	assert.ErrorContains(t, err, "decode ledger step of o-9")
}
