package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersaga/internal/service/order/domain"
)

func TestLedgerKeepsChronologicalCompletedSteps(t *testing.T) {
	var l Ledger
	l.Record(Step{Name: StepOrderCreated, Outcome: OutcomeCompleted, Compensatable: true})
	l.Record(Step{Name: StepInventoryReserved, Outcome: OutcomeFailed, Data: StepData{ProductID: "p0"}})
	l.Record(Step{Name: StepInventoryReserved, Outcome: OutcomeCompleted, Data: StepData{ProductID: "p1", ReservationID: "r1"}})

	completed := l.Completed()
	require.Len(t, completed, 2)
	assert.Equal(t, StepOrderCreated, completed[0].Name)
	assert.Equal(t, "p1", completed[1].Data.ProductID)
	assert.False(t, completed[0].Timestamp.IsZero())

	assert.True(t, l.HasReservation("r1"))
	assert.False(t, l.HasReservation("r2"))
	assert.Equal(t, map[string]bool{"p1": true}, l.ReservedProducts())

	completed[0].Name = "mutated"
	assert.Equal(t, StepOrderCreated, l.Completed()[0].Name)

	l.Clear()
	assert.Zero(t, l.Len())
}

func TestRegistryRebuildsFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	reg := NewRegistry(store)

	sc := reg.Start("o-1")
	sc.Lock()
	require.NoError(t, reg.Record(ctx, sc, Step{Name: StepOrderCreated, Outcome: OutcomeCompleted, Compensatable: true}))
	sc.Unlock()

	fresh := NewRegistry(store)
	rebuilt, err := fresh.Acquire(ctx, "o-1")
	require.NoError(t, err)
	assert.NotSame(t, sc, rebuilt)
	assert.Equal(t, 1, rebuilt.Ledger().Len())

	again, err := fresh.Acquire(ctx, "o-1")
	require.NoError(t, err)
	assert.Same(t, rebuilt, again)
}

func TestRegistryReleaseKeepsStartedContext(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)
	sc := reg.Start("o-1")

	held, err := reg.Acquire(ctx, "o-1")
	require.NoError(t, err)
	assert.Same(t, sc, held)
	reg.Release(held)
	assert.Equal(t, 1, reg.Active())

	again, err := reg.Acquire(ctx, "o-1")
	require.NoError(t, err)
	assert.Same(t, sc, again)
	reg.Release(again)

	// a context rebuilt for an order with no saga in flight goes once released
	other, err := reg.Acquire(ctx, "o-2")
	require.NoError(t, err)
	second, err := reg.Acquire(ctx, "o-2")
	require.NoError(t, err)
	assert.Same(t, other, second)
	reg.Release(other)
	assert.Equal(t, 2, reg.Active())
	reg.Release(second)
	assert.Equal(t, 1, reg.Active())

	_, err = reg.Finish(ctx, sc, domain.StatusConfirmed)
	require.NoError(t, err)
	assert.Zero(t, reg.Active())
}

func TestRegistryFinishClosesDoneOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	reg := NewRegistry(store)
	sc := reg.Start("o-1")
	require.NoError(t, reg.Record(ctx, sc, Step{Name: StepOrderCreated, Outcome: OutcomeCompleted}))

	first, err := reg.Finish(ctx, sc, domain.StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, first)

	select {
	case <-sc.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
	assert.Equal(t, domain.StatusConfirmed, sc.Outcome())
	assert.Zero(t, reg.Active())

	steps, err := store.Load(ctx, "o-1")
	require.NoError(t, err)
	assert.Empty(t, steps)

	first, err = reg.Finish(ctx, sc, domain.StatusCancelled)
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, domain.StatusConfirmed, sc.Outcome())
}

func TestLocalLockerIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	unlock, ok, err := l.TryLock(ctx, "sweep")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "sweep")
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	_, ok, _ = l.TryLock(ctx, "sweep")
	assert.True(t, ok)
}
