package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersaga/internal/pkg/money"
	"ordersaga/internal/service/inventory/domain"
)

func TestCELPolicy(t *testing.T) {
	p, err := domain.RestoreProduct("p1", "Pen", "", money.MustNew("1.00", "USD"), 10, true, testTime, testTime)
	require.NoError(t, err)

	policy, err := NewCELPolicy("active && stock - quantity >= 5")
	require.NoError(t, err)

	ok, err := policy.CanFulfill(p, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = policy.CanFulfill(p, 6)
	require.NoError(t, err)
	assert.False(t, ok, "the safety stock is kept")

	p.Deactivate()
	ok, err = policy.CanFulfill(p, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCELPolicyRejectsBadRules(t *testing.T) {
	for _, expr := range []string{"stock >=", "stock - quantity", "price > 1"} {
		_, err := NewCELPolicy(expr)
		assert.Error(t, err, expr)
	}
}
