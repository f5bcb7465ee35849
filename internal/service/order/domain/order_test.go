package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersaga/internal/pkg/money"
)

func item(t *testing.T, productID string, qty int, price, currency string) OrderItem {
	t.Helper()
	it, err := NewOrderItem(productID, "name-"+productID, qty, money.MustNew(price, currency))
	require.NoError(t, err)
	return it
}

func TestNewOrderComputesTotal(t *testing.T) {
	tests := []struct {
		name  string
		items []OrderItem
		want  money.Money
	}{
		{
			name:  "single line",
			items: []OrderItem{item(t, "p1", 3, "20.00", "USD")},
			want:  money.MustNew("60.00", "USD"),
		},
		{
			name: "several lines",
			items: []OrderItem{
				item(t, "p1", 2, "10.50", "EUR"),
				item(t, "p2", 1, "0.99", "EUR"),
				item(t, "p3", 4, "2.25", "EUR"),
			},
			want: money.MustNew("30.99", "EUR"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewOrder("cust-1", tt.items)
			require.NoError(t, err)
			assert.True(t, tt.want.Equals(o.Total()), "got %s", o.Total())
			assert.Equal(t, StatusPending, o.Status())
			assert.True(t, o.IsPending())
			assert.Equal(t, len(tt.items), o.ItemCount())
			assert.NotEmpty(t, o.ID)
			assert.False(t, o.CreatedAt.IsZero())
			assert.Equal(t, o.CreatedAt, o.UpdatedAt)
		})
	}
}

func TestNewOrderRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		customerID string
		items      []OrderItem
	}{
		{name: "no customer", customerID: "", items: []OrderItem{item(t, "p1", 1, "1.00", "USD")}},
		{name: "no items", customerID: "c", items: nil},
		{name: "mixed currencies", customerID: "c", items: []OrderItem{
			item(t, "p1", 1, "1.00", "USD"),
			item(t, "p2", 1, "1.00", "EUR"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(tt.customerID, tt.items)
			require.Error(t, err)
			assert.True(t, IsValidation(err), err.Error())
		})
	}
}

func TestMixedCurrencyUnwrapsToMismatch(t *testing.T) {
	_, err := NewOrder("c", []OrderItem{item(t, "p1", 1, "1.00", "USD"), item(t, "p2", 1, "1.00", "GBP")})
	require.Error(t, err)
	assert.ErrorIs(t, err, money.ErrCurrencyMismatch)
}

func TestNewOrderItemRejectsBadQuantity(t *testing.T) {
	for _, qty := range []int{0, -3} {
		_, err := NewOrderItem("p1", "Widget", qty, money.MustNew("1.00", "USD"))
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.ErrorIs(t, err, money.ErrInvalidQuantity)
	}
}

func TestRestoreOrderItemChecksSubtotal(t *testing.T) {
	price := money.MustNew("4.00", "USD")
	_, err := RestoreOrderItem("p1", "Widget", 3, price, money.MustNew("12.00", "USD"))
	require.NoError(t, err)

	_, err = RestoreOrderItem("p1", "Widget", 3, price, money.MustNew("11.00", "USD"))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestRestoreOrderChecksTotal(t *testing.T) {
	items := []OrderItem{item(t, "p1", 2, "5.00", "USD")}
	now := time.Now()

	o, err := RestoreOrder("o-1", "c", items, StatusConfirmed, money.MustNew("10.00", "USD"), now, now, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, o.Status())
	assert.Equal(t, 1, o.RedriveCount)

	_, err = RestoreOrder("o-1", "c", items, StatusConfirmed, money.MustNew("9.00", "USD"), now, now, 0)
	assert.True(t, IsValidation(err))

	_, err = RestoreOrder("o-1", "c", items, Status("LOST"), money.MustNew("10.00", "USD"), now, now, 0)
	assert.True(t, IsValidation(err))
}

func TestItemsReturnsCopy(t *testing.T) {
	o, err := NewOrder("c", []OrderItem{item(t, "p1", 1, "1.00", "USD")})
	require.NoError(t, err)
	items := o.Items()
	items[0] = item(t, "other", 9, "9.00", "USD")
	assert.True(t, o.HasItem("p1"))
	assert.False(t, o.HasItem("other"))
}

func TestStatusMutatorsStampUpdatedAt(t *testing.T) {
	o, err := NewOrder("c", []OrderItem{item(t, "p1", 1, "1.00", "USD")})
	require.NoError(t, err)
	o.UpdatedAt = o.UpdatedAt.Add(-time.Hour)
	before := o.UpdatedAt

	require.NoError(t, o.Confirm())
	require.NoError(t, o.StartProcessing())
	require.NoError(t, o.Ship())
	require.NoError(t, o.Deliver())
	assert.Equal(t, StatusDelivered, o.Status())
	assert.True(t, o.UpdatedAt.After(before))

	err = o.Cancel()
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusDelivered, te.From)
	assert.Equal(t, StatusCancelled, te.To)
	assert.Equal(t, StatusDelivered, o.Status())
}
