package interfaces_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/service/order/interfaces"
)

func TestProductEventsConsumerAcknowledgesAnnouncements(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := mq.NewMemoryBus().WithMaxDeliveries(1)
	defer bus.Close()
	require.NoError(t, interfaces.NewProductEventsConsumer(bus).Start(ctx))

	created := metrics.ProductEvents.WithLabelValues(contract.ProductCreatedType)
	before := counterValue(t, created)

	require.NoError(t, contract.NewPublisher(bus).Publish(ctx, contract.ProductCreated{
		Metadata:  contract.NewMetadata(),
		ProductID: "sku-9",
		Name:      "Desk",
		Price:     "120.00",
		Currency:  "USD",
		Stock:     4,
	}))
	require.NoError(t, bus.Publish(ctx, mq.Message{
		ID:         "garbled",
		Exchange:   contract.ProductsExchange,
		RoutingKey: contract.ProductCreatedType,
		Body:       []byte("not json"),
	}))

	require.Eventually(t, func() bool {
		return counterValue(t, created) == before+1
	}, 2*time.Second, 5*time.Millisecond)
	// neither message is dead-lettered, even with a single delivery allowed
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, bus.RoutingKeys(contract.DeadLetterExchange))
}
