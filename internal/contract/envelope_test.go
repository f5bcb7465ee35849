package contract

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersaga/internal/pkg/mq"
)

func TestEnvelopeShape(t *testing.T) {
	evt := InventoryReserved{
		Metadata:      NewMetadata(),
		OrderID:       "ord-1",
		ProductID:     "p-1",
		Quantity:      3,
		ReservationID: "RES-ord-1-p-1",
	}
	body, err := Encode(evt)
	require.NoError(t, err)

	var wire struct {
		EventType string         `json:"eventType"`
		Payload   map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, InventoryReservedType, wire.EventType)
	payload := wire.Payload
	assert.Equal(t, "ord-1", payload["orderId"])
	assert.Equal(t, "RES-ord-1-p-1", payload["reservationId"])
	assert.Equal(t, evt.EventID, payload["eventId"])
	assert.Contains(t, payload, "occurredOn")
}

func TestDecodeRoundTripsPayload(t *testing.T) {
	body, err := Encode(InventoryReservationFailed{Metadata: NewMetadata(), OrderID: "o", ProductID: "p", Quantity: 50, Reason: "insufficient stock"})
	require.NoError(t, err)

	env, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, InventoryReservationFailedType, env.EventType)

	var got InventoryReservationFailed
	require.NoError(t, DecodePayload(env.Payload, &got))
	assert.Equal(t, 50, got.Quantity)
	assert.Equal(t, "insufficient stock", got.Reason)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestPublisherRoutesByEvent(t *testing.T) {
	bus := mq.NewMemoryBus()
	defer bus.Close()
	pub := NewPublisher(bus)

	evt := OrderCompensationRequested{
		Metadata:         NewMetadata(),
		OrderID:          "ord-9",
		AffectedServices: []string{AffectedInventory},
	}
	require.NoError(t, pub.Publish(context.Background(), evt))

	published := bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, OrdersExchange, published[0].Exchange)
	assert.Equal(t, OrderCompensationRequestedType, published[0].RoutingKey)
	assert.Equal(t, "ord-9", published[0].Key)
	assert.Equal(t, evt.EventID, published[0].ID)
	assert.True(t, evt.Affects(AffectedInventory))
}
