package interfaces_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/money"
	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/service/order/application"
	"ordersaga/internal/service/order/application/saga"
	"ordersaga/internal/service/order/domain"
	"ordersaga/internal/service/order/domain/port"
	"ordersaga/internal/service/order/infrastructure"
	"ordersaga/internal/service/order/interfaces"
)

type catalog map[string]*port.Product

func (c catalog) GetProduct(_ context.Context, id string) (*port.Product, error) {
	p, ok := c[id]
	if !ok {
		return nil, domain.NewNotFoundError("product", id)
	}
	return p, nil
}

type fixture struct {
	server *httptest.Server
	hub    *interfaces.StatusHub
	bus    *mq.MemoryBus
	orch   *saga.Orchestrator
}

func newFixture(t *testing.T, check saga.InventoryCheck) *fixture {
	t.Helper()
	bus := mq.NewMemoryBus()
	hub := interfaces.NewStatusHub()
	orders := infrastructure.NewMemoryOrderRepository()
	orch := saga.NewOrchestrator(saga.Dependencies{
		Orders: orders,
		Catalog: catalog{
			"sku-1": {ID: "sku-1", Name: "Desk", Price: money.MustNew("120.00", "USD"), Stock: 5, Active: true},
		},
		Publisher:    contract.NewPublisher(bus),
		Notifier:     hub,
		Check:        check,
		CheckTimeout: 2 * time.Second,
	})
	svc := application.NewOrderApplicationService(orders, orch, otel.Tracer("test"))

	router := chi.NewRouter()
	interfaces.NewOrderHandler(svc, hub).RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		_ = orch.Shutdown(context.Background())
		_ = bus.Close()
	})
	return &fixture{server: server, hub: hub, bus: bus, orch: orch}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (f *fixture) create(t *testing.T, qty int) application.OrderResponse {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/orders", application.CreateOrderRequest{
		CustomerID: "cust-http",
		Items:      []application.ItemRequest{{ProductID: "sku-1", Quantity: qty}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var out application.OrderResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func (f *fixture) waitStatus(t *testing.T, id string, want domain.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, body := f.do(t, http.MethodGet, "/api/orders/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var out application.OrderResponse
		return json.Unmarshal(body, &out) == nil && out.Status == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateOrderIsAccepted(t *testing.T) {
	f := newFixture(t, saga.NewStaticInventoryCheck(map[string]int{"sku-1": 5}))

	created := f.create(t, 2)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, "240.00", created.Total)

	f.waitStatus(t, created.ID, domain.StatusConfirmed)

	resp, body := f.do(t, http.MethodGet, "/api/orders?customerId=cust-http", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []application.OrderResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)
}

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t, nil)
	pending := f.create(t, 1)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed body", http.MethodPost, "/api/orders", "not-an-object", http.StatusBadRequest},
		{"no items", http.MethodPost, "/api/orders", application.CreateOrderRequest{CustomerID: "c"}, http.StatusBadRequest},
		{"unknown product", http.MethodPost, "/api/orders", application.CreateOrderRequest{
			CustomerID: "c", Items: []application.ItemRequest{{ProductID: "nope", Quantity: 1}},
		}, http.StatusNotFound},
		{"missing order", http.MethodGet, "/api/orders/missing", nil, http.StatusNotFound},
		{"list without customer", http.MethodGet, "/api/orders", nil, http.StatusBadRequest},
		{"illegal transition", http.MethodPost, "/api/orders/" + pending.ID + "/status", application.AdvanceOrderRequest{Status: "SHIPPED"}, http.StatusConflict},
		{"unknown status", http.MethodPost, "/api/orders/" + pending.ID + "/status", application.AdvanceOrderRequest{Status: "LOST"}, http.StatusBadRequest},
		{"cancel missing", http.MethodPost, "/api/orders/missing/cancel", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(body))
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	created := f.create(t, 1)

	resp, body := f.do(t, http.MethodPost, "/api/orders/"+created.ID+"/cancel", application.CancelOrderRequest{Reason: "changed mind"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out application.OrderResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, domain.StatusCancelled, out.Status)

	// cancelling again is a no-op
	resp, _ = f.do(t, http.MethodPost, "/api/orders/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/orders/"+created.ID+"/status", application.AdvanceOrderRequest{Status: "PROCESSING"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWatchOrderStreamsStatusChanges(t *testing.T) {
	f := newFixture(t, nil)
	created := f.create(t, 1)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/orders/" + created.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var change port.StatusChange
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, created.ID, change.OrderID)
	assert.Equal(t, "PENDING", change.Status)

	require.Eventually(t, func() bool { return f.hub.Watchers(created.ID) == 1 }, time.Second, 5*time.Millisecond)
	resp, _ := f.do(t, http.MethodPost, "/api/orders/"+created.ID+"/cancel", application.CancelOrderRequest{Reason: "test"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, "CANCELLED", change.Status)
	assert.Equal(t, "test", change.Reason)

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.Watchers(created.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchUnknownOrder(t *testing.T) {
	f := newFixture(t, nil)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/orders/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
