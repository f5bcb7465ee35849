package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/service/order/application"
	"ordersaga/internal/service/order/domain"
	"ordersaga/internal/service/order/domain/port"
)

// OrderHandler exposes the order use cases over HTTP.
type OrderHandler struct {
	service *application.OrderApplicationService
	hub     *StatusHub
}

// NewOrderHandler creates the handler. hub may be nil, in which case the
// websocket route is not registered.
func NewOrderHandler(service *application.OrderApplicationService, hub *StatusHub) *OrderHandler {
	return &OrderHandler{service: service, hub: hub}
}

func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.handleCreateOrder)
		r.Get("/", h.handleListOrders)
		r.Get("/{id}", h.handleGetOrder)
		r.Post("/{id}/cancel", h.handleCancelOrder)
		r.Post("/{id}/status", h.handleAdvanceOrder)
	})
	if h.hub != nil {
		r.Get("/ws/orders/{id}", h.handleWatchOrder)
	}
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.NewValidationError("", "invalid request body"))
		return
	}
	resp, err := h.service.CreateOrder(ctx, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// The saga continues asynchronously; PENDING is all that is known yet.
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ListCustomerOrders(r.Context(), r.URL.Query().Get("customerId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.CancelOrderRequest
	// An empty body cancels with the default reason.
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.NewValidationError("", "invalid request body"))
			return
		}
	}
	resp, err := h.service.CancelOrder(ctx, chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) handleAdvanceOrder(w http.ResponseWriter, r *http.Request) {
	var req application.AdvanceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.NewValidationError("", "invalid request body"))
		return
	}
	resp, err := h.service.AdvanceOrder(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWatchOrder upgrades to a websocket that first receives the current
// status and then every change of the order.
func (h *OrderHandler) handleWatchOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.hub.Serve(w, r, port.StatusChange{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status.String(),
		At:         order.UpdatedAt,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsTransition(err):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed.")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
