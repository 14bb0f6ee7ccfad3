// Package api is the browser-facing HTTP surface: order listing, live SSE
// stream, health, and the user-initiated gateway operations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/orderdeck/orderdeck/gateway"
	"github.com/orderdeck/orderdeck/order"
	"github.com/orderdeck/orderdeck/reconcile"
	"github.com/orderdeck/orderdeck/store"
)

// Orders is the read side of the local order collection.
type Orders interface {
	List() []order.Order
	Get(id string) (order.Order, bool)
	Meta() store.Meta
}

// StreamSource hands out live event subscriptions for the SSE endpoint.
type StreamSource interface {
	Subscribe(ctx context.Context) (<-chan store.Event, error)
}

// Gateway covers the user-initiated upstream operations the UI proxies
// through this daemon.
type Gateway interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*order.Order, error)
	CancelOrder(ctx context.Context, id, reason string) (*order.Order, error)
	CancelAll(ctx context.Context, reason string) (map[string]any, error)
	TriggerSync(ctx context.Context) (*gateway.SyncJob, error)
}

// StatusSource reports reconciliation lifecycle state.
type StatusSource interface {
	Status() reconcile.Status
}

// Handler serves the /api routes.
type Handler struct {
	orders     Orders
	stream     StreamSource
	gw         Gateway
	status     StatusSource
	heartbeats *reconcile.HeartbeatRegistry
	logger     *slog.Logger
	now        func() time.Time
}

type HandlerOption func(*Handler)

// WithGateway enables the order placement, cancel, and sync routes.
func WithGateway(gw Gateway) HandlerOption {
	return func(h *Handler) {
		h.gw = gw
	}
}

// WithStatusSource attaches the reconciliation client for /api/status.
func WithStatusSource(src StatusSource) HandlerOption {
	return func(h *Handler) {
		h.status = src
	}
}

// WithHeartbeats attaches channel liveness for /api/status.
func WithHeartbeats(reg *reconcile.HeartbeatRegistry) HandlerOption {
	return func(h *Handler) {
		h.heartbeats = reg
	}
}

// WithLogger overrides the diagnostics logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler wires the HTTP surface together.
func NewHandler(orders Orders, stream StreamSource, opts ...HandlerOption) *Handler {
	h := &Handler{
		orders: orders,
		stream: stream,
		logger: slog.Default().WithGroup("api"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the mux serving every /api endpoint.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("GET /api/status", h.getStatus)
	mux.HandleFunc("GET /api/stream", h.streamEvents)
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("POST /api/orders/cancel_all", h.cancelAll)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.cancelOrder)
	mux.HandleFunc("POST /api/orders/sync", h.triggerSync)
	return mux
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.orders.List()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"meta":   h.orders.Meta(),
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, ok := h.orders.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("order %q not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"time":   h.now().UTC().Format(time.RFC3339),
		"orders": h.orders.Meta(),
	}
	if h.status != nil {
		resp["reconciliation"] = h.status.Status()
	}
	if h.heartbeats != nil {
		beats := make(map[string]string)
		for channel, ts := range h.heartbeats.Snapshot() {
			beats[channel] = ts.UTC().Format(time.RFC3339)
		}
		resp["heartbeats"] = beats
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := h.stream.Subscribe(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The initial comment completes the handshake so the browser's
	// EventSource fires onopen immediately.
	if _, err := w.Write([]byte(": connected\n\n")); err != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				h.logger.Warn("could not encode stream event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		h.writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	var req gateway.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Symbol == "" || req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "symbol and a positive quantity are required")
		return
	}

	created, err := h.gw.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"order": created})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		h.writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	cancelled, err := h.gw.CancelOrder(r.Context(), r.PathValue("id"), body.Reason)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"order": cancelled})
}

func (h *Handler) cancelAll(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		h.writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	result, err := h.gw.CancelAll(r.Context(), body.Reason)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		h.writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	job, err := h.gw.TriggerSync(r.Context())
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, job)
}

// writeGatewayError keeps the upstream HTTP status visible to the browser so
// the UI can react to 401 versus everything else.
func (h *Handler) writeGatewayError(w http.ResponseWriter, err error) {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		h.writeError(w, apiErr.Status, apiErr.Error())
		return
	}
	h.writeError(w, http.StatusBadGateway, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("could not encode response", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
