package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader overrides the request_id body field. Repeats are
	// only rejected when the service has an idempotency store.
	IdempotencyKeyHeader = "Idempotency-Key"
	maxBodyBytes         = 1 << 20
)

type HTTPHandler struct {
	orders OrderPlacer
	logger *zap.Logger
	tracer trace.Tracer
}

func NewHTTPHandler(orders OrderPlacer, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		orders: orders,
		logger: logger,
		tracer: otel.Tracer("order-http"),
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Post("/orders", h.PlaceOrder)
	r.Get("/orders/{id}", h.GetOrder)

	return r
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "PlaceOrder")
	defer span.End()

	var req PlaceOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		req.RequestID = key
	}
	span.SetAttributes(attribute.String("customer.id", req.CustomerID))

	order, err := h.orders.PlaceOrder(ctx, req.toDomain())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, _, message := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
