package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dejobratic/orderflow/internal/orders/app"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// Handler exposes HTTP endpoints for order operations.
type Handler struct {
	service *app.Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *app.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register binds the order routes. Customer routes require the X-User-ID header; the
// admin and payment provider routes are expected to be protected upstream.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RequireUser)
			r.Post("/orders", h.createOrder)
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{id}", h.getOrder)
			r.Post("/orders/{id}/cancel", h.cancelOrder)
			r.Get("/orders/{id}/payment-url", h.paymentURL)
		})

		r.Patch("/admin/orders/{id}/status", h.transitionStatus)
		r.Patch("/admin/orders/{id}/shipping", h.updateShipping)

		r.Get("/payments/vnpay/ipn", h.paymentIPN)
		r.Get("/payments/vnpay/return", h.paymentReturn)
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := UserID(ctx)

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header required")
		return
	}

	stored, reserved, err := h.service.ReserveIdempotencyKey(ctx, userID, idemKey)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !reserved {
		if stored == nil {
			writeError(w, http.StatusConflict, "a request with this Idempotency-Key is in progress")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.StatusCode)
		_, _ = w.Write(stored.Body)
		return
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		if err := h.service.ReleaseIdempotencyKey(context.WithoutCancel(ctx), userID, idemKey); err != nil {
			h.logger.ErrorContext(ctx, "failed to release idempotency key", "error", err)
		}
	}()

	var payload app.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	payload.UserID = userID
	payload.ClientIP = clientIP(r)

	result, err := h.service.CreateOrder(ctx, payload)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	// the order exists; releasing the key now would let a retry create another one
	completed = true

	response := map[string]any{"order": result.Order}
	if result.PaymentURL != "" {
		response["payment_url"] = result.PaymentURL
	}
	body, err := json.Marshal(response)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := h.service.CompleteIdempotencyKey(ctx, userID, idemKey, ports.StoredResponse{
		StatusCode: http.StatusCreated,
		Body:       body,
		OrderID:    result.Order.ID,
	}); err != nil {
		h.logger.ErrorContext(ctx, "failed to store idempotent response",
			"error", err,
			"order_id", result.Order.ID,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/v1/orders/"+result.Order.ID)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ports.ListFilter{}

	if statusParam := query.Get("status"); statusParam != "" {
		status, ok := domain.ParseOrderStatus(statusParam)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(statusParam))
			return
		}
		filter.Status = &status
	}

	var err error
	if filter.Page, err = intParam(query.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	if filter.PageSize, err = intParam(query.Get("page_size")); err != nil {
		writeError(w, http.StatusBadRequest, "page_size must be a positive integer")
		return
	}

	orders, err := h.service.ListOrders(r.Context(), UserID(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	normalized := filter.Normalized()
	writeJSON(w, http.StatusOK, map[string]any{
		"orders":    orders,
		"page":      normalized.Page,
		"page_size": normalized.PageSize,
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var payload cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}

	order, err := h.service.CancelOrder(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()), payload.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) paymentURL(w http.ResponseWriter, r *http.Request) {
	url, err := h.service.PaymentURL(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()), clientIP(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_url": url})
}

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *Handler) transitionStatus(w http.ResponseWriter, r *http.Request) {
	var payload transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	target, ok := domain.ParseOrderStatus(payload.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(payload.Status))
		return
	}

	order, err := h.service.TransitionStatus(r.Context(), chi.URLParam(r, "id"), target, payload.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) updateShipping(w http.ResponseWriter, r *http.Request) {
	var payload domain.ShippingUpdate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	order, err := h.service.UpdateShipping(r.Context(), chi.URLParam(r, "id"), payload)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// ipnResponse is the acknowledgement format the payment provider expects.
type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// paymentIPN always answers 200; the provider reads the outcome from RspCode.
func (h *Handler) paymentIPN(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.HandlePaymentCallback(r.Context(), r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusOK, ipnError(err))
		if !errors.Is(err, domain.ErrInvalidSignature) && !errors.Is(err, domain.ErrNotFound) &&
			!errors.Is(err, domain.ErrAmountMismatch) {
			h.logger.ErrorContext(r.Context(), "payment callback failed", "error", err)
		}
		return
	}

	if result.Outcome == domain.OutcomeDuplicate {
		writeJSON(w, http.StatusOK, ipnResponse{RspCode: "02", Message: "Order already confirmed"})
		return
	}
	writeJSON(w, http.StatusOK, ipnResponse{RspCode: "00", Message: "Confirm Success"})
}

func ipnError(err error) ipnResponse {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return ipnResponse{RspCode: "97", Message: "Invalid signature"}
	case errors.Is(err, domain.ErrNotFound):
		return ipnResponse{RspCode: "01", Message: "Order not found"}
	case errors.Is(err, domain.ErrAmountMismatch):
		return ipnResponse{RspCode: "04", Message: "Invalid amount"}
	default:
		return ipnResponse{RspCode: "99", Message: "Unknown error"}
	}
}

func (h *Handler) paymentReturn(w http.ResponseWriter, r *http.Request) {
	order, callback, err := h.service.PaymentReturn(r.Context(), r.URL.Query())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order": order,
		"payment": map[string]any{
			"success":        callback.Success,
			"response_code":  callback.ResponseCode,
			"transaction_id": callback.TransactionID,
		},
	})
}

// writeServiceError maps domain errors onto status codes and includes the structured
// detail of stock and transition conflicts.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr      *domain.InsufficientStockError
		transitionErr *domain.InvalidTransitionError
		mismatchErr   *domain.AmountMismatchError
	)

	switch {
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"details": map[string]any{
				"product_id":   stockErr.ProductID,
				"product_name": stockErr.ProductName,
				"color":        stockErr.Color,
				"requested":    stockErr.Requested,
				"available":    stockErr.Available,
			},
		})
	case errors.As(err, &transitionErr):
		details := map[string]any{
			"from": transitionErr.From,
			"to":   transitionErr.To,
		}
		if transitionErr.Reason != "" {
			details["reason"] = transitionErr.Reason
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   err.Error(),
			"details": details,
		})
	case errors.As(err, &mismatchErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
