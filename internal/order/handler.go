package order

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/credmart/credmart/internal"
	"github.com/credmart/credmart/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: *transport.NewBaseHandler(logger),
		Service:     service,
		Logger:      logger,
	}
}

// CreateOrder handles POST /api/v1/orders. Guest checkout is permitted; when
// the caller is authenticated the order is attached to their account.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreateOrder: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if operator, ok := errors.OperatorFromContext(r.Context()); ok {
		userID := operator.UserID
		req.UserID = &userID
	}

	o, err := h.Service.CreateOrder(r.Context(), &req)
	if err != nil {
		h.Logger.Error("CreateOrder: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToOrderResponse(o))
}

// GetOrder handles GET /api/v1/orders/{orderNo}. Credentials appear in the
// response only after settlement.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderNo := chi.URLParam(r, "orderNo")

	o, err := h.Service.GetOrder(r.Context(), orderNo)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToOrderResponse(o))
}

// ListMyOrders handles GET /api/v1/orders/mine
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	operator, ok := errors.OperatorFromContext(r.Context())
	if !ok {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	orders, err := h.Service.ListUserOrders(r.Context(), operator.UserID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"orders": ToOrderResponses(orders),
	})
}

// CheckPaymentStatus handles GET /api/v1/orders/{orderNo}/payment-status. It
// polls the gateway on demand so the payment page can refresh state.
func (h *Handler) CheckPaymentStatus(w http.ResponseWriter, r *http.Request) {
	orderNo := chi.URLParam(r, "orderNo")

	o, err := h.Service.PollGatewayStatus(r.Context(), orderNo)
	if err != nil {
		h.Logger.Error("CheckPaymentStatus: service error", "error", err, "order_no", orderNo)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"order_no":       o.OrderNo,
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
		"paid":           o.Settled(),
	})
}

// ConfirmPayment handles POST /api/v1/orders/{orderNo}/confirm-payment, the
// customer's "I have paid" button.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	orderNo := chi.URLParam(r, "orderNo")

	o, err := h.Service.ConfirmPayment(r.Context(), orderNo)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToOrderResponse(o))
}

// ListOrders handles GET /api/v1/admin/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	orders, err := h.Service.ListOrders(r.Context(), offset, limit)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"orders": ToOrderResponses(orders),
		"offset": offset,
	})
}

// AdminConfirmPayment handles POST /api/v1/admin/orders/{orderNo}/confirm
func (h *Handler) AdminConfirmPayment(w http.ResponseWriter, r *http.Request) {
	orderNo := chi.URLParam(r, "orderNo")

	o, err := h.Service.AdminConfirm(r.Context(), orderNo)
	if err != nil {
		h.Logger.Error("AdminConfirmPayment: service error", "error", err, "order_no", orderNo)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToOrderResponse(o))
}

// SimulateNotification handles POST /api/v1/admin/orders/{orderNo}/simulate-notification
func (h *Handler) SimulateNotification(w http.ResponseWriter, r *http.Request) {
	orderNo := chi.URLParam(r, "orderNo")

	ack, err := h.Service.SimulateNotification(r.Context(), orderNo)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"order_no": ack.OrderNo,
		"applied":  ack.OK,
	})
}
