// Package payment exposes the payment initiation surface: QR artifacts for
// remote payers and barcode capture for in-person payers. Settlement itself
// lives with the order state machine.
package payment

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/credmart/credmart/internal"
	"github.com/credmart/credmart/internal/gateway"
	"github.com/credmart/credmart/internal/order"
	"github.com/credmart/credmart/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	OrderService order.ServiceAPI
	Logger       *slog.Logger
}

func NewHandler(orderService order.ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:  *transport.NewBaseHandler(logger),
		OrderService: orderService,
		Logger:       logger,
	}
}

// CreateQRPayment handles POST /api/v1/payments/qrcode
func (h *Handler) CreateQRPayment(w http.ResponseWriter, r *http.Request) {
	var req order.QRPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	req.ClientIP = clientIP(r)

	qr, err := h.OrderService.InitiateQRPayment(r.Context(), req.OrderNo, req.PaymentType, req.ClientIP)
	if err != nil {
		h.Logger.Error("CreateQRPayment: service error", "error", err, "order_no", req.OrderNo)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"order_no": qr.OrderNo,
		"qrcode":   qr.QRCode,
		"trade_no": qr.TradeNo,
	})
}

// CreateBarcodePayment handles POST /api/v1/payments/barcode
func (h *Handler) CreateBarcodePayment(w http.ResponseWriter, r *http.Request) {
	var req order.BarcodePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	result, err := h.OrderService.PayWithBarcode(r.Context(), req.OrderNo, req.AuthCode)
	if err != nil {
		h.Logger.Error("CreateBarcodePayment: service error", "error", err, "order_no", req.OrderNo)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, barcodeResponse(req.OrderNo, result))
}

// GetBarcodeStatus handles GET /api/v1/payments/barcode/{orderNo}. The
// terminal polls it while the payer confirms on their device.
func (h *Handler) GetBarcodeStatus(w http.ResponseWriter, r *http.Request) {
	orderNo := chi.URLParam(r, "orderNo")

	o, err := h.OrderService.PollGatewayStatus(r.Context(), orderNo)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"order_no":       o.OrderNo,
		"payment_status": o.PaymentStatus,
		"paid":           o.Settled(),
	})
}

func barcodeResponse(orderNo string, result *gateway.Result) map[string]interface{} {
	resp := map[string]interface{}{
		"order_no": orderNo,
		"outcome":  string(result.Outcome),
	}
	if result.TradeNo != "" {
		resp["trade_no"] = result.TradeNo
	}
	if result.Reason != "" {
		resp["reason"] = result.Reason
	}
	return resp
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
