package order

import (
	stderrors "errors"
	"log/slog"
	"net/http"

	errors "github.com/credmart/credmart/internal"
	"github.com/credmart/credmart/internal/transport"
)

// Gateway acknowledgement tokens. The gateway keys its retry behavior off the
// literal response body, so these are wire constants, not presentation.
const (
	ackSuccess = "success"
	ackFail    = "fail"
)

type WebhookHandler struct {
	*transport.BaseHandler
	orderService ServiceAPI
	logger       *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, orderService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:  baseHandler,
		orderService: orderService,
		logger:       logger,
	}
}

// HandleGatewayNotification serves the gateway's asynchronous notify
// callback. The gateway may deliver it as GET with query parameters or POST
// with form parameters; both are accepted. The response body is the plain
// text token the gateway expects: "success" stops retries, "fail" requests
// another delivery.
func (h *WebhookHandler) HandleGatewayNotification(w http.ResponseWriter, r *http.Request) {
	params, err := collectParams(r)
	if err != nil {
		h.logger.Error("gateway notification unreadable", "error", err)
		h.writeAck(w, false)
		return
	}

	h.logger.Info("received gateway notification",
		"out_trade_no", params["out_trade_no"],
		"trade_status", params["trade_status"],
		"sign_type", params["sign_type"])

	ack, err := h.orderService.ApplyGatewayNotification(r.Context(), params)
	if err != nil {
		// Benign races answer success so the gateway stops retrying;
		// everything else asks for redelivery.
		if stderrors.Is(err, errors.ErrAlreadySettled) {
			h.writeAck(w, true)
			return
		}
		h.logger.Warn("gateway notification rejected",
			"out_trade_no", params["out_trade_no"], "error", err)
		h.writeAck(w, false)
		return
	}

	h.writeAck(w, ack.OK)
}

func (h *WebhookHandler) writeAck(w http.ResponseWriter, ok bool) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if ok {
		_, _ = w.Write([]byte(ackSuccess))
		return
	}
	_, _ = w.Write([]byte(ackFail))
}

// collectParams flattens query and form parameters into the raw map the
// signature scheme operates on. First value wins for repeated keys.
func collectParams(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	params := make(map[string]string, len(r.Form))
	for key, values := range r.Form {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params, nil
}
