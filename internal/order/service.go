package order

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	errors "github.com/credmart/credmart/internal"
	"github.com/credmart/credmart/internal/core/datamodel/order"
	"github.com/credmart/credmart/internal/core/events"
	"github.com/credmart/credmart/internal/gateway"
	"github.com/credmart/credmart/internal/signature"
)

const (
	orderNoPrefix      = "VG"
	maxOrderNoAttempts = 5
)

// Settlement trigger names, recorded on the settled event and in the payment
// details so an audit can tell which path won.
const (
	TriggerWebhook = "webhook"
	TriggerPoll    = "poll"
	TriggerBarcode = "barcode"
	TriggerAdmin   = "admin"
)

type Service struct {
	repo      RepositoryAPI
	gateway   GatewayAPI
	catalog   CatalogAPI
	verifiers map[string]signature.Signer
	signer    signature.Signer
	eventBus  *events.EventBus
	logger    *slog.Logger
}

// NewService wires the order state machine. verifiers maps the notification
// sign_type values the deployment accepts (MD5 always, RSA2 when a public key
// is configured) to their verifier.
func NewService(repo RepositoryAPI, gw GatewayAPI, catalog CatalogAPI, verifiers map[string]signature.Signer, eventBus *events.EventBus, logger *slog.Logger) *Service {
	md5, ok := verifiers[signature.SignTypeMD5]
	if !ok {
		panic("order: MD5 verifier is mandatory")
	}
	return &Service{
		repo:      repo,
		gateway:   gw,
		catalog:   catalog,
		verifiers: verifiers,
		signer:    md5,
		eventBus:  eventBus,
		logger:    logger,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*order.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := s.catalog.GetByRef(req.ProductRef)
	if err != nil {
		return nil, err
	}
	currency := p.Currency
	if currency == "" {
		currency = "CNY"
	}

	o := &order.Order{
		ProductRef:    p.Ref,
		ProductName:   p.Name,
		Amount:        p.Price,
		Currency:      currency,
		CustomerEmail: req.CustomerEmail,
		UserID:        req.UserID,
		PaymentMethod: req.PaymentMethod,
		Status:        order.StatusCreated,
		PaymentStatus: order.PaymentStatusPending,
	}
	o.CredentialEmail, o.CredentialPassword = generateCredentials()

	for attempt := 0; attempt < maxOrderNoAttempts; attempt++ {
		o.OrderNo = nextOrderNo()
		err := s.repo.Create(o)
		if err == nil {
			s.logger.Info("order created",
				"order_no", o.OrderNo,
				"product_ref", o.ProductRef,
				"amount", o.Amount.String(),
				"payment_method", o.PaymentMethod)
			return o, nil
		}
		if !stderrors.Is(err, ErrDuplicateOrderNo) {
			return nil, errors.NewInternalError("failed to create order", err)
		}
	}
	return nil, errors.NewInternalError("failed to allocate a unique order number", nil)
}

func (s *Service) GetOrder(ctx context.Context, orderNo string) (*order.Order, error) {
	o, err := s.repo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, errors.ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) ListUserOrders(ctx context.Context, userID int64) ([]*order.Order, error) {
	orders, err := s.repo.GetByUserID(userID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list orders", err)
	}
	return orders, nil
}

func (s *Service) ListOrders(ctx context.Context, offset, limit int) ([]*order.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	orders, err := s.repo.List(offset, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list orders", err)
	}
	return orders, nil
}

// InitiateQRPayment asks the gateway for a scannable artifact and moves the
// order into awaiting_payment. Repeating it for an unpaid order is allowed;
// the customer may re-open the payment page.
func (s *Service) InitiateQRPayment(ctx context.Context, orderNo, paymentType, clientIP string) (*gateway.QRPayment, error) {
	o, err := s.repo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, errors.ErrOrderNotFound
	}
	if o.Settled() {
		return nil, errors.ErrAlreadySettled
	}

	qr, err := s.gateway.CreateQRPayment(ctx, o.OrderNo, o.Amount, o.ProductName, paymentType, clientIP)
	if err != nil {
		return nil, err
	}

	if o.Status == order.StatusCreated {
		if err := s.repo.UpdateStatus(o.OrderNo, order.StatusAwaitingPayment); err != nil {
			s.logger.Warn("failed to mark order awaiting payment", "order_no", o.OrderNo, "error", err)
		}
	}
	return qr, nil
}

// PayWithBarcode submits a customer-presented auth code. A success response
// from the gateway settles the order through the same guarded transition as
// every other trigger.
func (s *Service) PayWithBarcode(ctx context.Context, orderNo, authCode string) (*gateway.Result, error) {
	o, err := s.repo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, errors.ErrOrderNotFound
	}
	if o.Settled() {
		return &gateway.Result{Outcome: gateway.OutcomeSuccess, TradeNo: o.TradeNo}, nil
	}

	result, err := s.gateway.CreateBarcodePayment(ctx, o.OrderNo, authCode, o.Amount, o.ProductName)
	if err != nil {
		return nil, err
	}

	if result.Outcome == gateway.OutcomeSuccess {
		s.settle(ctx, o, Settlement{
			TradeNo: result.TradeNo,
			PaidAt:  time.Now(),
			Details: map[string]interface{}{
				"trigger":  TriggerBarcode,
				"buyer_id": result.BuyerID,
			},
		}, TriggerBarcode, "")
	}
	return result, nil
}

// ApplyGatewayNotification processes an asynchronous server-to-server
// notification. Order of checks matters: shape, then signature, then order
// lookup, then idempotency, then amount. A repeated notification for a paid
// order acks success without touching state.
func (s *Service) ApplyGatewayNotification(ctx context.Context, rawParams map[string]string) (*Ack, error) {
	orderNo := rawParams["out_trade_no"]
	tradeStatus := rawParams["trade_status"]
	sign := rawParams["sign"]
	if orderNo == "" || tradeStatus == "" || sign == "" || rawParams["money"] == "" {
		s.logger.Warn("malformed gateway notification", "params", rawParams)
		return nil, errors.ErrMalformedNotification
	}

	signType := rawParams["sign_type"]
	if signType == "" {
		signType = signature.SignTypeMD5
	}
	verifier, ok := s.verifiers[strings.ToUpper(signType)]
	if !ok {
		s.logger.Warn("notification carries unsupported sign_type",
			"order_no", orderNo, "sign_type", signType)
		return nil, errors.ErrInvalidSignature
	}
	if !verifier.Verify(signature.Params(rawParams), sign) {
		s.logger.Warn("notification signature rejected",
			"order_no", orderNo, "sign_type", signType, "params", rawParams)
		return nil, errors.ErrInvalidSignature
	}

	if gateway.NormalizeTradeStatus(tradeStatus) != gateway.OutcomeSuccess {
		// Informational notification about a non-final state. Acknowledge so
		// the gateway stops retrying; the poller covers the rest.
		s.logger.Info("ignoring non-success notification",
			"order_no", orderNo, "trade_status", tradeStatus)
		return &Ack{OK: true, OrderNo: orderNo}, nil
	}

	o, err := s.repo.GetByOrderNo(orderNo)
	if err != nil {
		s.logger.Warn("notification for unknown order", "order_no", orderNo)
		return nil, errors.ErrOrderNotFound
	}
	if o.Settled() {
		return &Ack{OK: true, OrderNo: orderNo}, nil
	}

	paid, convErr := decimal.NewFromString(rawParams["money"])
	if convErr != nil || !paid.Equal(o.Amount) {
		s.logger.Warn("notification amount mismatch",
			"order_no", orderNo,
			"expected", o.Amount.String(),
			"received", rawParams["money"],
			"params", rawParams)
		return nil, errors.ErrAmountMismatch
	}

	s.settle(ctx, o, Settlement{
		TradeNo: rawParams["trade_no"],
		PaidAt:  time.Now(),
		Details: map[string]interface{}{
			"trigger":      TriggerWebhook,
			"trade_status": tradeStatus,
			"buyer_id":     rawParams["buyer_id"],
			"sign_type":    strings.ToUpper(signType),
		},
	}, TriggerWebhook, "")

	return &Ack{OK: true, OrderNo: orderNo}, nil
}

// PollGatewayStatus actively queries the gateway for an order's trade state
// and settles through the shared guard when the gateway reports success.
func (s *Service) PollGatewayStatus(ctx context.Context, orderNo string) (*order.Order, error) {
	o, err := s.repo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, errors.ErrOrderNotFound
	}
	if o.Settled() {
		return o, nil
	}

	result, err := s.gateway.QueryTrade(ctx, o.OrderNo)
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case gateway.OutcomeSuccess:
		if !result.Amount.IsZero() && !result.Amount.Equal(o.Amount) {
			// The customer polling endpoints must never learn the gateway's
			// figures. Hold the order as pending and leave the discrepancy to
			// the operations team.
			s.logger.Warn("query amount mismatch, order held for manual review",
				"order_no", o.OrderNo,
				"expected", o.Amount.String(),
				"received", result.Amount.String(),
				"trade_no", result.TradeNo,
				"buyer_id", result.BuyerID)
			return o, nil
		}
		s.settle(ctx, o, Settlement{
			TradeNo: result.TradeNo,
			PaidAt:  time.Now(),
			Details: map[string]interface{}{
				"trigger":  TriggerPoll,
				"buyer_id": result.BuyerID,
			},
		}, TriggerPoll, "")
		return s.repo.GetByOrderNo(o.OrderNo)
	case gateway.OutcomeWaiting:
		return o, nil
	default:
		s.logger.Info("gateway reports trade not successful",
			"order_no", o.OrderNo, "reason", result.Reason)
		return o, nil
	}
}

// AdminConfirm is the trusted manual override. It bypasses signature and
// amount checks but still goes through the guarded transition, so a racing
// webhook cannot double-settle. The acting operator is taken from the request
// context and recorded.
func (s *Service) AdminConfirm(ctx context.Context, orderNo string) (*order.Order, error) {
	operator, ok := errors.OperatorFromContext(ctx)
	if !ok || !operator.IsAdmin {
		return nil, errors.ErrAdminRequired
	}

	o, err := s.repo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, errors.ErrOrderNotFound
	}
	if o.Settled() {
		// Idempotent: repeated confirmation succeeds without moving paidAt.
		return o, nil
	}

	won := s.settle(ctx, o, Settlement{
		TradeNo: o.TradeNo,
		PaidAt:  time.Now(),
		Details: map[string]interface{}{
			"trigger":  TriggerAdmin,
			"operator": operator.Email,
		},
	}, TriggerAdmin, operator.Email)

	s.logger.Info("admin confirmed payment",
		"order_no", o.OrderNo,
		"operator", operator.Email,
		"won_transition", won)

	return s.repo.GetByOrderNo(o.OrderNo)
}

// ConfirmPayment handles the customer's "I have paid" action: it polls the
// gateway once and, if the order is settled but the credential delivery has
// not happened yet, nudges the dispatcher by re-publishing the settled event.
// The dispatcher's claim guard keeps delivery exactly-once.
func (s *Service) ConfirmPayment(ctx context.Context, orderNo string) (*order.Order, error) {
	o, err := s.PollGatewayStatus(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if o.Settled() && !o.Notified {
		s.publishSettled(ctx, o, TriggerPoll, "")
	}
	return o, nil
}

// SimulateNotification builds a correctly signed success notification for the
// order and feeds it through the normal webhook path. Admin test harness.
func (s *Service) SimulateNotification(ctx context.Context, orderNo string) (*Ack, error) {
	operator, ok := errors.OperatorFromContext(ctx)
	if !ok || !operator.IsAdmin {
		return nil, errors.ErrAdminRequired
	}

	o, err := s.repo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, errors.ErrOrderNotFound
	}

	params := signature.Params{
		"out_trade_no": o.OrderNo,
		"trade_no":     "SIM" + strings.ReplaceAll(uuid.New().String(), "-", "")[:20],
		"trade_status": "TRADE_SUCCESS",
		"money":        o.Amount.StringFixed(2),
		"sign_type":    signature.SignTypeMD5,
	}
	sign, signErr := s.signer.Sign(params)
	if signErr != nil {
		return nil, errors.NewInternalError("failed to sign simulated notification", signErr)
	}
	params["sign"] = sign

	s.logger.Info("simulating gateway notification",
		"order_no", o.OrderNo, "operator", operator.Email)
	return s.ApplyGatewayNotification(ctx, map[string]string(params))
}

// ExpireOrder cancels an order whose payment window has lapsed. A concurrent
// settlement wins: a paid order is never cancelled, and a settlement landing
// after the cancellation still takes effect since money moved.
func (s *Service) ExpireOrder(ctx context.Context, orderNo string) error {
	o, err := s.repo.GetByOrderNo(orderNo)
	if err != nil {
		return errors.ErrOrderNotFound
	}
	if o.Settled() || o.Status == order.StatusCancelled {
		return nil
	}

	if err := s.repo.UpdateStatus(o.OrderNo, order.StatusCancelled); err != nil {
		return errors.NewInternalError("failed to cancel expired order", err)
	}

	s.logger.Info("order expired", "order_no", o.OrderNo, "created_at", o.CreatedAt)
	if s.eventBus != nil {
		if pubErr := s.eventBus.Publish(ctx, events.NewOrderCancelledEvent(
			o.OrderNo, "payment window expired")); pubErr != nil {
			s.logger.Error("failed to publish cancelled event", "order_no", o.OrderNo, "error", pubErr)
		}
	}
	return nil
}

// settle runs the guarded transition and, when this trigger wins, publishes
// the settled event. Losing the race is not an error.
func (s *Service) settle(ctx context.Context, o *order.Order, st Settlement, trigger, operator string) bool {
	won, err := s.repo.Settle(o.OrderNo, st)
	if err != nil {
		s.logger.Error("settlement transition failed",
			"order_no", o.OrderNo, "trigger", trigger, "error", err)
		return false
	}
	if !won {
		s.logger.Info("settlement already applied by another trigger",
			"order_no", o.OrderNo, "trigger", trigger)
		return false
	}

	s.logger.Info("order settled",
		"order_no", o.OrderNo,
		"trade_no", st.TradeNo,
		"amount", o.Amount.String(),
		"trigger", trigger)

	o.TradeNo = st.TradeNo
	s.publishSettled(ctx, o, trigger, operator)
	return true
}

func (s *Service) publishSettled(ctx context.Context, o *order.Order, trigger, operator string) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, events.NewOrderSettledEvent(
		o.OrderNo, o.TradeNo, o.Amount.String(), o.Currency, trigger, operator)); err != nil {
		s.logger.Error("failed to publish settled event", "order_no", o.OrderNo, "error", err)
	}
}

// nextOrderNo builds a human-scannable order number: prefix, millisecond
// timestamp, random suffix. Uniqueness is enforced by the store; callers
// retry on collision.
func nextOrderNo() string {
	return fmt.Sprintf("%s%d%04d", orderNoPrefix, time.Now().UnixMilli(), rand.Intn(10000))
}

// generateCredentials pre-provisions the subscription account that will be
// revealed after payment.
func generateCredentials() (email, password string) {
	token := strings.ReplaceAll(uuid.New().String(), "-", "")
	email = fmt.Sprintf("user_%s@credmart.example", token[:10])
	password = token[10:26]
	return email, password
}
