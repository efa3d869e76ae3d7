package order

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
	productmodel "github.com/credmart/credmart/internal/core/datamodel/product"
	"github.com/credmart/credmart/internal/gateway"
)

// ErrDuplicateOrderNo is returned by stores when a generated order number
// collides; the service retries with a fresh number.
var ErrDuplicateOrderNo = stderrors.New("duplicate order number")

// Settlement carries everything the store needs for the atomic
// pending-to-paid transition.
type Settlement struct {
	TradeNo string
	PaidAt  time.Time
	Details map[string]interface{}
}

// RepositoryAPI is the durable order store. Settle is the single mechanism
// preventing double-settlement: it must be an atomic conditional update that
// succeeds only while the order is not yet paid, and reports a no-op
// otherwise.
type RepositoryAPI interface {
	Create(o *ordermodel.Order) error
	GetByOrderNo(orderNo string) (*ordermodel.Order, error)
	GetByUserID(userID int64) ([]*ordermodel.Order, error)
	List(offset, limit int) ([]*ordermodel.Order, error)
	UpdateStatus(orderNo, status string) error

	// Settle returns (true, nil) when this caller won the transition and
	// (false, nil) when the order was already paid.
	Settle(orderNo string, s Settlement) (bool, error)

	// ListStalePending returns pending orders created before the cutoff, for
	// the reconcile sweep.
	ListStalePending(createdBefore time.Time, limit int) ([]*ordermodel.Order, error)

	// Notification bookkeeping. ClaimNotification atomically flips
	// notified=false to true on a paid order; ReleaseNotification undoes a
	// claim after a failed delivery and schedules the retry.
	ClaimNotification(orderNo string) (bool, error)
	ReleaseNotification(orderNo string, reason string, nextAttempt time.Time) error
	ListNotifyDue(now time.Time, maxAttempts, limit int) ([]*ordermodel.Order, error)
}

// CatalogAPI resolves the product being bought. The catalog price is
// authoritative; order creation never trusts a client-supplied amount.
// Implemented by product.Service.
type CatalogAPI interface {
	GetByRef(ref string) (*productmodel.VirtualProduct, error)
}

// GatewayAPI is the outbound payment gateway surface used by the state
// machine. Implemented by gateway.Client.
type GatewayAPI interface {
	CreateQRPayment(ctx context.Context, orderNo string, amount decimal.Decimal, subject, paymentType, clientIP string) (*gateway.QRPayment, error)
	CreateBarcodePayment(ctx context.Context, orderNo, authCode string, amount decimal.Decimal, subject string) (*gateway.Result, error)
	QueryTrade(ctx context.Context, orderNo string) (*gateway.Result, error)
}

// Ack is the outcome of a webhook notification, mapped by the transport
// layer onto the gateway's plain-text acknowledgement tokens.
type Ack struct {
	OK      bool
	OrderNo string
}

// ServiceAPI is the order state machine surface consumed by handlers and
// workers.
type ServiceAPI interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*ordermodel.Order, error)
	GetOrder(ctx context.Context, orderNo string) (*ordermodel.Order, error)
	ListUserOrders(ctx context.Context, userID int64) ([]*ordermodel.Order, error)
	ListOrders(ctx context.Context, offset, limit int) ([]*ordermodel.Order, error)

	InitiateQRPayment(ctx context.Context, orderNo, paymentType, clientIP string) (*gateway.QRPayment, error)
	PayWithBarcode(ctx context.Context, orderNo, authCode string) (*gateway.Result, error)

	ApplyGatewayNotification(ctx context.Context, rawParams map[string]string) (*Ack, error)
	PollGatewayStatus(ctx context.Context, orderNo string) (*ordermodel.Order, error)
	AdminConfirm(ctx context.Context, orderNo string) (*ordermodel.Order, error)
	ConfirmPayment(ctx context.Context, orderNo string) (*ordermodel.Order, error)
	SimulateNotification(ctx context.Context, orderNo string) (*Ack, error)
	ExpireOrder(ctx context.Context, orderNo string) error
}

// MarshalDetails serializes settlement metadata for the payment_details
// column. A marshal failure yields a null column rather than a lost
// settlement.
func MarshalDetails(details map[string]interface{}) datatypes.JSON {
	if len(details) == 0 {
		return nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
