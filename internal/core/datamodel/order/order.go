package order

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Order lifecycle states. Status tracks fulfillment, PaymentStatus tracks
// settlement; the two are distinct and only the reconciliation logic writes
// PaymentStatus.
const (
	StatusCreated         = "created"
	StatusAwaitingPayment = "awaiting_payment"
	StatusPaid            = "paid"
	StatusFulfilling      = "fulfilling"
	StatusCompleted       = "completed"
	StatusCancelled       = "cancelled"
	StatusFailed          = "failed"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const (
	PaymentMethodGatewayQR      = "gateway-qr"
	PaymentMethodGatewayBarcode = "gateway-barcode"
)

type Order struct {
	ID          int64           `gorm:"primaryKey"`
	OrderNo     string          `gorm:"column:order_no;not null;uniqueIndex"`
	ProductRef  string          `gorm:"column:product_ref;not null"`
	ProductName string          `gorm:"column:product_name;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency    string          `gorm:"column:currency;default:CNY"`

	CustomerEmail string `gorm:"column:customer_email;not null"`
	UserID        *int64 `gorm:"column:user_id"` // nullable, guest checkout permitted

	PaymentMethod string `gorm:"column:payment_method;not null"`
	Status        string `gorm:"column:status;default:created"`
	PaymentStatus string `gorm:"column:payment_status;default:pending"`

	// Credentials are generated at creation and revealed only after
	// settlement.
	CredentialEmail    string `gorm:"column:credential_email"`
	CredentialPassword string `gorm:"column:credential_password"`

	// TradeNo is the gateway's identifier for the transaction, distinct from
	// OrderNo.
	TradeNo        string         `gorm:"column:trade_no"`
	PaymentDetails datatypes.JSON `gorm:"column:payment_details"`

	// Delivery bookkeeping for the notification dispatcher. Persisted so a
	// restart between settlement and delivery neither loses nor duplicates
	// the notification.
	Notified        bool       `gorm:"column:notified;default:false"`
	NotifyAttempts  int        `gorm:"column:notify_attempts;default:0"`
	NextNotifyAt    *time.Time `gorm:"column:next_notify_at"`
	LastNotifyError *string    `gorm:"column:last_notify_error"`

	PaidAt    *time.Time `gorm:"column:paid_at"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Settled reports whether the order has already won a settlement transition.
func (o *Order) Settled() bool {
	return o.PaymentStatus == PaymentStatusPaid
}
