package order

import (
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/credmart/credmart/internal"
	"github.com/credmart/credmart/internal/core/common/validation"
	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
)

// CreateOrderRequest names the product by catalog ref; price, name and
// currency are resolved server side.
type CreateOrderRequest struct {
	ProductRef    string `json:"product_ref"`
	CustomerEmail string `json:"customer_email"`
	PaymentMethod string `json:"payment_method"`
	UserID        *int64 `json:"-"`
}

func (r *CreateOrderRequest) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("product_ref", r.ProductRef).Required().MaxLength(100)
	v.Field("customer_email", r.CustomerEmail).Required().Email()
	v.Field("payment_method", r.PaymentMethod).Required().OneOf([]string{
		ordermodel.PaymentMethodGatewayQR,
		ordermodel.PaymentMethodGatewayBarcode,
	})
	return v.Validate()
}

type QRPaymentRequest struct {
	OrderNo     string `json:"order_no"`
	PaymentType string `json:"payment_type"`
	ClientIP    string `json:"-"`
}

func (r *QRPaymentRequest) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("order_no", r.OrderNo).Required().MaxLength(64)
	v.Field("payment_type", r.PaymentType).OneOf([]string{"alipay", "wechat", "wxpay"})
	return v.Validate()
}

type BarcodePaymentRequest struct {
	OrderNo  string `json:"order_no"`
	AuthCode string `json:"auth_code"`
}

func (r *BarcodePaymentRequest) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("order_no", r.OrderNo).Required().MaxLength(64)
	v.Field("auth_code", r.AuthCode).Required()
	return v.Validate()
}

// OrderResponse is the outward shape of an order. Credentials are included
// only after settlement; the zero value of the credential fields is omitted.
type OrderResponse struct {
	OrderNo       string          `json:"order_no"`
	ProductRef    string          `json:"product_ref"`
	ProductName   string          `json:"product_name"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customer_email"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	TradeNo       string          `json:"trade_no,omitempty"`

	CredentialEmail    string `json:"credential_email,omitempty"`
	CredentialPassword string `json:"credential_password,omitempty"`

	PaidAt    *time.Time `json:"paid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func ToOrderResponse(o *ordermodel.Order) *OrderResponse {
	resp := &OrderResponse{
		OrderNo:       o.OrderNo,
		ProductRef:    o.ProductRef,
		ProductName:   o.ProductName,
		Amount:        o.Amount,
		Currency:      o.Currency,
		CustomerEmail: o.CustomerEmail,
		PaymentMethod: o.PaymentMethod,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TradeNo:       o.TradeNo,
		PaidAt:        o.PaidAt,
		CreatedAt:     o.CreatedAt,
	}
	if o.Settled() {
		resp.CredentialEmail = o.CredentialEmail
		resp.CredentialPassword = o.CredentialPassword
	}
	return resp
}

func ToOrderResponses(orders []*ordermodel.Order) []*OrderResponse {
	responses := make([]*OrderResponse, 0, len(orders))
	for _, o := range orders {
		responses = append(responses, ToOrderResponse(o))
	}
	return responses
}
