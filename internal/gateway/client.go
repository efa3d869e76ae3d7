package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	errors "github.com/credmart/credmart/internal"
	"github.com/credmart/credmart/internal/signature"
)

// Outcome is the closed normalization of the gateway's heterogeneous status
// vocabularies.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeWaiting Outcome = "waiting"
	OutcomeFailed  Outcome = "failed"
)

// tradeStatusOutcomes is the explicit mapping table from upstream trade
// statuses to outcomes. Keep it enumerated; do not infer.
var tradeStatusOutcomes = map[string]Outcome{
	"TRADE_SUCCESS":  OutcomeSuccess,
	"TRADE_FINISHED": OutcomeSuccess,
	"SUCCESS":        OutcomeSuccess,
	"WAIT_BUYER_PAY": OutcomeWaiting,
	"USERPAYING":     OutcomeWaiting,
	"NOTPAY":         OutcomeWaiting,
}

// NormalizeTradeStatus maps an upstream trade status onto the closed outcome
// type. Unknown statuses are failures, not waits, so a vocabulary change
// upstream surfaces instead of spinning forever.
func NormalizeTradeStatus(status string) Outcome {
	if outcome, ok := tradeStatusOutcomes[strings.ToUpper(status)]; ok {
		return outcome
	}
	return OutcomeFailed
}

// Result is the normalized response of a barcode payment or trade query.
type Result struct {
	Outcome Outcome
	Reason  string
	TradeNo string
	BuyerID string
	Amount  decimal.Decimal
}

// QRPayment is the renderable artifact of a QR payment creation.
type QRPayment struct {
	QRCode  string
	TradeNo string
	OrderNo string
}

var authCodePattern = regexp.MustCompile(`^\d{16,28}$`)

type Config struct {
	APIURL     string
	MerchantID string
	MD5Key     string
	NotifyURL  string
	Timeout    time.Duration
}

// Client translates internal payment requests into the gateway's form-encoded
// wire format and normalizes its response envelopes.
type Client struct {
	http       *resty.Client
	apiURL     string
	merchantID string
	md5Key     string
	notifyURL  string
	signer     signature.Signer
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		http:       resty.New().SetTimeout(timeout),
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		merchantID: cfg.MerchantID,
		md5Key:     cfg.MD5Key,
		notifyURL:  cfg.NotifyURL,
		signer:     signature.NewMD5Signer(cfg.MD5Key),
		logger:     logger,
	}
}

type qrResponse struct {
	Code    json.Number `json:"code"`
	Msg     string      `json:"msg"`
	QRCode  string      `json:"qrcode"`
	PayURL  string      `json:"payurl"`
	TradeNo string      `json:"trade_no"`
}

// CreateQRPayment requests a scannable payment artifact for the order. A
// business-level rejection comes back as a gateway-rejected error with the
// upstream reason; only transport failures are gateway-unavailable.
func (c *Client) CreateQRPayment(ctx context.Context, orderNo string, amount decimal.Decimal, subject, paymentType, clientIP string) (*QRPayment, error) {
	wireType := "alipay"
	if paymentType == "wechat" || paymentType == "wxpay" {
		wireType = "wxpay"
	}
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	params := signature.Params{
		"pid":          c.merchantID,
		"type":         wireType,
		"notify_url":   c.notifyURL,
		"return_url":   c.notifyURL,
		"out_trade_no": orderNo,
		"name":         subject,
		"money":        amount.StringFixed(2),
		"clientip":     clientIP,
	}
	sign, err := c.signer.Sign(params)
	if err != nil {
		return nil, errors.NewInternalError("failed to sign payment request", err)
	}

	form := map[string]string(params)
	form["sign"] = sign
	form["sign_type"] = "MD5"

	c.logger.Info("gateway: creating qr payment",
		"order_no", orderNo,
		"amount", amount.StringFixed(2),
		"type", wireType)

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(c.apiURL + "/mapi.php")
	if err != nil {
		c.logger.Error("gateway: qr payment request failed", "error", err, "order_no", orderNo)
		return nil, errors.NewExternalError("payment gateway unreachable", errors.ErrCodeGatewayUnavailable, err)
	}
	if resp.IsError() {
		return nil, errors.NewExternalError(
			fmt.Sprintf("payment gateway returned status %d", resp.StatusCode()),
			errors.ErrCodeGatewayUnavailable, nil)
	}

	var out qrResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, errors.NewExternalError("payment gateway response is not valid JSON", errors.ErrCodeGatewayUnavailable, err)
	}

	if out.Code.String() != "1" {
		reason := out.Msg
		if reason == "" {
			reason = "qr payment rejected"
		}
		c.logger.Warn("gateway: qr payment rejected", "order_no", orderNo, "reason", reason)
		return nil, errors.NewExternalError(reason, errors.ErrCodeGatewayRejected, nil)
	}

	qrCode := out.QRCode
	if qrCode == "" {
		qrCode = out.PayURL
	}

	return &QRPayment{
		QRCode:  qrCode,
		TradeNo: out.TradeNo,
		OrderNo: orderNo,
	}, nil
}

type barcodeResponse struct {
	ReturnCode    string `json:"return_code"`
	ReturnMsg     string `json:"return_msg"`
	ResultCode    string `json:"result_code"`
	ErrCode       string `json:"err_code"`
	ErrCodeDes    string `json:"err_code_des"`
	TransactionID string `json:"transaction_id"`
	OutTradeNo    string `json:"out_trade_no"`
	TotalFee      string `json:"total_fee"`
	OpenID        string `json:"openid"`
}

// CreateBarcodePayment runs the in-person flow against the buyer's presented
// auth code. The auth-code format gate fires before any network call. A
// "buyer is entering their password" response is a Waiting result, not a
// failure.
func (c *Client) CreateBarcodePayment(ctx context.Context, orderNo, authCode string, amount decimal.Decimal, subject string) (*Result, error) {
	if !authCodePattern.MatchString(authCode) {
		return nil, errors.ErrInvalidAuthCode
	}

	params := signature.Params{
		"mch_id":       c.merchantID,
		"out_trade_no": orderNo,
		"auth_code":    authCode,
		"total_fee":    amount.Mul(decimal.NewFromInt(100)).StringFixed(0),
		"body":         subject,
		"notify_url":   c.notifyURL,
		"nonce_str":    nonce(),
	}
	sign, err := c.signer.Sign(params)
	if err != nil {
		return nil, errors.NewInternalError("failed to sign payment request", err)
	}

	form := map[string]string(params)
	form["sign"] = sign

	c.logger.Info("gateway: creating barcode payment",
		"order_no", orderNo,
		"amount", amount.StringFixed(2))

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(c.apiURL + "/pay/micropay")
	if err != nil {
		c.logger.Error("gateway: barcode payment request failed", "error", err, "order_no", orderNo)
		return nil, errors.NewExternalError("payment gateway unreachable", errors.ErrCodeGatewayUnavailable, err)
	}
	if resp.IsError() {
		return nil, errors.NewExternalError(
			fmt.Sprintf("payment gateway returned status %d", resp.StatusCode()),
			errors.ErrCodeGatewayUnavailable, nil)
	}

	var out barcodeResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, errors.NewExternalError("payment gateway response is not valid JSON", errors.ErrCodeGatewayUnavailable, err)
	}

	if out.ReturnCode == "SUCCESS" && out.ResultCode == "SUCCESS" {
		paid := decimal.Zero
		if out.TotalFee != "" {
			if fee, ferr := decimal.NewFromString(out.TotalFee); ferr == nil {
				paid = fee.Div(decimal.NewFromInt(100))
			}
		}
		return &Result{
			Outcome: OutcomeSuccess,
			TradeNo: out.TransactionID,
			BuyerID: out.OpenID,
			Amount:  paid,
		}, nil
	}

	if out.ErrCode == "USERPAYING" {
		return &Result{Outcome: OutcomeWaiting, Reason: "waiting for buyer password"}, nil
	}

	reason := out.ErrCodeDes
	if reason == "" {
		reason = out.ReturnMsg
	}
	if reason == "" {
		reason = "barcode payment failed"
	}
	return &Result{Outcome: OutcomeFailed, Reason: reason}, nil
}

type queryResponse struct {
	Code        json.Number `json:"code"`
	Msg         string      `json:"msg"`
	Status      json.Number `json:"status"`
	TradeStatus string      `json:"trade_status"`
	TradeNo     string      `json:"trade_no"`
	OutTradeNo  string      `json:"out_trade_no"`
	Money       string      `json:"money"`
	Buyer       string      `json:"buyer"`
}

// QueryTrade asks the gateway for the order's trade status. The call is
// idempotent, so a single retry on transport failure is safe.
func (c *Client) QueryTrade(ctx context.Context, orderNo string) (*Result, error) {
	var resp *resty.Response
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err = c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"act":          "order",
				"pid":          c.merchantID,
				"key":          c.md5Key,
				"out_trade_no": orderNo,
			}).
			Get(c.apiURL + "/api.php")
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		c.logger.Error("gateway: trade query failed", "error", err, "order_no", orderNo)
		return nil, errors.NewExternalError("payment gateway unreachable", errors.ErrCodeGatewayUnavailable, err)
	}
	if resp.IsError() {
		return nil, errors.NewExternalError(
			fmt.Sprintf("payment gateway returned status %d", resp.StatusCode()),
			errors.ErrCodeGatewayUnavailable, nil)
	}

	var out queryResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, errors.NewExternalError("payment gateway response is not valid JSON", errors.ErrCodeGatewayUnavailable, err)
	}

	if out.Code.String() != "1" {
		reason := out.Msg
		if reason == "" {
			reason = "trade query rejected"
		}
		return &Result{Outcome: OutcomeFailed, Reason: reason}, nil
	}

	tradeStatus := out.TradeStatus
	if tradeStatus == "" {
		if out.Status.String() == "1" {
			tradeStatus = "TRADE_SUCCESS"
		} else {
			tradeStatus = "WAIT_BUYER_PAY"
		}
	}

	paid := decimal.Zero
	if out.Money != "" {
		if m, merr := decimal.NewFromString(out.Money); merr == nil {
			paid = m
		}
	}

	return &Result{
		Outcome: NormalizeTradeStatus(tradeStatus),
		TradeNo: out.TradeNo,
		BuyerID: out.Buyer,
		Amount:  paid,
	}, nil
}

func nonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
