package order_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/credmart/credmart/internal"
	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
	"github.com/credmart/credmart/internal/gateway"
	orderpkg "github.com/credmart/credmart/internal/order"
	"github.com/credmart/credmart/internal/transport"
)

type mockOrderService struct {
	notifyAck    *orderpkg.Ack
	notifyErr    error
	notifyParams map[string]string
}

func (m *mockOrderService) CreateOrder(ctx context.Context, req *orderpkg.CreateOrderRequest) (*ordermodel.Order, error) {
	return nil, nil
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderNo string) (*ordermodel.Order, error) {
	return nil, nil
}

func (m *mockOrderService) ListUserOrders(ctx context.Context, userID int64) ([]*ordermodel.Order, error) {
	return nil, nil
}

func (m *mockOrderService) ListOrders(ctx context.Context, offset, limit int) ([]*ordermodel.Order, error) {
	return nil, nil
}

func (m *mockOrderService) InitiateQRPayment(ctx context.Context, orderNo, paymentType, clientIP string) (*gateway.QRPayment, error) {
	return nil, nil
}

func (m *mockOrderService) PayWithBarcode(ctx context.Context, orderNo, authCode string) (*gateway.Result, error) {
	return nil, nil
}

func (m *mockOrderService) ApplyGatewayNotification(ctx context.Context, rawParams map[string]string) (*orderpkg.Ack, error) {
	m.notifyParams = rawParams
	if m.notifyErr != nil {
		return nil, m.notifyErr
	}
	return m.notifyAck, nil
}

func (m *mockOrderService) PollGatewayStatus(ctx context.Context, orderNo string) (*ordermodel.Order, error) {
	return nil, nil
}

func (m *mockOrderService) AdminConfirm(ctx context.Context, orderNo string) (*ordermodel.Order, error) {
	return nil, nil
}

func (m *mockOrderService) ConfirmPayment(ctx context.Context, orderNo string) (*ordermodel.Order, error) {
	return nil, nil
}

func (m *mockOrderService) SimulateNotification(ctx context.Context, orderNo string) (*orderpkg.Ack, error) {
	return nil, nil
}

func (m *mockOrderService) ExpireOrder(ctx context.Context, orderNo string) error {
	return nil
}

var _ = ginkgo.Describe("WebhookHandler", func() {
	var (
		handler *orderpkg.WebhookHandler
		service *mockOrderService
		rec     *httptest.ResponseRecorder
		logger  *slog.Logger
	)

	ginkgo.BeforeEach(func() {
		service = &mockOrderService{notifyAck: &orderpkg.Ack{OK: true, OrderNo: "VG1"}}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		handler = orderpkg.NewWebhookHandler(transport.NewBaseHandler(logger), service, logger)
		rec = httptest.NewRecorder()
	})

	ginkgo.Context("POST delivery", func() {
		ginkgo.It("acks success for an accepted notification", func() {
			form := url.Values{}
			form.Set("out_trade_no", "VG1")
			form.Set("trade_status", "TRADE_SUCCESS")
			form.Set("sign", "abc")
			req := httptest.NewRequest("POST", "/api/v1/payments/notify", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			handler.HandleGatewayNotification(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.Equal("success"))
			gomega.Expect(rec.Header().Get("Content-Type")).To(gomega.ContainSubstring("text/plain"))
			gomega.Expect(service.notifyParams["out_trade_no"]).To(gomega.Equal("VG1"))
		})

		ginkgo.It("flattens repeated parameters keeping the first value", func() {
			body := "out_trade_no=VG1&out_trade_no=VG2&trade_status=TRADE_SUCCESS&sign=abc"
			req := httptest.NewRequest("POST", "/api/v1/payments/notify", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			handler.HandleGatewayNotification(rec, req)

			gomega.Expect(service.notifyParams["out_trade_no"]).To(gomega.Equal("VG1"))
		})
	})

	ginkgo.Context("GET delivery", func() {
		ginkgo.It("reads parameters from the query string", func() {
			req := httptest.NewRequest("GET", "/api/v1/payments/notify?out_trade_no=VG9&trade_status=TRADE_SUCCESS&sign=abc", nil)

			handler.HandleGatewayNotification(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.Equal("success"))
			gomega.Expect(service.notifyParams["out_trade_no"]).To(gomega.Equal("VG9"))
		})
	})

	ginkgo.Context("rejections", func() {
		ginkgo.It("acks fail when the notification is rejected", func() {
			service.notifyErr = internal.ErrInvalidSignature
			req := httptest.NewRequest("GET", "/api/v1/payments/notify?out_trade_no=VG1&trade_status=TRADE_SUCCESS&sign=bad", nil)

			handler.HandleGatewayNotification(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.Equal("fail"))
		})

		ginkgo.It("still acks success when the order was already settled", func() {
			service.notifyErr = internal.ErrAlreadySettled
			req := httptest.NewRequest("GET", "/api/v1/payments/notify?out_trade_no=VG1&trade_status=TRADE_SUCCESS&sign=abc", nil)

			handler.HandleGatewayNotification(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.Equal("success"))
		})

		ginkgo.It("acks fail for a non-success ack from the service", func() {
			service.notifyAck = &orderpkg.Ack{OK: false, OrderNo: "VG1"}
			req := httptest.NewRequest("GET", "/api/v1/payments/notify?out_trade_no=VG1&trade_status=TRADE_CLOSED&sign=abc", nil)

			handler.HandleGatewayNotification(rec, req)

			gomega.Expect(rec.Body.String()).To(gomega.Equal("fail"))
		})
	})
})
