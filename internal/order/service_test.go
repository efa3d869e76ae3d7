package order_test

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	errors "github.com/credmart/credmart/internal"
	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
	productmodel "github.com/credmart/credmart/internal/core/datamodel/product"
	"github.com/credmart/credmart/internal/core/events"
	"github.com/credmart/credmart/internal/gateway"
	"github.com/credmart/credmart/internal/order"
	"github.com/credmart/credmart/internal/order/memory"
	"github.com/credmart/credmart/internal/signature"
)

func TestOrder(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Order Suite")
}

const testMD5Key = "test-merchant-key"

type mockGateway struct {
	mu            sync.Mutex
	qrResult      *gateway.QRPayment
	qrErr         error
	barcodeResult *gateway.Result
	barcodeErr    error
	queryResult   *gateway.Result
	queryErr      error
	barcodeCalls  int32
	queryCalls    int32
	createQRCalls int32
}

func (m *mockGateway) CreateQRPayment(ctx context.Context, orderNo string, amount decimal.Decimal, subject, paymentType, clientIP string) (*gateway.QRPayment, error) {
	atomic.AddInt32(&m.createQRCalls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qrResult, m.qrErr
}

func (m *mockGateway) CreateBarcodePayment(ctx context.Context, orderNo, authCode string, amount decimal.Decimal, subject string) (*gateway.Result, error) {
	atomic.AddInt32(&m.barcodeCalls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.barcodeResult, m.barcodeErr
}

func (m *mockGateway) QueryTrade(ctx context.Context, orderNo string) (*gateway.Result, error) {
	atomic.AddInt32(&m.queryCalls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryResult, m.queryErr
}

func (m *mockGateway) setQuery(result *gateway.Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryResult = result
	m.queryErr = err
}

// stubCatalog serves a single product whose price the specs can vary.
type stubCatalog struct {
	mu    sync.Mutex
	price decimal.Decimal
}

func (c *stubCatalog) setPrice(price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price = price
}

func (c *stubCatalog) GetByRef(ref string) (*productmodel.VirtualProduct, error) {
	if ref != "netflix-1m" {
		return nil, errors.ErrProductNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return &productmodel.VirtualProduct{
		Ref:      ref,
		Name:     "Netflix Premium 1 Month",
		Price:    c.price,
		Currency: "CNY",
		IsActive: true,
	}, nil
}

// collidingStore forces order number collisions for the first n creates.
type collidingStore struct {
	*memory.OrderStore
	remaining int32
}

func (s *collidingStore) Create(o *ordermodel.Order) error {
	if atomic.AddInt32(&s.remaining, -1) >= 0 {
		return order.ErrDuplicateOrderNo
	}
	return s.OrderStore.Create(o)
}

func signedNotification(orderNo, tradeStatus, money string) map[string]string {
	params := signature.Params{
		"out_trade_no": orderNo,
		"trade_no":     "GW" + orderNo,
		"trade_status": tradeStatus,
		"money":        money,
		"sign_type":    signature.SignTypeMD5,
	}
	sign, err := signature.NewMD5Signer(testMD5Key).Sign(params)
	Expect(err).NotTo(HaveOccurred())
	params["sign"] = sign
	return map[string]string(params)
}

func adminContext() context.Context {
	return errors.ContextWithOperator(context.Background(), errors.Operator{
		UserID:  1,
		Email:   "ops@credmart.example",
		IsAdmin: true,
	})
}

var _ = Describe("Order Service", func() {
	var (
		store   *memory.OrderStore
		gw      *mockGateway
		bus     *events.EventBus
		catalog *stubCatalog
		svc     *order.Service
		settled int32
	)

	newService := func(repo order.RepositoryAPI) *order.Service {
		verifiers := map[string]signature.Signer{
			signature.SignTypeMD5: signature.NewMD5Signer(testMD5Key),
		}
		return order.NewService(repo, gw, catalog, verifiers, bus, slog.Default())
	}

	createOrder := func(amount string) *ordermodel.Order {
		catalog.setPrice(decimal.RequireFromString(amount))
		o, err := svc.CreateOrder(context.Background(), &order.CreateOrderRequest{
			ProductRef:    "netflix-1m",
			CustomerEmail: "buyer@example.com",
			PaymentMethod: ordermodel.PaymentMethodGatewayQR,
		})
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	BeforeEach(func() {
		store = memory.NewOrderStore()
		gw = &mockGateway{}
		catalog = &stubCatalog{price: decimal.RequireFromString("25.00")}
		bus = events.NewEventBus(slog.Default())
		atomic.StoreInt32(&settled, 0)
		bus.Subscribe(events.EventTypeOrderSettled, func(ctx context.Context, e events.Event) error {
			atomic.AddInt32(&settled, 1)
			return nil
		})
		svc = newService(store)
	})

	Describe("CreateOrder", func() {
		It("creates a pending order with provisioned credentials", func() {
			o := createOrder("25.00")

			Expect(o.OrderNo).To(HavePrefix("VG"))
			Expect(o.Status).To(Equal(ordermodel.StatusCreated))
			Expect(o.PaymentStatus).To(Equal(ordermodel.PaymentStatusPending))
			Expect(o.CredentialEmail).NotTo(BeEmpty())
			Expect(o.CredentialPassword).NotTo(BeEmpty())
			Expect(o.Currency).To(Equal("CNY"))
		})

		It("prices the order from the catalog", func() {
			o := createOrder("240.00")
			Expect(o.Amount.Equal(decimal.RequireFromString("240.00"))).To(BeTrue())
		})

		It("rejects an unknown product", func() {
			_, err := svc.CreateOrder(context.Background(), &order.CreateOrderRequest{
				ProductRef:    "not-in-catalog",
				CustomerEmail: "buyer@example.com",
				PaymentMethod: ordermodel.PaymentMethodGatewayQR,
			})
			Expect(err).To(MatchError(errors.ErrProductNotFound))
		})

		It("rejects a malformed email", func() {
			_, err := svc.CreateOrder(context.Background(), &order.CreateOrderRequest{
				ProductRef:    "netflix-1m",
				CustomerEmail: "not-an-email",
				PaymentMethod: ordermodel.PaymentMethodGatewayQR,
			})
			Expect(err).To(HaveOccurred())
			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(errors.ErrorTypeValidation))
		})

		It("retries order number collisions", func() {
			svc = newService(&collidingStore{OrderStore: store, remaining: 2})
			o := createOrder("25.00")
			Expect(o.OrderNo).To(HavePrefix("VG"))
		})
	})

	Describe("ApplyGatewayNotification", func() {
		It("settles the order on a signed success notification", func() {
			o := createOrder("25.00")

			ack, err := svc.ApplyGatewayNotification(context.Background(),
				signedNotification(o.OrderNo, "TRADE_SUCCESS", "25.00"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.OK).To(BeTrue())

			stored, err := svc.GetOrder(context.Background(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Settled()).To(BeTrue())
			Expect(stored.Status).To(Equal(ordermodel.StatusPaid))
			Expect(stored.PaidAt).NotTo(BeNil())
			Expect(stored.TradeNo).To(Equal("GW" + o.OrderNo))

			Eventually(func() int32 { return atomic.LoadInt32(&settled) }).Should(Equal(int32(1)))
		})

		It("rejects a tampered signature without state change", func() {
			o := createOrder("25.00")

			params := signedNotification(o.OrderNo, "TRADE_SUCCESS", "25.00")
			params["money"] = "0.01"

			_, err := svc.ApplyGatewayNotification(context.Background(), params)
			Expect(err).To(MatchError(errors.ErrInvalidSignature))

			stored, _ := svc.GetOrder(context.Background(), o.OrderNo)
			Expect(stored.Settled()).To(BeFalse())
		})

		It("rejects a notification missing required parameters", func() {
			_, err := svc.ApplyGatewayNotification(context.Background(), map[string]string{
				"trade_status": "TRADE_SUCCESS",
				"sign":         "abc",
			})
			Expect(err).To(MatchError(errors.ErrMalformedNotification))
		})

		It("rejects a notification that omits the paid amount", func() {
			o := createOrder("25.00")
			params := signedNotification(o.OrderNo, "TRADE_SUCCESS", "25.00")
			delete(params, "money")

			_, err := svc.ApplyGatewayNotification(context.Background(), params)
			Expect(err).To(MatchError(errors.ErrMalformedNotification))

			stored, _ := svc.GetOrder(context.Background(), o.OrderNo)
			Expect(stored.Settled()).To(BeFalse())
		})

		It("rejects an unsupported sign_type", func() {
			o := createOrder("25.00")
			params := signedNotification(o.OrderNo, "TRADE_SUCCESS", "25.00")
			params["sign_type"] = "RSA2"

			_, err := svc.ApplyGatewayNotification(context.Background(), params)
			Expect(err).To(MatchError(errors.ErrInvalidSignature))
		})

		It("rejects a correctly signed notification whose amount mismatches", func() {
			o := createOrder("25.00")

			_, err := svc.ApplyGatewayNotification(context.Background(),
				signedNotification(o.OrderNo, "TRADE_SUCCESS", "24.99"))
			Expect(err).To(MatchError(errors.ErrAmountMismatch))

			stored, _ := svc.GetOrder(context.Background(), o.OrderNo)
			Expect(stored.Settled()).To(BeFalse())
		})

		It("acks a repeated notification without settling twice", func() {
			o := createOrder("25.00")
			params := signedNotification(o.OrderNo, "TRADE_SUCCESS", "25.00")

			_, err := svc.ApplyGatewayNotification(context.Background(), params)
			Expect(err).NotTo(HaveOccurred())

			ack, err := svc.ApplyGatewayNotification(context.Background(), params)
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.OK).To(BeTrue())

			Eventually(func() int32 { return atomic.LoadInt32(&settled) }).Should(Equal(int32(1)))
			Consistently(func() int32 { return atomic.LoadInt32(&settled) }, "100ms").Should(Equal(int32(1)))
		})

		It("acks a non-success notification without touching the order", func() {
			o := createOrder("25.00")

			ack, err := svc.ApplyGatewayNotification(context.Background(),
				signedNotification(o.OrderNo, "WAIT_BUYER_PAY", "25.00"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.OK).To(BeTrue())

			stored, _ := svc.GetOrder(context.Background(), o.OrderNo)
			Expect(stored.Settled()).To(BeFalse())
		})

		It("fails for an unknown order", func() {
			_, err := svc.ApplyGatewayNotification(context.Background(),
				signedNotification("VG0000000000000", "TRADE_SUCCESS", "25.00"))
			Expect(err).To(MatchError(errors.ErrOrderNotFound))
		})
	})

	Describe("PollGatewayStatus", func() {
		It("leaves a waiting order pending", func() {
			o := createOrder("25.00")
			gw.setQuery(&gateway.Result{Outcome: gateway.OutcomeWaiting}, nil)

			polled, err := svc.PollGatewayStatus(context.Background(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())
			Expect(polled.Settled()).To(BeFalse())
		})

		It("settles when the gateway reports success", func() {
			o := createOrder("25.00")
			gw.setQuery(&gateway.Result{
				Outcome: gateway.OutcomeSuccess,
				TradeNo: "QTRADE1",
				Amount:  decimal.RequireFromString("25.00"),
			}, nil)

			polled, err := svc.PollGatewayStatus(context.Background(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())
			Expect(polled.Settled()).To(BeTrue())
			Expect(polled.TradeNo).To(Equal("QTRADE1"))
		})

		It("keeps waiting when a successful query reports a mismatched amount", func() {
			o := createOrder("188.00")
			gw.setQuery(&gateway.Result{
				Outcome: gateway.OutcomeSuccess,
				TradeNo: "QTRADE1",
				Amount:  decimal.RequireFromString("100.00"),
			}, nil)

			polled, err := svc.PollGatewayStatus(context.Background(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())
			Expect(polled.Settled()).To(BeFalse())

			stored, _ := svc.GetOrder(context.Background(), o.OrderNo)
			Expect(stored.Settled()).To(BeFalse())
			Expect(atomic.LoadInt32(&settled)).To(Equal(int32(0)))
		})

		It("skips the gateway entirely for a settled order", func() {
			o := createOrder("25.00")
			_, err := svc.ApplyGatewayNotification(context.Background(),
				signedNotification(o.OrderNo, "TRADE_SUCCESS", "25.00"))
			Expect(err).NotTo(HaveOccurred())

			before := atomic.LoadInt32(&gw.queryCalls)
			polled, err := svc.PollGatewayStatus(context.Background(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())
			Expect(polled.Settled()).To(BeTrue())
			Expect(atomic.LoadInt32(&gw.queryCalls)).To(Equal(before))
		})
	})

	Describe("AdminConfirm", func() {
		It("refuses a non-admin operator", func() {
			o := createOrder("25.00")
			ctx := errors.ContextWithOperator(context.Background(), errors.Operator{UserID: 2, Email: "user@example.com"})

			_, err := svc.AdminConfirm(ctx, o.OrderNo)
			Expect(err).To(MatchError(errors.ErrAdminRequired))
		})

		It("settles without signature or amount checks and records the operator", func() {
			o := createOrder("25.00")

			confirmed, err := svc.AdminConfirm(adminContext(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())
			Expect(confirmed.Settled()).To(BeTrue())
			Expect(string(confirmed.PaymentDetails)).To(ContainSubstring("ops@credmart.example"))
		})

		It("is idempotent and does not move paidAt", func() {
			o := createOrder("25.00")

			first, err := svc.AdminConfirm(adminContext(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())
			paidAt := *first.PaidAt

			second, err := svc.AdminConfirm(adminContext(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.PaidAt.Equal(paidAt)).To(BeTrue())
		})
	})

	Describe("PayWithBarcode", func() {
		It("settles on an immediate gateway success", func() {
			o := createOrder("18.80")
			gw.barcodeResult = &gateway.Result{
				Outcome: gateway.OutcomeSuccess,
				TradeNo: "BARTRADE1",
			}

			result, err := svc.PayWithBarcode(context.Background(), o.OrderNo, "134567890123456789")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(gateway.OutcomeSuccess))

			stored, _ := svc.GetOrder(context.Background(), o.OrderNo)
			Expect(stored.Settled()).To(BeTrue())
			Expect(stored.TradeNo).To(Equal("BARTRADE1"))
		})

		It("returns success without calling the gateway for a paid order", func() {
			o := createOrder("18.80")
			_, err := svc.AdminConfirm(adminContext(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())

			result, err := svc.PayWithBarcode(context.Background(), o.OrderNo, "134567890123456789")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(gateway.OutcomeSuccess))
			Expect(atomic.LoadInt32(&gw.barcodeCalls)).To(BeZero())
		})
	})

	Describe("SimulateNotification", func() {
		It("requires an admin operator", func() {
			o := createOrder("25.00")
			_, err := svc.SimulateNotification(context.Background(), o.OrderNo)
			Expect(err).To(MatchError(errors.ErrAdminRequired))
		})

		It("drives the order through the real notification path", func() {
			o := createOrder("25.00")

			ack, err := svc.SimulateNotification(adminContext(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.OK).To(BeTrue())

			stored, _ := svc.GetOrder(context.Background(), o.OrderNo)
			Expect(stored.Settled()).To(BeTrue())
		})
	})

	Describe("concurrent settlement triggers", func() {
		It("transitions to paid at most once regardless of which triggers race", func() {
			o := createOrder("25.00")
			gw.setQuery(&gateway.Result{
				Outcome: gateway.OutcomeSuccess,
				TradeNo: "QTRADE-RACE",
				Amount:  decimal.RequireFromString("25.00"),
			}, nil)
			params := signedNotification(o.OrderNo, "TRADE_SUCCESS", "25.00")

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(3)
				go func() {
					defer wg.Done()
					_, _ = svc.ApplyGatewayNotification(context.Background(), params)
				}()
				go func() {
					defer wg.Done()
					_, _ = svc.PollGatewayStatus(context.Background(), o.OrderNo)
				}()
				go func() {
					defer wg.Done()
					_, _ = svc.AdminConfirm(adminContext(), o.OrderNo)
				}()
			}
			wg.Wait()

			stored, err := svc.GetOrder(context.Background(), o.OrderNo)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Settled()).To(BeTrue())

			Eventually(func() int32 { return atomic.LoadInt32(&settled) }).Should(Equal(int32(1)))
			Consistently(func() int32 { return atomic.LoadInt32(&settled) }, "200ms").Should(Equal(int32(1)))
		})
	})
})
