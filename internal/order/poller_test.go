package order_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
	"github.com/credmart/credmart/internal/core/events"
	"github.com/credmart/credmart/internal/gateway"
	"github.com/credmart/credmart/internal/order"
	"github.com/credmart/credmart/internal/order/memory"
	"github.com/credmart/credmart/internal/signature"
)

var _ = Describe("Poller", func() {
	var (
		store   *memory.OrderStore
		gw      *mockGateway
		svc     *order.Service
		poller  *order.Poller
		catalog *stubCatalog
	)

	pendingOrder := func(orderNo string, age time.Duration) *ordermodel.Order {
		o := &ordermodel.Order{
			OrderNo:       orderNo,
			ProductRef:    "netflix-1m",
			ProductName:   "Netflix Premium 1 Month",
			Amount:        decimal.RequireFromString("25.00"),
			Currency:      "CNY",
			CustomerEmail: "buyer@example.com",
			PaymentMethod: ordermodel.PaymentMethodGatewayQR,
			Status:        ordermodel.StatusAwaitingPayment,
			PaymentStatus: ordermodel.PaymentStatusPending,
			CreatedAt:     time.Now().Add(-age),
		}
		Expect(store.Create(o)).To(Succeed())
		return o
	}

	BeforeEach(func() {
		store = memory.NewOrderStore()
		gw = &mockGateway{}
		catalog = &stubCatalog{price: decimal.RequireFromString("25.00")}
		bus := events.NewEventBus(slog.Default())
		verifiers := map[string]signature.Signer{
			signature.SignTypeMD5: signature.NewMD5Signer(testMD5Key),
		}
		svc = order.NewService(store, gw, catalog, verifiers, bus, slog.Default())
		poller = order.NewPoller(svc, store, time.Minute, 10*time.Minute, 2*time.Hour, slog.Default())
	})

	It("settles stale pending orders the gateway reports paid", func() {
		o := pendingOrder("VGPOLL1", 30*time.Minute)
		gw.setQuery(&gateway.Result{
			Outcome: gateway.OutcomeSuccess,
			TradeNo: "GWPOLL1",
			Amount:  decimal.RequireFromString("25.00"),
		}, nil)

		poller.Sweep(context.Background())

		stored, err := store.GetByOrderNo(o.OrderNo)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Settled()).To(BeTrue())
		Expect(stored.TradeNo).To(Equal("GWPOLL1"))
	})

	It("leaves young orders to on-demand checks", func() {
		pendingOrder("VGPOLL2", time.Minute)

		poller.Sweep(context.Background())

		Expect(atomic.LoadInt32(&gw.queryCalls)).To(BeZero())
	})

	It("cancels orders pending past the expiry window without polling", func() {
		o := pendingOrder("VGPOLL3", 3*time.Hour)

		poller.Sweep(context.Background())

		stored, err := store.GetByOrderNo(o.OrderNo)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(ordermodel.StatusCancelled))
		Expect(stored.PaymentStatus).To(Equal(ordermodel.PaymentStatusPending))
		Expect(atomic.LoadInt32(&gw.queryCalls)).To(BeZero())
	})

	It("drops cancelled orders from later sweeps", func() {
		pendingOrder("VGPOLL4", 3*time.Hour)

		poller.Sweep(context.Background())
		poller.Sweep(context.Background())

		Expect(atomic.LoadInt32(&gw.queryCalls)).To(BeZero())
	})

	It("never cancels a settled order", func() {
		o := pendingOrder("VGPOLL5", 3*time.Hour)
		won, err := store.Settle(o.OrderNo, order.Settlement{TradeNo: "GWPOLL5", PaidAt: time.Now()})
		Expect(err).NotTo(HaveOccurred())
		Expect(won).To(BeTrue())

		poller.Sweep(context.Background())

		stored, err := store.GetByOrderNo(o.OrderNo)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Settled()).To(BeTrue())
		Expect(stored.Status).NotTo(Equal(ordermodel.StatusCancelled))
	})
})
