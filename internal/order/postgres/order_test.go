package postgres

import (
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
	"github.com/credmart/credmart/internal/order"
)

func TestOrderRepository(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Order Repository Suite")
}

var _ = ginkgo.Describe("OrderRepository", func() {
	var (
		db   *gorm.DB
		repo *OrderRepository
	)

	newOrder := func(orderNo string) *ordermodel.Order {
		return &ordermodel.Order{
			OrderNo:       orderNo,
			ProductRef:    "netflix-1m",
			ProductName:   "Netflix Premium 1 Month",
			Amount:        decimal.RequireFromString("25.00"),
			Currency:      "CNY",
			CustomerEmail: "buyer@example.com",
			PaymentMethod: ordermodel.PaymentMethodGatewayQR,
			Status:        ordermodel.StatusCreated,
			PaymentStatus: ordermodel.PaymentStatusPending,
		}
	}

	ginkgo.BeforeEach(func() {
		// Use in-memory SQLite for testing
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		err = db.AutoMigrate(&ordermodel.Order{})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		repo = NewOrderRepository(db)
	})

	ginkgo.Describe("Create", func() {
		ginkgo.It("persists an order and reads it back by order number", func() {
			err := repo.Create(newOrder("VG1001"))
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			stored, err := repo.GetByOrderNo("VG1001")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(stored.ProductRef).To(gomega.Equal("netflix-1m"))
			gomega.Expect(stored.Amount.Equal(decimal.RequireFromString("25.00"))).To(gomega.BeTrue())
		})

		ginkgo.It("reports order number collisions as duplicates", func() {
			gomega.Expect(repo.Create(newOrder("VG1001"))).To(gomega.Succeed())

			err := repo.Create(newOrder("VG1001"))
			gomega.Expect(err).To(gomega.MatchError(order.ErrDuplicateOrderNo))
		})
	})

	ginkgo.Describe("Settle", func() {
		ginkgo.It("wins exactly one of two competing transitions", func() {
			gomega.Expect(repo.Create(newOrder("VG1001"))).To(gomega.Succeed())

			first, err := repo.Settle("VG1001", order.Settlement{
				TradeNo: "TRADE1",
				PaidAt:  time.Now().UTC(),
				Details: map[string]interface{}{"trigger": "webhook"},
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(first).To(gomega.BeTrue())

			second, err := repo.Settle("VG1001", order.Settlement{
				TradeNo: "TRADE2",
				PaidAt:  time.Now().UTC(),
				Details: map[string]interface{}{"trigger": "poll"},
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(second).To(gomega.BeFalse())

			stored, err := repo.GetByOrderNo("VG1001")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(stored.PaymentStatus).To(gomega.Equal(ordermodel.PaymentStatusPaid))
			gomega.Expect(stored.TradeNo).To(gomega.Equal("TRADE1"))
			gomega.Expect(stored.PaidAt).ToNot(gomega.BeNil())
		})

		ginkgo.It("returns a no-op for an unknown order", func() {
			won, err := repo.Settle("VG9999", order.Settlement{PaidAt: time.Now().UTC()})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(won).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("ListStalePending", func() {
		ginkgo.It("returns only pending orders older than the cutoff", func() {
			gomega.Expect(repo.Create(newOrder("VG1001"))).To(gomega.Succeed())
			gomega.Expect(repo.Create(newOrder("VG1002"))).To(gomega.Succeed())

			_, err := repo.Settle("VG1002", order.Settlement{PaidAt: time.Now().UTC()})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			stale, err := repo.ListStalePending(time.Now().UTC().Add(time.Minute), 10)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(stale).To(gomega.HaveLen(1))
			gomega.Expect(stale[0].OrderNo).To(gomega.Equal("VG1001"))
		})
	})

	ginkgo.Describe("notification bookkeeping", func() {
		ginkgo.BeforeEach(func() {
			gomega.Expect(repo.Create(newOrder("VG1001"))).To(gomega.Succeed())
			_, err := repo.Settle("VG1001", order.Settlement{PaidAt: time.Now().UTC()})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
		})

		ginkgo.It("grants the claim to exactly one caller", func() {
			first, err := repo.ClaimNotification("VG1001")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(first).To(gomega.BeTrue())

			second, err := repo.ClaimNotification("VG1001")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(second).To(gomega.BeFalse())
		})

		ginkgo.It("refuses to claim an unpaid order", func() {
			gomega.Expect(repo.Create(newOrder("VG1002"))).To(gomega.Succeed())

			claimed, err := repo.ClaimNotification("VG1002")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(claimed).To(gomega.BeFalse())
		})

		ginkgo.It("releases a failed claim and schedules the retry", func() {
			_, err := repo.ClaimNotification("VG1001")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			next := time.Now().UTC().Add(time.Hour)
			err = repo.ReleaseNotification("VG1001", "smtp timeout", next)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			stored, err := repo.GetByOrderNo("VG1001")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(stored.Notified).To(gomega.BeFalse())
			gomega.Expect(stored.NotifyAttempts).To(gomega.Equal(1))
			gomega.Expect(*stored.LastNotifyError).To(gomega.Equal("smtp timeout"))

			// Not due yet.
			due, err := repo.ListNotifyDue(time.Now().UTC(), 5, 10)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(due).To(gomega.BeEmpty())

			due, err = repo.ListNotifyDue(next.Add(time.Second), 5, 10)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(due).To(gomega.HaveLen(1))
		})

		ginkgo.It("stops retrying after the attempt budget", func() {
			for i := 0; i < 3; i++ {
				_, err := repo.ClaimNotification("VG1001")
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
				err = repo.ReleaseNotification("VG1001", "smtp timeout", time.Now().UTC().Add(-time.Second))
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
			}

			due, err := repo.ListNotifyDue(time.Now().UTC(), 3, 10)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(due).To(gomega.BeEmpty())
		})
	})
})
