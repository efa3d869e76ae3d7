// Package stats feeds the admin dashboard. Real figures come from the order
// store; the growth percentages are fabricated display candy and live behind
// the MetricsSource interface so they can never leak into settlement logic.
package stats

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/shopspring/decimal"

	errors "github.com/credmart/credmart/internal"
	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
	"github.com/credmart/credmart/internal/order"
)

// MetricsSource supplies the dashboard's trend figures. The default
// implementation is mock data for display only.
type MetricsSource interface {
	GrowthPercent(metric string) float64
}

// MockMetrics fabricates plausible-looking growth numbers. Display only;
// nothing downstream may read these.
type MockMetrics struct{}

func (MockMetrics) GrowthPercent(metric string) float64 {
	return float64(rand.Intn(400)-100) / 10.0
}

type Overview struct {
	TotalOrders   int             `json:"total_orders"`
	PaidOrders    int             `json:"paid_orders"`
	PendingOrders int             `json:"pending_orders"`
	Undelivered   int             `json:"undelivered"`
	Revenue       decimal.Decimal `json:"revenue"`

	// Mock trend figures, display only.
	OrderGrowthPercent   float64 `json:"order_growth_percent"`
	RevenueGrowthPercent float64 `json:"revenue_growth_percent"`
}

type Service struct {
	repo    order.RepositoryAPI
	metrics MetricsSource
	logger  *slog.Logger
}

func NewService(repo order.RepositoryAPI, metrics MetricsSource, logger *slog.Logger) *Service {
	if metrics == nil {
		metrics = MockMetrics{}
	}
	return &Service{repo: repo, metrics: metrics, logger: logger}
}

const overviewScanLimit = 1000

// Overview aggregates order counts and settled revenue over the most recent
// orders.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	orders, err := s.repo.List(0, overviewScanLimit)
	if err != nil {
		s.logger.Error("failed to load orders for stats", "error", err)
		return nil, errors.NewInternalError("failed to compute statistics", err)
	}

	ov := &Overview{Revenue: decimal.Zero}
	for _, o := range orders {
		ov.TotalOrders++
		switch o.PaymentStatus {
		case ordermodel.PaymentStatusPaid:
			ov.PaidOrders++
			ov.Revenue = ov.Revenue.Add(o.Amount)
			if !o.Notified {
				ov.Undelivered++
			}
		case ordermodel.PaymentStatusPending:
			ov.PendingOrders++
		}
	}

	ov.OrderGrowthPercent = s.metrics.GrowthPercent("orders")
	ov.RevenueGrowthPercent = s.metrics.GrowthPercent("revenue")
	return ov, nil
}
