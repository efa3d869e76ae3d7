package order

import (
	"context"
	"log/slog"
	"time"
)

const pollBatchSize = 50

// Poller is the reconciliation sweep: it periodically queries the gateway
// for pending orders whose webhook may have been lost. It covers the
// delivery gap; the webhook remains the fast path.
type Poller struct {
	service     ServiceAPI
	repo        RepositoryAPI
	interval    time.Duration
	minOrderAge time.Duration
	expireAfter time.Duration
	logger      *slog.Logger
}

// NewPoller builds the sweep. Orders younger than minOrderAge are left to
// on-demand status checks; orders pending longer than expireAfter are
// cancelled instead of polled (zero disables expiry).
func NewPoller(service ServiceAPI, repo RepositoryAPI, interval, minOrderAge, expireAfter time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		service:     service,
		repo:        repo,
		interval:    interval,
		minOrderAge: minOrderAge,
		expireAfter: expireAfter,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("reconcile poller started", "interval", p.interval.String())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reconcile poller stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep polls one batch of stale pending orders. Orders younger than
// minOrderAge are skipped; their customer is likely still at the payment
// page and on-demand status checks cover them.
func (p *Poller) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-p.minOrderAge)
	orders, err := p.repo.ListStalePending(cutoff, pollBatchSize)
	if err != nil {
		p.logger.Error("reconcile sweep failed to list pending orders", "error", err)
		return
	}
	if len(orders) == 0 {
		return
	}

	p.logger.Info("reconcile sweep", "pending", len(orders))
	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		if p.expireAfter > 0 && time.Since(o.CreatedAt) > p.expireAfter {
			if err := p.service.ExpireOrder(ctx, o.OrderNo); err != nil {
				p.logger.Warn("order expiry failed", "order_no", o.OrderNo, "error", err)
			}
			continue
		}
		if _, err := p.service.PollGatewayStatus(ctx, o.OrderNo); err != nil {
			p.logger.Warn("reconcile poll failed", "order_no", o.OrderNo, "error", err)
		}
	}
}
