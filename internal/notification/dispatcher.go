package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/credmart/credmart/internal/core/events"
	"github.com/credmart/credmart/internal/order"
)

const sweepBatchSize = 20

// Dispatcher delivers credential emails exactly once per settled order. The
// persisted notified flag is the delivery lock: a claim flips it before the
// send, a failed send releases it with a scheduled retry, and the sweep picks
// up anything a crash or failure left behind.
type Dispatcher struct {
	repo           order.RepositoryAPI
	mailer         Mailer
	sweepInterval  time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxAttempts    int
	logger         *slog.Logger
}

type DispatcherConfig struct {
	SweepInterval  time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

func NewDispatcher(repo order.RepositoryAPI, mailer Mailer, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	return &Dispatcher{
		repo:           repo,
		mailer:         mailer,
		sweepInterval:  cfg.SweepInterval,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		maxAttempts:    cfg.MaxAttempts,
		logger:         logger,
	}
}

// Subscribe registers the dispatcher as the order.settled consumer.
func (d *Dispatcher) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeOrderSettled, d.handleSettled)
}

func (d *Dispatcher) handleSettled(ctx context.Context, event events.Event) error {
	settled, ok := event.(*events.OrderSettledEvent)
	if !ok {
		d.logger.Error("unexpected event payload on order.settled", "event_id", event.EventID())
		return nil
	}
	return d.Deliver(settled.OrderNo)
}

// Deliver attempts one delivery for the order. Failing to win the claim is
// not an error; another sender already has it or the delivery is done.
func (d *Dispatcher) Deliver(orderNo string) error {
	claimed, err := d.repo.ClaimNotification(orderNo)
	if err != nil {
		d.logger.Error("notification claim failed", "order_no", orderNo, "error", err)
		return err
	}
	if !claimed {
		d.logger.Debug("notification already claimed or delivered", "order_no", orderNo)
		return nil
	}

	o, err := d.repo.GetByOrderNo(orderNo)
	if err != nil {
		d.release(orderNo, 0, "order lookup failed: "+err.Error())
		return err
	}

	if err := d.mailer.SendCredentials(o); err != nil {
		d.logger.Warn("credential email failed",
			"order_no", orderNo,
			"attempt", o.NotifyAttempts+1,
			"error", err)
		d.release(orderNo, o.NotifyAttempts, err.Error())
		return err
	}

	d.logger.Info("credentials delivered",
		"order_no", orderNo,
		"customer_email", o.CustomerEmail)
	return nil
}

// release undoes a claim after a failed send and schedules the retry with
// exponential backoff on the attempt count.
func (d *Dispatcher) release(orderNo string, attempts int, reason string) {
	next := time.Now().Add(d.backoff(attempts))
	if err := d.repo.ReleaseNotification(orderNo, reason, next); err != nil {
		d.logger.Error("failed to release notification claim",
			"order_no", orderNo, "error", err)
	}
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	backoff := d.initialBackoff
	for i := 0; i < attempts && backoff < d.maxBackoff; i++ {
		backoff *= 2
	}
	if backoff > d.maxBackoff {
		backoff = d.maxBackoff
	}
	return backoff
}

// Run is the sweep worker: it blocks until ctx is cancelled, retrying due
// undelivered notifications each interval.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	d.logger.Info("notification sweep started", "interval", d.sweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification sweep stopped")
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep retries one batch of due, undelivered notifications.
func (d *Dispatcher) Sweep(ctx context.Context) {
	due, err := d.repo.ListNotifyDue(time.Now(), d.maxAttempts, sweepBatchSize)
	if err != nil {
		d.logger.Error("notification sweep failed to list due orders", "error", err)
		return
	}
	for _, o := range due {
		if ctx.Err() != nil {
			return
		}
		if err := d.Deliver(o.OrderNo); err != nil {
			continue
		}
	}
	if len(due) > 0 {
		d.logger.Info("notification sweep finished", "processed", len(due))
	}
}
