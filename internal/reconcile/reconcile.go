// Package reconcile expires gateway orders that never reached a verdict.
//
// A customer who closes the tab mid-payment leaves an attempt in flight.
// The store may still capture the payment, so each expired attempt is
// published as payment.orphaned for a human or a refund job to follow up.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/events"
)

const expiredMessage = "Payment was not completed in time"

// Attempts is the part of the attempt log the reconciler needs.
type Attempts interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]payment.Attempt, error)
	Expire(ctx context.Context, id, message string) (bool, error)
}

// Purger drops expired idempotency entries.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Config tunes reconciliation.
type Config struct {
	Interval   time.Duration `default:"5m" usage:"Reconciliation interval"`
	StaleAfter time.Duration `default:"30m" usage:"Age after which an in-flight attempt is expired"`
	Workers    int           `default:"4" usage:"Concurrent expirations"`
	BatchSize  int           `default:"500" usage:"Attempts examined per pass"`
}

// Result summarizes one pass.
type Result struct {
	Examined int
	Expired  []payment.Attempt
	Purged   int64
}

// Reconciler expires stale attempts.
type Reconciler struct {
	attempts Attempts
	purger   Purger
	events   events.Publisher
	cfg      Config
	now      func() time.Time
}

// New creates a Reconciler. purger may be nil.
func New(attempts Attempts, purger Purger, pub events.Publisher, cfg Config) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Reconciler{
		attempts: attempts,
		purger:   purger,
		events:   pub,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Reconcile runs a single pass.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	lg := zctx.From(ctx)

	stale, err := r.attempts.ListStale(ctx, r.now().Add(-r.cfg.StaleAfter), r.cfg.BatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "list stale attempts")
	}

	var (
		mu      sync.Mutex
		expired []payment.Attempt
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, a := range stale {
		g.Go(func() error {
			changed, err := r.attempts.Expire(gctx, a.ID, expiredMessage)
			if err != nil {
				return errors.Wrapf(err, "expire attempt %s", a.ID)
			}
			if !changed {
				return nil
			}
			a.Status = payment.StatusExpired
			a.Message = expiredMessage

			r.publish(gctx, a)

			mu.Lock()
			expired = append(expired, a)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Examined: len(stale), Expired: expired}
	if r.purger != nil {
		n, err := r.purger.Purge(ctx)
		if err != nil {
			lg.Warn("Purge idempotency keys", zap.Error(err))
		}
		res.Purged = n
	}

	if len(expired) > 0 || res.Purged > 0 {
		lg.Info("Reconciled payment attempts",
			zap.Int("examined", res.Examined),
			zap.Int("expired", len(expired)),
			zap.Int64("purged_keys", res.Purged),
		)
	}
	return res, nil
}

func (r *Reconciler) publish(ctx context.Context, a payment.Attempt) {
	e := events.New(events.PaymentOrphaned)
	e.CheckoutID = a.CheckoutID
	e.AttemptID = a.ID
	e.OrderID = a.OrderID
	e.GatewayOrderID = a.GatewayOrderID
	e.PaymentID = a.PaymentID
	e.Amount = payment.GatewayOrder{Amount: a.Amount}.MajorAmount()
	e.Message = a.Message
	if err := r.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish orphaned payment",
			zap.String("attempt_id", a.ID),
			zap.Error(err),
		)
	}
}

// Run reconciles every Interval until ctx is done. Failed passes are
// logged and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
				zctx.From(ctx).Error("Reconcile payment attempts", zap.Error(err))
			}
		}
	}
}
