// Command reconcile runs a single reconciliation pass over payment attempts
// and writes the expired ones to a gzip JSON lines report.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/events"
	"github.com/xenking/storefront-checkout/internal/reconcile"
	"github.com/xenking/storefront-checkout/internal/repository"
)

type options struct {
	databaseURL string
	output      string
	staleAfter  time.Duration
	workers     int
	batch       int
	purge       bool
	keyTTL      time.Duration
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.output, "output", "expired-attempts.jsonl.gz", "report file; empty disables the report")
	flag.DurationVar(&opts.staleAfter, "stale-after", 30*time.Minute, "age after which an in-flight attempt is expired")
	flag.IntVar(&opts.workers, "workers", 4, "concurrent expirations")
	flag.IntVar(&opts.batch, "batch", 500, "attempts examined in this pass")
	flag.BoolVar(&opts.purge, "purge", true, "also purge expired idempotency keys")
	flag.DurationVar(&opts.keyTTL, "key-ttl", 24*time.Hour, "idempotency key lifetime")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Reconcile failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	pool, err := repository.NewPool(ctx, opts.databaseURL, int32(opts.workers)+1)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	var purger reconcile.Purger
	if opts.purge {
		purger = repository.NewIdempotencyRepository(pool, opts.keyTTL)
	}

	r := reconcile.New(repository.NewAttemptRepository(pool), purger, events.NewLogPublisher(lg.Named("events")), reconcile.Config{
		StaleAfter: opts.staleAfter,
		Workers:    opts.workers,
		BatchSize:  opts.batch,
	})
	res, err := r.Reconcile(ctx)
	if err != nil {
		return errors.Wrap(err, "reconcile")
	}
	lg.Info("Reconcile pass finished",
		zap.Int("examined", res.Examined),
		zap.Int("expired", len(res.Expired)),
		zap.Int64("purged_keys", res.Purged),
	)

	if opts.output == "" {
		return nil
	}
	f, err := os.Create(opts.output)
	if err != nil {
		return errors.Wrap(err, "create report")
	}
	if err := reconcile.WriteReport(f, res.Expired); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "write report")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close report")
	}
	lg.Info("Report written", zap.String("path", opts.output))
	return nil
}
