package app

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/aws"
	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/events"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/idempotency"
	"github.com/xenking/storefront-checkout/internal/reconcile"
	"github.com/xenking/storefront-checkout/internal/repository"
	"github.com/xenking/storefront-checkout/internal/storeapi"
	"github.com/xenking/storefront-checkout/internal/validation"
	"github.com/xenking/storefront-checkout/pkg/health"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// replayWarmLimit bounds the payment IDs loaded into the replay filter.
const replayWarmLimit = 100_000

// Run creates all dependencies, starts the HTTP server and background loops,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store_api", cfg.StoreAPI.BaseURL),
		zap.String("idempotency", cfg.Idempotency.Backend),
	)

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	attempts := repository.NewAttemptRepository(pool)
	keys := repository.NewIdempotencyRepository(pool, cfg.Idempotency.TTL)

	// Commerce API client.
	store := storeapi.New(cfg.StoreAPI, nil,
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	// AWS is only loaded when a component needs it.
	var (
		ledger    idempotency.Ledger
		purger    reconcile.Purger
		publisher events.Publisher = events.NewLogPublisher(lg.Named("events"))
	)
	if cfg.Idempotency.Backend == LedgerDynamoDB || cfg.Events.QueueURL != "" {
		awsCfg, err := aws.LoadConfig(ctx, cfg.AWS)
		if err != nil {
			return errors.Wrap(err, "load aws config")
		}
		if cfg.Idempotency.Backend == LedgerDynamoDB {
			ledger = aws.NewLedger(dynamodb.NewFromConfig(awsCfg), cfg.Idempotency.Table, cfg.Idempotency.TTL)
		}
		if cfg.Events.QueueURL != "" {
			publisher = events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.Events.QueueURL)
		}
	}
	switch cfg.Idempotency.Backend {
	case LedgerPostgres:
		ledger = keys
		purger = keys
	case LedgerMemory:
		ledger = idempotency.NewMemoryLedger(cfg.Idempotency.TTL)
	}

	// Payment replay filter, warmed with recently verified payments.
	guard := payment.NewReplayGuard(cfg.Gateway.ReplayCapacity, cfg.Gateway.ReplayFPRate, attempts.PaymentUsed)
	used, err := attempts.VerifiedPaymentIDs(ctx, time.Now().Add(-cfg.Gateway.ReplayWarm), replayWarmLimit)
	if err != nil {
		return errors.Wrap(err, "warm replay guard")
	}
	guard.Warm(used)

	// Domain services.
	taxRate, err := decimal.NewFromString(cfg.Pricing.TaxRate)
	if err != nil {
		return errors.Wrap(err, "parse tax rate")
	}
	shipping, err := decimal.NewFromString(cfg.Pricing.ShippingFee)
	if err != nil {
		return errors.Wrap(err, "parse shipping fee")
	}

	sessions := checkout.NewRegistry(cfg.Session.TTL)
	svc, err := checkout.NewService(checkout.Deps{
		Cart:      cart.NewValidator(store),
		Coupons:   coupon.NewResolver(store),
		Addresses: address.NewResolver(store, validation.New()),
		Pricing:   pricing.NewCalculator(taxRate, shipping),
		Orders:    order.NewSubmitter(store, store),
		Payments: payment.NewOrchestrator(store, attempts, guard, payment.Config{
			Key:         cfg.Gateway.Key,
			Name:        cfg.Gateway.Name,
			Description: cfg.Gateway.Description,
			ThemeColor:  cfg.Gateway.ThemeColor,
		}),
		Sessions: sessions,
		Events:   publisher,
		Meter:    m.MeterProvider().Meter("checkout"),
	})
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	reconciler := reconcile.New(attempts, purger, publisher, cfg.Reconcile)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("store_api", time.Second, health.CircuitCheck(func() bool {
		return store.BreakerState() == gobreaker.StateOpen
	}))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.SetReady(true)

	// HTTP handlers.
	auth := handler.NewAuthenticator([]byte(cfg.OwnerPepper))
	h := handler.NewHandler(svc, auth, ledger)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(router)

	limiter := httpmiddleware.NewLimiter(cfg.RateLimit, auth.OwnerOrIP)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.StoreAPI.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(cfg.CORS),
			limiter.Middleware(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthSvc.Run(gctx, 10*time.Second) })
	g.Go(func() error { return sessions.Run(gctx, cfg.Session.SweepInterval) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
