// Package app wires configuration, storage, domain services, and the HTTP
// server into a running process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/velstore/checkout/internal/domain/order"
	"github.com/velstore/checkout/internal/domain/promo"
	"github.com/velstore/checkout/internal/httpapi"
	"github.com/velstore/checkout/internal/idempotency"
	"github.com/velstore/checkout/internal/notify"
	"github.com/velstore/checkout/internal/postgres"
	"github.com/velstore/checkout/pkg/health"
	"github.com/velstore/checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderStore := postgres.NewOrderStore(pool)
	promoRepo := postgres.NewPromoRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	idemStore := postgres.NewIdempotencyStore(pool)

	// Seed the promocode prescreen filter from the active codes.
	codes, err := promoRepo.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list promocode codes")
	}
	codeSet := promo.NewCodeSet(codes)
	lg.Info("Promocode filter seeded", zap.Int("codes", len(codes)))

	// Retention sweep for idempotency keys.
	go idempotency.RunSweeper(zctx.Base(ctx, lg), idemStore, cfg.Idempotency.SweepInterval)

	// Fan-out hub + checkout service.
	hub := notify.NewHub(lg.Named("notify"))
	orderService := order.NewService(orderStore, hub, cfg.orderConfig())

	// HTTP surface.
	h := httpapi.NewHandler(orderService, promoRepo, codeSet, []byte(cfg.WebhookSecret))
	api := h.Routes(
		sessionRepo,
		idempotency.Middleware(idemStore, cfg.Idempotency.TTL),
		notify.WSHandler(hub),
	)

	root := chi.NewRouter()
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/api", api)

	routeFinder := makeRouteFinder(root)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(root,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Webhook-Signature"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", routeFinder, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// makeRouteFinder resolves requests against the router's route table without
// executing handlers, yielding patterns like "/api/orders/{id}" for logs and
// span names.
func makeRouteFinder(mux chi.Router) httpmiddleware.RouteFinder {
	return func(r *http.Request) string {
		rctx := chi.NewRouteContext()
		if mux.Match(rctx, r.Method, r.URL.Path) {
			return rctx.RoutePattern()
		}
		return ""
	}
}
