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
	"golang.org/x/sync/errgroup"

	"github.com/xenking/xixi-cart/internal/domain/auth"
	"github.com/xenking/xixi-cart/internal/domain/cart"
	"github.com/xenking/xixi-cart/internal/domain/checkout"
	"github.com/xenking/xixi-cart/internal/domain/order"
	"github.com/xenking/xixi-cart/internal/domain/product"
	"github.com/xenking/xixi-cart/internal/handler"
	"github.com/xenking/xixi-cart/internal/storage/postgres"
	"github.com/xenking/xixi-cart/internal/storage/redis"
	"github.com/xenking/xixi-cart/pkg/health"
	"github.com/xenking/xixi-cart/pkg/httpmiddleware"
)

const serviceName = "xixi-api"

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

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	limiter, closeLimiter, err := newLimiter(ctx, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeLimiter()

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	cartRepo := postgres.NewCartRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	// Domain services.
	cartService := cart.NewService(cartRepo, product.NewStockValidator(productRepo), cart.RetryConfig{
		MaxAttempts:     cfg.Cart.MaxAttempts,
		InitialInterval: cfg.Cart.RetryInitialInterval,
		MaxInterval:     cfg.Cart.RetryMaxInterval,
	})
	checkoutService, err := checkout.NewService(postgres.NewTransactor(pool), m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	orderService := order.NewService(orderRepo)
	tokens := auth.NewTokenManager([]byte(cfg.JWT.Secret), cfg.JWT.Issuer)

	// HTTP handlers.
	h := handler.NewHandler(cartService, checkoutService, orderService, productRepo)
	api := h.Routes(handler.NewSecurityHandler(tokens),
		httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
		httpmiddleware.LogRequests(),
	)

	root := chi.NewRouter()
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/api", api)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(root,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.IdempotencyKeyHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				Limiter: limiter,
			}),
			httpmiddleware.Timeout(cfg.RequestTimeout),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: drop readiness, let the balancer notice, then drain.
		<-gctx.Done()
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
		return nil
	})

	return g.Wait()
}

// newLimiter picks the rate limit counter store. With a Redis URL counters
// are shared by all replicas and Redis joins the readiness checks; otherwise
// each process keeps its own sliding windows.
func newLimiter(ctx context.Context, lg *zap.Logger, cfg *Config, h *health.Health) (httpmiddleware.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		sw := httpmiddleware.NewSlidingWindow(cfg.RateLimit.Max, cfg.RateLimit.Window)
		sw.StartCleanup(ctx)
		lg.Info("Rate limiting in process", zap.Int("max", cfg.RateLimit.Max), zap.Duration("window", cfg.RateLimit.Window))
		return sw, func() {}, nil
	}

	client, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect redis")
	}
	h.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(client), health.WithFailureThreshold(3))
	lg.Info("Rate limiting in redis", zap.Int("max", cfg.RateLimit.Max), zap.Duration("window", cfg.RateLimit.Window))

	return redis.NewFixedWindow(client, cfg.RateLimit.Max, cfg.RateLimit.Window), func() {
		if err := client.Close(); err != nil {
			lg.Warn("Close redis", zap.Error(err))
		}
	}, nil
}
