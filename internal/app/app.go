package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/cache"
	"github.com/xenking/kart-discounts/internal/domain/auth"
	"github.com/xenking/kart-discounts/internal/domain/catalog"
	"github.com/xenking/kart-discounts/internal/domain/discount"
	"github.com/xenking/kart-discounts/internal/domain/order"
	"github.com/xenking/kart-discounts/internal/handler"
	"github.com/xenking/kart-discounts/internal/repository"
	"github.com/xenking/kart-discounts/pkg/health"
	"github.com/xenking/kart-discounts/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Rule cache backend: Redis when configured, process memory otherwise.
	var backend discount.CacheBackend
	if cfg.Redis.URL != "" {
		rdb, err := cache.DialRedis(ctx, cfg.Redis.URL, cache.WithLogger(lg.Named("redis")))
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(rdb))
		backend = rdb
	} else {
		lg.Warn("Redis URL not set, using in-process rule cache")
		backend = cache.NewMemory()
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	rules := repository.NewRuleRepository(pool)
	applied := repository.NewAppliedDiscountRepository(pool)
	catalogRepo := repository.NewCatalogRepository(pool)
	users := repository.NewUserRepository(pool)
	orders := repository.NewOrderRepository(pool)
	apikeys := repository.NewAPIKeyRepository(pool)

	// Domain services.
	catalogSvc := catalog.NewService(catalogRepo, cfg.Discount.CategoryTTL)
	ruleCache := discount.NewRuleCache(backend,
		discount.WithCacheTTL(cfg.Discount.CacheTTL),
		discount.WithCacheTimeout(cfg.Redis.Timeout),
		discount.WithCacheLogger(lg.Named("rule_cache")),
		discount.WithCacheMeterProvider(m.MeterProvider()),
	)
	categories := discount.CategorySourceFunc(func(ctx context.Context) (discount.CategoryTree, error) {
		tree, err := catalogSvc.Tree(ctx)
		if err != nil {
			return nil, err
		}
		return tree, nil
	})
	engine := discount.NewEngine(rules, ruleCache, categories, applied,
		discount.WithLogger(lg.Named("discount")),
		discount.WithTracerProvider(m.TracerProvider()),
		discount.WithMeterProvider(m.MeterProvider()),
	)
	orderSvc := order.NewService(catalogSvc, users, orders, applied, engine,
		repository.NewTransactor(pool), lg.Named("order"))
	admin := discount.NewAdmin(rules, ruleCache, lg.Named("admin"))
	authenticator := auth.NewAuthenticator(apikeys, []byte(cfg.APIKeyPepper))

	// HTTP.
	h := handler.NewHandler(orderSvc, admin, authenticator)

	router := chi.NewRouter()
	router.Use(
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(router, "kart-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
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
