package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"kasirpro/backend/internal/appointment"
	"kasirpro/backend/internal/cache"
	"kasirpro/backend/internal/cart"
	"kasirpro/backend/internal/catalog"
	"kasirpro/backend/internal/config"
	"kasirpro/backend/internal/httpapi"
	"kasirpro/backend/internal/logger"
	"kasirpro/backend/internal/metrics"
	"kasirpro/backend/internal/notify"
	"kasirpro/backend/internal/payment"
	"kasirpro/backend/internal/settlement"
	"kasirpro/backend/internal/stock"
	"kasirpro/backend/internal/store"
	"kasirpro/backend/internal/store/memory"
	pgstore "kasirpro/backend/internal/store/postgres"
)

const serviceName = "kasirpro-api"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})

	if err := validateSecurityConfig(cfg); err != nil {
		logg.Error(context.Background(), "invalid security configuration", err)
		os.Exit(1)
	}

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "server stopped with error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logg *logger.Logger) error {
	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		repo    store.Repository
		ready   func(ctx context.Context) error
		closers []func() error
	)

	if cfg.DB.URL != "" {
		pg, err := pgstore.New(bootCtx, cfg.DB.URL, pgstore.Pool{
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.DB.AutoMigrate {
			if err := pg.Migrate(bootCtx, "up"); err != nil {
				return err
			}
			logg.Info(bootCtx, "migrations applied")
		}
		repo = pg
		ready = pg.Ping
		logg.Info(bootCtx, "repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logg.Info(bootCtx, "repository: in-memory")
	}

	var rdb *redis.Client
	catalogCache := cache.CatalogCache(cache.NoopCatalogCache{})
	if cfg.Redis.Addr != "" {
		client := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		redisCache := cache.NewRedisCatalogCache(client)
		if err := redisCache.Ping(bootCtx); err != nil {
			logg.Warn(bootCtx, "redis unavailable, using noop cache", err)
			_ = client.Close()
		} else {
			rdb = client
			catalogCache = redisCache
			closers = append(closers, client.Close)
			logg.Info(bootCtx, "cache: redis")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	settlementMetrics := metrics.NewSettlement(registry)

	router := payment.NewRouter(
		repo,
		payment.GlobalCredentials(cfg),
		cfg.Gateway.Timeout,
		settlementMetrics,
		logg,
		payment.NewSquareGateway(logg),
		payment.NewMidtransGateway(cfg.Gateway.Timeout, logg),
	)

	ledger := stock.New(repo)
	carts := cart.New(repo, catalog.New(repo, catalogCache, cfg.Redis.CatalogCacheTTL, logg), ledger, settlementMetrics, logg)
	bridge := appointment.New(repo, carts, logg)

	var streamClient redis.Cmdable
	if rdb != nil {
		streamClient = rdb
	}
	channels, err := notify.ChannelsFromConfig(cfg.Notify, streamClient)
	if err != nil && !errors.Is(err, notify.ErrNoChannels) {
		logg.Warn(bootCtx, "some notification channels are disabled", err)
	}
	dispatcher := notify.NewDispatcher(
		cfg.Notify.Timeout,
		settlementMetrics,
		logg,
		notify.NewReceiptHandler(repo, cfg.Notify.StoreName, logg, channels...),
	)

	engine := settlement.New(repo, bridge, router, settlement.Options{
		CommitTimeout: cfg.DB.CommitTimeout,
		Publisher:     dispatcher,
		Metrics:       settlementMetrics,
		Logger:        logg,
	})

	auth := httpapi.NewAuthManager(bootCtx, cfg.Auth.Secret, cfg.Auth.AccessTokenTTL, cfg.App.DefaultStoreID, repo)
	api := httpapi.New(httpapi.Deps{
		Cart:          carts,
		Appointments:  bridge,
		Settlement:    engine,
		Stock:         ledger,
		Auth:          auth,
		Log:           logg,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Ready:         ready,
		AllowedOrigin: cfg.App.AllowedOrigin,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Gateway.Timeout + cfg.DB.CommitTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(context.Background(), "addr", cfg.Address()), "POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sig:
	case err := <-serveErr:
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("shutdown: %w", err))
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logg.Warn(shutdownCtx, "notifications still in flight at shutdown", err)
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			runErr = multierr.Append(runErr, fmt.Errorf("close: %w", err))
		}
	}

	logg.Info(context.Background(), "server stopped")
	return runErr
}

// validateSecurityConfig refuses to start with a weak signing secret or with
// a globally enabled gateway that has no credentials.
func validateSecurityConfig(cfg config.Config) error {
	var err error
	if len(cfg.Auth.Secret) < 32 {
		err = multierr.Append(err, errors.New("AUTH_SECRET must be set and at least 32 characters"))
	}
	if cfg.Gateway.GatewayEnabled(payment.GatewaySquare) {
		if cfg.Square.AccessToken == "" || cfg.Square.LocationID == "" {
			err = multierr.Append(err, errors.New("SQUARE_ACCESS_TOKEN and SQUARE_LOCATION_ID are required when square is enabled"))
		}
	}
	if cfg.Gateway.GatewayEnabled(payment.GatewayMidtrans) && cfg.Midtrans.ServerKey == "" {
		err = multierr.Append(err, errors.New("MIDTRANS_SERVER_KEY is required when midtrans is enabled"))
	}
	for _, name := range cfg.Gateway.Enabled {
		if name != payment.GatewaySquare && name != payment.GatewayMidtrans {
			err = multierr.Append(err, fmt.Errorf("GATEWAY_ENABLED lists unknown gateway %q", name))
		}
	}
	return err
}
