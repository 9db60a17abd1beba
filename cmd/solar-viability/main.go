package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	httpapi "github.com/i474232898/solar-viability/internal/api/http"
	"github.com/i474232898/solar-viability/internal/cache"
	"github.com/i474232898/solar-viability/internal/config"
	"github.com/i474232898/solar-viability/internal/logging"
	"github.com/i474232898/solar-viability/internal/scheduler"
	"github.com/i474232898/solar-viability/internal/solar"
	"github.com/i474232898/solar-viability/internal/solar/providers"
	"github.com/i474232898/solar-viability/internal/store"
)

const serviceName = "solar-viability"

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	responseCache := openCache(ctx, cfg)
	records, closeStore := openStore(ctx, cfg)
	defer closeStore()

	// Providers with resilience (backoff + circuit breaker).
	footprints := solar.NewFootprintResolver(
		providers.NewOverpassProvider(httpClient, cfg.OverpassURL),
		responseCache, cfg.FootprintRadiusM, cfg.FootprintTimeout,
	)

	var primary, secondary solar.IrradiationProvider
	pvgis := providers.NewPVGISProvider(httpClient, cfg.PVGISURL)
	if cfg.GoogleSolarAPIKey != "" {
		primary = providers.NewGoogleSolarProvider(httpClient, cfg.GoogleSolarURL, cfg.GoogleSolarAPIKey)
		secondary = pvgis
	} else {
		logging.Warn().Msg("GOOGLE_SOLAR_API_KEY not set; PVGIS is the only irradiation source")
		primary = pvgis
	}
	irradiation := solar.NewIrradiationResolver(primary, secondary, responseCache, cfg.IrradiationTimeout)

	var opts []solar.Option
	if cfg.GeocoderAPIKey != "" {
		opts = append(opts, solar.WithGeocoder(providers.NewGoogleGeocoder(cfg.GeocoderAPIKey)))
	}

	// Core service orchestrating resolvers, fusion and the store.
	service := solar.NewService(records, footprints, irradiation, solar.NewEngine(cfg.Fusion), opts...)

	// Scheduler that periodically re-analyzes tracked sites.
	sched := scheduler.New(cfg.TrackedSites, cfg.ReanalyzeInterval, cfg.FootprintTimeout+cfg.IrradiationTimeout, service)
	if err := sched.Start(); err != nil {
		logging.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	app := httpapi.NewApp(serviceName)

	// Global middleware
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterOps(app, serviceName)
	httpapi.RegisterRoutes(app, service)

	go func() {
		logging.Info().Str("port", cfg.Port).Msg("http server listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			logging.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("error during shutdown")
	}
}

// openCache prefers Redis and falls back to an in-process cache when Redis
// is not configured or unreachable.
func openCache(ctx context.Context, cfg *config.AppConfig) solar.Cache {
	if client := cache.OpenRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB); client != nil {
		rc := cache.NewRedisCache(client, serviceName+":", cfg.CacheTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err := rc.Ping(pingCtx)
		if err == nil {
			logging.Info().Str("addr", cfg.RedisAddr).Msg("using redis response cache")
			return rc
		}
		logging.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, using memory cache")
		_ = rc.Close()
	}
	return cache.NewMemoryCache(cfg.CacheTTL, cfg.CacheMaxEntries)
}

func openStore(ctx context.Context, cfg *config.AppConfig) (solar.Store, func()) {
	if cfg.StoreBackend != "postgres" {
		return store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge), func() {}
	}

	db, err := store.OpenPostgres(store.BuildPostgresDSNFromEnv(), store.MaxOpenFromEnv())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open postgres")
	}
	pg := store.NewPostgresStore(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to ensure schema")
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing postgres")
		}
	}
}
