package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"rates-engine/internal/adapter/cache"
	"rates-engine/internal/adapter/events"
	httpRouter "rates-engine/internal/adapter/http"
	"rates-engine/internal/adapter/provider"
	"rates-engine/internal/adapter/storage/postgres"
	"rates-engine/internal/config"
	"rates-engine/internal/domain/model"
	"rates-engine/internal/domain/ports"
	"rates-engine/internal/engine"
	"rates-engine/internal/metrics"
	"rates-engine/internal/registry"
	"rates-engine/internal/service"
	"rates-engine/pkg/logger"
)

// purger drops expired entries from stores that do not expire them on
// their own.
type purger func(ctx context.Context) error

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewLogger("info").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	log.Info("Starting rates service", "store", cfg.Store.Backend, "pivot", cfg.Rates.Pivot)

	appMetrics := metrics.NewMetrics()

	var redisClient *redis.Client
	if cfg.Store.Backend == "redis" || cfg.Redis.Sources {
		redisClient, err = cache.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			log.Error("Failed to create redis client", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	store, purge, err := buildStore(cfg, redisClient, log)
	if err != nil {
		log.Error("Failed to open rate store", "error", err)
		os.Exit(1)
	}

	var closers []io.Closer
	if cfg.Kafka.Enabled {
		publishing := events.NewPublishingStore(store, events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), log)
		closers = append(closers, publishing)
		store = publishing
		log.Info("Publishing stored rates", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	}

	var sources ports.SourceLookup = config.NewStaticSources(cfg.Sources, cfg.Currencies)
	if cfg.Redis.Sources {
		sources = cache.NewRedisSources(redisClient, log)
	}

	providers := registry.New(sources, log, registry.WithMetrics(appMetrics))
	providers.Register(provider.NewCurrencylayer(clientConfig(cfg.Providers.Currencylayer), cfg.Providers.Currencylayer.Timeframe, log))
	providers.Register(provider.NewCoinlayer(clientConfig(cfg.Providers.Coinlayer), cfg.Providers.Coinlayer.Timeframe, log))
	if len(cfg.Providers.Static) > 0 {
		providers.Register(provider.NewStatic(provider.StaticID, cfg.Providers.Static))
	}

	rateEngine := engine.New(store, providers, log,
		engine.WithPivot(model.Currency(cfg.Rates.Pivot)),
		engine.WithLiveTTL(cfg.Rates.LiveTTL),
		engine.WithMetrics(appMetrics),
	)

	warmMarkets, err := parseMarkets(cfg.Rates.WarmMarkets)
	if err != nil {
		log.Error("Invalid warm markets", "error", err)
		os.Exit(1)
	}

	exchangeService := service.NewExchangeService(rateEngine, sources, log).
		WithWarmMarkets(warmMarkets, cfg.Rates.LiveTTL)
	handler := httpRouter.NewHandler(exchangeService, log, appMetrics)

	router := httpRouter.NewRouter(handler, log, appMetrics)
	routes := router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      routes,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancelBackground := context.WithCancel(context.Background())
	go warmRates(ctx, exchangeService, cfg.Rates.WarmInterval, log)
	if purge != nil {
		go purgeExpired(ctx, purge, cfg.Store.PurgeInterval, log)
	}

	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	cancelBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Error("Failed to close", "error", err)
		}
	}

	log.Info("Server exited")
}

func buildStore(cfg *config.Config, redisClient *redis.Client, log *logger.Logger) (ports.RateStore, purger, error) {
	switch cfg.Store.Backend {
	case "redis":
		return cache.NewRedisStore(redisClient, cfg.Redis.Prefix, log), nil, nil
	case "postgres":
		db, err := postgres.Open(cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewStore(db, log)
		return store, func(ctx context.Context) error {
			n, err := store.PurgeExpired(ctx)
			if err == nil && n > 0 {
				log.Info("Purged expired rates", "count", n)
			}
			return err
		}, nil
	default:
		store := cache.NewMemoryCache(log)
		return store, store.ClearExpired, nil
	}
}

func clientConfig(p config.ProviderConfig) provider.ClientConfig {
	return provider.ClientConfig{
		BaseURL:   p.BaseURL,
		AccessKey: p.AccessKey,
		Timeout:   p.Timeout,
		RetryMax:  p.RetryMax,
	}
}

func parseMarkets(ids []string) ([]model.Market, error) {
	markets := make([]model.Market, 0, len(ids))
	for _, id := range ids {
		m, err := model.MarketFromID(id)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// warmRates periodically resolves the warm markets so their live rates stay
// in the store.
func warmRates(ctx context.Context, service *service.ExchangeService, interval time.Duration, log *logger.Logger) {
	// Warm rates immediately at startup
	if err := service.WarmLiveRates(ctx); err != nil {
		log.Error("Failed to warm rates at startup", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := service.WarmLiveRates(ctx); err != nil {
				log.Error("Failed to warm rates", "error", err)
			}
		case <-ctx.Done():
			log.Info("Stopping rate warming goroutine")
			return
		}
	}
}

func purgeExpired(ctx context.Context, purge purger, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := purge(ctx); err != nil {
				log.Error("Failed to purge expired rates", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
