package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/auth"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/cache"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/config"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/gateway"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/httpapi"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/logging"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/notify"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/registry"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/routing"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/security"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/storage"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/telemetry"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "kanghoo-realtime")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	privateKey, err := auth.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil && cfg.JWTPrivateKey != "" {
		logger.Fatal("jwt private key", zap.Error(err))
	}
	publicKey, err := auth.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		logger.Fatal("jwt public key", zap.Error(err))
	}
	tokens := auth.NewTokenProvider(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, time.Hour)
	validator := auth.NewValidator(tokens, auth.ValidatorOptions{
		ExpiryWarnBuffer: cfg.ExpiryWarnBuffer(),
		UserRateLimit:    cfg.AuthUserRateLimit,
		RateWindow:       cfg.AuthWindow(),
	}, logger)

	reg := registry.New()
	governor := security.NewGovernor(security.Options{
		AllowedOrigins:      cfg.AllowedOrigins(),
		MaxConnectionsPerIP: cfg.WSMaxConnectionsPerIP,
		MaxMessagesPerIP:    cfg.WSMaxMessagesPerWindowIP,
		MaxMessagesPerUser:  cfg.WSMaxMessagesPerWindowUser,
		RateWindow:          cfg.RateWindow(),
		MaxPayloadBytes:     cfg.WSMaxPayloadBytes,
		DuplicateThreshold:  cfg.WSDuplicateThreshold,
		DuplicateWindow:     cfg.DuplicateWindow(),
		MaxViolations:       cfg.WSMaxViolations,
		BlacklistTTL:        cfg.BlacklistTTL(),
	}, logger)

	producer := telemetry.NewKafkaProducer(cfg.KafkaBrokerList(), cfg.TelemetryKafkaTopic, logger)
	if producer != nil {
		defer producer.Close()
	}

	gw := gateway.New(gateway.Options{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		MaxPayloadBytes:   cfg.WSMaxPayloadBytes,
	}, reg, governor, validator, producer, logger)

	var (
		pgStore  *storage.PostgresStore
		router   *notify.Router
		lister   httpapi.NotificationLister
		liveRead httpapi.LiveReader
	)

	var persister cache.Persister
	if cfg.DatabaseURL != "" {
		db, err := storage.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer db.Close()
		pgStore = storage.NewPostgresStore(db)
		persister = pgStore
		lister = pgStore
	} else {
		logger.Warn("DATABASE_URL unset, running without durable storage")
	}

	liveCache := cache.New(cache.Options{
		TTL:           cfg.CacheTimeout(),
		FlushBatch:    cfg.CacheFlushBatch,
		SweepInterval: cfg.CacheSweep(),
	}, persister, logger)
	liveCache.Start()
	defer liveCache.Stop()

	live := tracking.LiveStore(liveCache)
	if cfg.RedisAddr != "" {
		redisLive, err := storage.NewRedisLive(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTimeout(), logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer redisLive.Close()
		live = storage.FanoutLive{liveCache, redisLive}
		liveRead = redisLive
	}

	if pgStore != nil {
		router = notify.NewRouter(gw, pgStore, nil, pgStore, logger)
	} else {
		router = notify.NewRouter(gw, nil, nil, nil, logger)
	}
	gw.SetRouter(router)

	var estimator tracking.RouteEstimator
	if cfg.RoutingBaseURL != "" {
		estimator = routing.NewClient(cfg.RoutingBaseURL, cfg.RoutingAPIKey, cfg.RoutingRequestTimeout(), logger)
	}
	engine := tracking.NewEngine(tracking.Options{
		HistoryLimit: cfg.TrackingHistoryLimit,
		ETADelta:     cfg.ETADelta(),
		MaxSpeedKmh:  cfg.TrackingMaxSpeedKmh,
		MinSpeedKmh:  cfg.TrackingMinSpeedKmh,
	}, estimator, router, live, logger)

	api := httpapi.New(gw, reg, governor, validator, router, engine, liveCache, liveRead, lister, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	liveCache.Flush()
	time.Sleep(telemetry.ShutdownDrainDuration)
	logger.Info("stopped")
}
