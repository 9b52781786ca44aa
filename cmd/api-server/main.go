package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/dental-patient-flow/internal/api"
	"github.com/hackgods/dental-patient-flow/internal/appointment"
	"github.com/hackgods/dental-patient-flow/internal/config"
	"github.com/hackgods/dental-patient-flow/internal/db"
	"github.com/hackgods/dental-patient-flow/internal/logging"
	redisclient "github.com/hackgods/dental-patient-flow/internal/redis"
	"github.com/hackgods/dental-patient-flow/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg, "api-server")
	slog.SetDefault(logger)
	logger.Info("api-server starting up", slog.String("http_port", cfg.HTTPPort), slog.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(rootCtx, telemetry.Config{
		ServiceName:  "api-server",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Error("telemetry setup error", slog.Any("error", err))
		os.Exit(1)
	}

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", slog.Any("error", err))
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		logger.Error("migration error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("connected to Postgres")

	opts := []appointment.Option{appointment.WithLogger(logger)}
	var locker redisclient.Locker
	var redisPing api.Pinger

	// Redis is optional: without it assignment relies on the database lock
	// and notifications are dropped.
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unavailable, running without location lock", slog.Any("error", err))
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", slog.Any("error", err))
			}
		}()
		locker = redisclient.NewRedisLocationLocker(rdb, cfg.LockTTL)
		redisPing = api.RedisPinger(rdb)
		opts = append(opts, appointment.WithNotifier(
			appointment.NewChannelNotifier(redisclient.NewPublisher(rdb), cfg.NotifyChannelPrefix),
		))
		logger.Info("connected to Redis")
	}

	svc := appointment.NewService(appointment.NewPgRepository(pgPool), locker, cfg, opts...)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Postgres: pgPool,
		Redis:    redisPing,
		Logger:   logger,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.Any("error", err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.Any("error", err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", slog.Any("error", err))
	}
}
