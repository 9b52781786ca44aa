package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/dental-patient-flow/internal/appointment"
	"github.com/hackgods/dental-patient-flow/internal/config"
	"github.com/hackgods/dental-patient-flow/internal/db"
	"github.com/hackgods/dental-patient-flow/internal/logging"
	redisclient "github.com/hackgods/dental-patient-flow/internal/redis"
	"github.com/hackgods/dental-patient-flow/internal/telemetry"
)

// maxPerRun bounds one drain of a location so a misbehaving queue cannot
// keep the worker from the other locations.
const maxPerRun = 50

type assigner interface {
	AssignNextPatient(ctx context.Context, location string) (*appointment.QueueEntry, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg, "assign-worker")
	slog.SetDefault(logger)
	logger.Info("assign-worker starting up",
		slog.Duration("interval", cfg.WorkerInterval),
		slog.Any("locations", cfg.Locations),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(rootCtx, telemetry.Config{
		ServiceName:  "assign-worker",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Error("telemetry setup error", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", slog.Any("error", err))
		os.Exit(1)
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("redis connection error", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", slog.Any("error", err))
		}
	}()

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewRedisLocationLocker(rdb, cfg.LockTTL),
		cfg,
		appointment.WithLogger(logger),
		appointment.WithNotifier(appointment.NewChannelNotifier(redisclient.NewPublisher(rdb), cfg.NotifyChannelPrefix)),
	)

	// Run once at startup
	runOnce(rootCtx, svc, cfg.Locations, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping assign worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.Locations, logger)
		}
	}
}

func runOnce(ctx context.Context, svc assigner, locations []string, logger *slog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	total := 0
	for _, loc := range locations {
		total += drain(runCtx, svc, loc, logger)
	}
	logger.Info("assign run complete", slog.Int("assigned", total), slog.Duration("took", time.Since(start)))
}

// drain assigns patients at location until the engine reports nothing to do.
// A held location lock means another instance is already draining it.
func drain(ctx context.Context, svc assigner, location string, logger *slog.Logger) int {
	n := 0
	for n < maxPerRun {
		entry, err := svc.AssignNextPatient(ctx, location)
		if errors.Is(err, appointment.ErrAssignmentInProgress) {
			logger.Debug("location busy, skipping", slog.String("location", location))
			return n
		}
		if err != nil {
			logger.Error("assign error", slog.String("location", location), slog.Any("error", err))
			return n
		}
		if entry == nil {
			return n
		}
		n++
	}
	return n
}
