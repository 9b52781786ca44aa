package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hackgods/dental-patient-flow/internal/appointment"
	"github.com/hackgods/dental-patient-flow/internal/cli"
	"github.com/hackgods/dental-patient-flow/internal/config"
	"github.com/hackgods/dental-patient-flow/internal/db"
	"github.com/hackgods/dental-patient-flow/internal/logging"
	redisclient "github.com/hackgods/dental-patient-flow/internal/redis"
)

func main() {
	if err := cli.NewRootCommand(open).Execute(); err != nil {
		os.Exit(1)
	}
}

// open builds a Postgres backed service. Redis is used for the location lock
// and notifications when reachable, so a manual assign cannot race the API.
func open(ctx context.Context) (*cli.Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg, "clinicctl")

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	closers := []func(){pool.Close}
	opts := []appointment.Option{appointment.WithLogger(logger)}
	var locker redisclient.Locker

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unavailable, running without location lock", slog.Any("error", err))
	} else {
		closers = append(closers, func() { _ = rdb.Close() })
		locker = redisclient.NewRedisLocationLocker(rdb, cfg.LockTTL)
		opts = append(opts, appointment.WithNotifier(
			appointment.NewChannelNotifier(redisclient.NewPublisher(rdb), cfg.NotifyChannelPrefix),
		))
	}

	return &cli.Env{
		Service: appointment.NewService(appointment.NewPgRepository(pool), locker, cfg, opts...),
		Migrate: func(ctx context.Context) error { return db.Migrate(ctx, pool) },
		Close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}
