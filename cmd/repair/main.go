package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/metrics"
	"rollcall/internal/scheduler"
	"rollcall/internal/store"
)

// repair normalizes legacy attendance fields and, with -reset, clears the
// current period once. It is meant for maintenance windows and cron hosts
// that do not run the API.
func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup completes first.
func run() int {
	reset := flag.Bool("reset", false, "also clear attendance state for every student")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Error("store connect failed", slog.Any("error", err))
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = backend.Close(closeCtx)
	}()

	report, err := attendance.Repair(ctx, backend.Store, logger)
	if err != nil {
		logger.Error("repair failed", slog.Any("error", err))
		return 1
	}
	logger.Info("repair finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("repaired", report.Repaired),
		slog.Int("failed", len(report.Failed)))
	for _, f := range report.Failed {
		logger.Warn("student not repaired", slog.String("cedula", f.Cedula), slog.Any("error", f.Err))
	}

	if !*reset {
		return 0
	}

	var locker scheduler.Locker
	if cfg.RedisAddr != "" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		locker = redisClient
	}
	sched, err := scheduler.New(scheduler.Config{
		Store:    backend.Store,
		Calendar: cfg.Calendar(),
		Spec:     cfg.ResetSchedule,
		Timeout:  cfg.ResetTimeout,
		Locker:   locker,
		Logger:   logger,
		Metrics:  metrics.New(nil),
	})
	if err != nil {
		logger.Error("init scheduler", slog.Any("error", err))
		return 1
	}
	runCtx, cancel := context.WithTimeout(ctx, cfg.ResetTimeout)
	defer cancel()
	if _, err := sched.RunOnce(runCtx); err != nil {
		// The next scheduled reset is the recovery path.
		logger.Warn("reset incomplete", slog.Any("error", err))
	}
	return 0
}
