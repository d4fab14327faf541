package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/guildpulse/guildsync/internal/api"
	"github.com/guildpulse/guildsync/internal/config"
	"github.com/guildpulse/guildsync/internal/db"
	"github.com/guildpulse/guildsync/internal/domain"
	"github.com/guildpulse/guildsync/internal/metrics"
	"github.com/guildpulse/guildsync/internal/processor"
	"github.com/guildpulse/guildsync/internal/ratebudget"
	"github.com/guildpulse/guildsync/internal/repository"
	"github.com/guildpulse/guildsync/internal/scheduler"
	"github.com/guildpulse/guildsync/internal/updater"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	queueRepo := repository.NewPgQueueRepository(pool)
	guildRepo := repository.NewPgGuildRepository(pool)
	tracker := ratebudget.New(cfg.PointsMax, cfg.RateWindow, cfg.RateLimits, logger)
	tracker.OnWarning(func(st domain.RateLimitStatus) {
		logger.Warn("rate budget warning threshold crossed",
			zap.Int("points_used", st.PointsUsed),
			zap.Int("points_max", st.PointsMax),
			zap.Float64("percent_used", st.PercentUsed))
	})
	client := updater.NewClient(cfg.UpdaterBaseURL, cfg.UpdaterTimeout, cfg.UpdaterRPS)

	onCompleted, onFailed := m.ProcessorHooks()
	proc := processor.New(processor.Config{
		FetchTimeout: cfg.UpdaterTimeout,
		IdleWait:     cfg.ProcessorIdleWait,
		MaxAttempts:  cfg.MaxAttempts,
		Backoff:      cfg.RetryBackoff,
		JobCosts:     cfg.JobCosts,
	}, queueRepo, client, tracker, logger, processor.MetricHooks{
		OnCompleted: onCompleted,
		OnFailed:    onFailed,
	})

	sched, err := scheduler.New(scheduler.Config{
		Tick:                  cfg.SchedulerTick,
		Timezone:              cfg.Timezone,
		HotHoursStart:         cfg.HotHoursStart,
		HotHoursEnd:           cfg.HotHoursEnd,
		RaidingPollHot:        cfg.RaidingPollHot,
		RaidingPollOff:        cfg.RaidingPollOff,
		ActivePollHot:         cfg.ActivePollHot,
		ActivePollOff:         cfg.ActivePollOff,
		InactivePollSpec:      cfg.InactivePollSpec,
		WorldRanksSpec:        cfg.WorldRanksSpec,
		CrestsSpec:            cfg.CrestsSpec,
		ReportVerifySpec:      cfg.ReportVerifySpec,
		CharacterRankingsSpec: cfg.CharacterRankingsSpec,
		TierListsSpec:         cfg.TierListsSpec,
		RaidAnalyticsSpec:     cfg.RaidAnalyticsSpec,
		ReportVerifyWindow:    cfg.ReportVerifyWindow,
	}, guildRepo, queueRepo, client, client, logger)
	if err != nil {
		logger.Fatal("failed to build scheduler", zap.Error(err))
	}

	// Completed ranking jobs trigger the dependent analytics pass.
	proc.OnCompleted(sched.NotifyCompleted)

	// ---- background loops ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	done := make(chan struct{})
	go func() {
		defer close(done)
		proc.Run(workerCtx)
	}()
	go tracker.Run(workerCtx)
	go sched.Run(workerCtx)
	go m.PollGauges(workerCtx, cfg.GaugePollInterval, queueRepo, tracker)

	// ---- HTTP server ----
	router := api.NewRouter(queueRepo, proc, tracker, sched, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal the processor, tracker, and scheduler to stop. The processor
	//    returns its in-flight item to pending before exiting.
	cancelWorkers()
	<-done
	sched.Wait()

	logger.Info("server stopped cleanly")
}
