package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/guildpulse/guildsync/internal/api/handler"
	apimw "github.com/guildpulse/guildsync/internal/api/middleware"
	"github.com/guildpulse/guildsync/internal/processor"
	"github.com/guildpulse/guildsync/internal/ratebudget"
	"github.com/guildpulse/guildsync/internal/repository"
	"github.com/guildpulse/guildsync/internal/scheduler"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	repo repository.QueueRepository,
	proc *processor.Processor,
	tracker *ratebudget.Tracker,
	sched *scheduler.Scheduler,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	qh := handler.NewQueueHandler(repo, proc, logger)
	rh := handler.NewRateLimitHandler(tracker, logger)
	sh := handler.NewSchedulerHandler(sched, logger)
	mh := handler.NewMetricsHandler(repo, tracker)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Queue — note: literal segments (stats, errors, completed, failed)
		// live under fixed prefixes so chi never confuses them with IDs.
		r.Get("/queue/stats", qh.Stats)
		r.Get("/queue/items", qh.List)
		r.Get("/queue/errors", qh.ListErrors)
		r.Post("/queue/guilds/{guildID}/pause", qh.PauseGuild)
		r.Post("/queue/guilds/{guildID}/resume", qh.ResumeGuild)
		r.Post("/queue/guilds/{guildID}/retry", qh.RetryGuild)
		r.Delete("/queue/guilds/{guildID}", qh.RemoveGuild)
		r.Post("/queue/completed/clear", qh.ClearCompleted)
		r.Post("/queue/failed/reset", qh.ResetFailed)
		r.Delete("/queue/failed", qh.RemoveFailed)

		// Processor
		r.Put("/processor/pause", qh.PauseProcessor)
		r.Put("/processor/resume", qh.ResumeProcessor)

		// Rate budget
		r.Get("/rate-limit", rh.Get)
		r.Put("/rate-limit/pause", rh.Pause)
		r.Put("/rate-limit/resume", rh.Resume)
		r.Delete("/rate-limit/override", rh.ClearOverride)

		// Scheduler
		r.Get("/scheduler/passes", sh.ListPasses)
		r.Post("/scheduler/passes/{name}/trigger", sh.Trigger)

		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}
