package handler

import (
	"net/http"

	"github.com/guildpulse/guildsync/internal/ratebudget"
	"github.com/guildpulse/guildsync/internal/repository"
)

// MetricsHandler serves a human-readable JSON snapshot for the dashboard.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp and are separate from this endpoint.
type MetricsHandler struct {
	repo    repository.QueueRepository
	tracker *ratebudget.Tracker
}

func NewMetricsHandler(repo repository.QueueRepository, tracker *ratebudget.Tracker) *MetricsHandler {
	return &MetricsHandler{repo: repo, tracker: tracker}
}

// GetMetrics handles GET /api/v1/metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"queue":      stats,
		"rate_limit": h.tracker.Status(),
	})
}
