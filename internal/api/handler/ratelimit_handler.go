package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/guildpulse/guildsync/internal/ratebudget"
)

// RateLimitHandler exposes the rate budget to the operator dashboard.
type RateLimitHandler struct {
	tracker *ratebudget.Tracker
	logger  *zap.Logger
}

func NewRateLimitHandler(tracker *ratebudget.Tracker, logger *zap.Logger) *RateLimitHandler {
	return &RateLimitHandler{tracker: tracker, logger: logger}
}

// Get handles GET /api/v1/rate-limit
func (h *RateLimitHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": h.tracker.Status(),
		"config": h.tracker.Config(),
	})
}

// Pause handles PUT /api/v1/rate-limit/pause — forces the pause state on
// regardless of current usage.
func (h *RateLimitHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.tracker.SetPauseOverride(true)
	h.logger.Info("operator paused rate limiting")
	respondJSON(w, http.StatusOK, h.tracker.Status())
}

// Resume handles PUT /api/v1/rate-limit/resume — forces consumption open
// even past the pause threshold, up to the hard points maximum.
func (h *RateLimitHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.tracker.SetPauseOverride(false)
	h.logger.Info("operator resumed rate limiting")
	respondJSON(w, http.StatusOK, h.tracker.Status())
}

// ClearOverride handles DELETE /api/v1/rate-limit/override — returns pause
// control to the computed threshold.
func (h *RateLimitHandler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	h.tracker.ClearPauseOverride()
	h.logger.Info("operator cleared rate limit override")
	respondJSON(w, http.StatusOK, h.tracker.Status())
}
