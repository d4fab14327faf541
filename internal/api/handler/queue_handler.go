package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/guildpulse/guildsync/internal/api/middleware"
	"github.com/guildpulse/guildsync/internal/domain"
	"github.com/guildpulse/guildsync/internal/processor"
	"github.com/guildpulse/guildsync/internal/repository"
)

// QueueHandler exposes queue reads and operator mutations. Mutations are
// conditional single-row updates in the repository, so they serialize with
// the processor's in-flight transitions per item rather than globally.
type QueueHandler struct {
	repo   repository.QueueRepository
	proc   *processor.Processor
	logger *zap.Logger
}

func NewQueueHandler(repo repository.QueueRepository, proc *processor.Processor, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{repo: repo, proc: proc, logger: logger}
}

// Stats handles GET /api/v1/queue/stats
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		h.logger.Error("queue stats failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"processor": h.proc.Status(),
		"queue":     stats,
	})
}

// List handles GET /api/v1/queue/items
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		mapError(w, err)
		return
	}
	items, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// ListErrors handles GET /api/v1/queue/errors — items carrying any error
// state, for operator triage.
func (h *QueueHandler) ListErrors(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		mapError(w, err)
		return
	}
	filter.OnlyError = true
	items, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// PauseGuild handles POST /api/v1/queue/guilds/{guildID}/pause.
// A pending item is paused directly; an in-flight fetch for the guild is
// cancelled and the processor parks the item as paused.
func (h *QueueHandler) PauseGuild(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	interrupted := h.proc.InterruptGuild(guildID)
	err := h.repo.Pause(r.Context(), guildID)
	if err != nil && !interrupted {
		mapError(w, err)
		return
	}
	h.logger.Info("operator paused guild", zap.String("guild_id", guildID))
	w.WriteHeader(http.StatusNoContent)
}

// ResumeGuild handles POST /api/v1/queue/guilds/{guildID}/resume
func (h *QueueHandler) ResumeGuild(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	if err := h.repo.Resume(r.Context(), guildID); err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("operator resumed guild", zap.String("guild_id", guildID))
	w.WriteHeader(http.StatusNoContent)
}

// RetryGuild handles POST /api/v1/queue/guilds/{guildID}/retry — the
// explicit operator override that clears error state, permanent or not.
func (h *QueueHandler) RetryGuild(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	if err := h.repo.Retry(r.Context(), guildID); err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("operator reset guild for retry", zap.String("guild_id", guildID))
	w.WriteHeader(http.StatusNoContent)
}

// RemoveGuild handles DELETE /api/v1/queue/guilds/{guildID}
func (h *QueueHandler) RemoveGuild(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	if err := h.repo.Remove(r.Context(), guildID); err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("operator removed guild items", zap.String("guild_id", guildID))
	w.WriteHeader(http.StatusNoContent)
}

// ClearCompleted handles POST /api/v1/queue/completed/clear
func (h *QueueHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	count, err := h.repo.ClearCompleted(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"cleared": count})
}

// ResetFailed handles POST /api/v1/queue/failed/reset
func (h *QueueHandler) ResetFailed(w http.ResponseWriter, r *http.Request) {
	count, err := h.repo.ResetAllFailed(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("operator reset all failed items", zap.Int("count", count))
	respondJSON(w, http.StatusOK, map[string]int{"reset": count})
}

// RemoveFailed handles DELETE /api/v1/queue/failed
func (h *QueueHandler) RemoveFailed(w http.ResponseWriter, r *http.Request) {
	count, err := h.repo.RemoveAllFailed(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("operator removed all failed items", zap.Int("count", count))
	respondJSON(w, http.StatusOK, map[string]int{"removed": count})
}

// PauseProcessor handles PUT /api/v1/processor/pause
func (h *QueueHandler) PauseProcessor(w http.ResponseWriter, r *http.Request) {
	h.proc.Pause()
	h.logger.Info("operator paused processor")
	respondJSON(w, http.StatusOK, h.proc.Status())
}

// ResumeProcessor handles PUT /api/v1/processor/resume
func (h *QueueHandler) ResumeProcessor(w http.ResponseWriter, r *http.Request) {
	h.proc.Resume()
	h.logger.Info("operator resumed processor")
	respondJSON(w, http.StatusOK, h.proc.Status())
}

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		if !st.IsValid() {
			return filter, domain.ErrInvalidStatus
		}
		filter.Status = &st
	}
	return filter, nil
}
