package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/guildpulse/guildsync/internal/scheduler"
)

// SchedulerHandler exposes manual triggering of scheduler passes.
type SchedulerHandler struct {
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

func NewSchedulerHandler(sched *scheduler.Scheduler, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{sched: sched, logger: logger}
}

// ListPasses handles GET /api/v1/scheduler/passes
func (h *SchedulerHandler) ListPasses(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"passes": h.sched.PassNames()})
}

// Trigger handles POST /api/v1/scheduler/passes/{name}/trigger.
// Idempotent while the pass is in flight: a second trigger is a 409. The
// pass runs on the scheduler's own context; tying it to the request would
// cancel it as soon as the 202 goes out.
func (h *SchedulerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.sched.Trigger(name); err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("operator triggered pass", zap.String("pass", name))
	respondJSON(w, http.StatusAccepted, map[string]string{"pass": name, "status": "started"})
}
