package ratebudget

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guildpulse/guildsync/internal/domain"
)

// WarningFunc is invoked once per window when usage first crosses the
// warning threshold. It runs outside the tracker's lock.
type WarningFunc func(status domain.RateLimitStatus)

// Tracker accounts for consumption of the upstream API's rolling points
// quota. It is the single shared mutable resource touched by every fetch
// attempt system-wide, so every method is safe for concurrent use.
//
// Background callers may only consume up to pointsMax minus the configured
// live-operations reserve; interactive (foreground) callers may consume into
// the reserve but never beyond pointsMax.
type Tracker struct {
	mu sync.Mutex

	cfg       domain.RateLimitConfig
	pointsMax int
	window    time.Duration

	pointsUsed int
	resetAt    time.Time
	lastCallAt time.Time
	warned     bool

	// override, when non-nil, takes precedence over the computed pause
	// state. Set by the operator; survives window resets until cleared.
	override *bool

	onWarning WarningFunc
	now       func() time.Time
	logger    *zap.Logger
}

// New constructs a Tracker with an empty window starting now.
func New(pointsMax int, window time.Duration, cfg domain.RateLimitConfig, logger *zap.Logger) *Tracker {
	t := &Tracker{
		cfg:       cfg,
		pointsMax: pointsMax,
		window:    window,
		now:       time.Now,
		logger:    logger,
	}
	t.resetAt = t.now().Add(window)
	return t
}

// OnWarning registers the warning-threshold callback. Call before Run.
func (t *Tracker) OnWarning(fn WarningFunc) { t.onWarning = fn }

// Reserve attempts to consume cost points. It returns false, performing no
// mutation, when the caller's cap would be exceeded. Interactive callers are
// capped at pointsMax; background callers additionally leave the live
// reserve untouched unless the operator has forced a resume.
func (t *Tracker) Reserve(cost int, interactive bool) bool {
	t.mu.Lock()

	limit := t.pointsMax
	if !interactive && !t.forcedResumedLocked() {
		reserve := int(float64(t.pointsMax) * t.cfg.LiveOperationsReserve / 100.0)
		limit = t.pointsMax - reserve
	}

	if t.pointsUsed+cost > limit {
		t.mu.Unlock()
		return false
	}

	t.pointsUsed += cost
	t.lastCallAt = t.now()

	var warn *domain.RateLimitStatus
	if !t.warned && t.percentUsedLocked() >= t.cfg.WarningThreshold {
		t.warned = true
		st := t.statusLocked()
		warn = &st
	}
	t.mu.Unlock()

	if warn != nil && t.onWarning != nil {
		t.onWarning(*warn)
	}
	return true
}

// Release returns points from a reservation whose work never ran, so a lost
// dequeue race does not leak budget. Never drops usage below zero: the
// window may have reset since the points were taken.
func (t *Tracker) Release(cost int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pointsUsed -= cost
	if t.pointsUsed < 0 {
		t.pointsUsed = 0
	}
}

// ResetWindow zeroes usage and starts a new window. Invoked by the Run timer
// aligned to the upstream quota's reset cadence, and directly by tests.
func (t *Tracker) ResetWindow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pointsUsed = 0
	t.warned = false
	t.resetAt = t.now().Add(t.window)
}

// Paused reports whether background consumption should halt. The operator
// override wins; otherwise the pause state is computed from usage.
func (t *Tracker) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pausedLocked()
}

// SetPauseOverride forces the pause state regardless of usage.
func (t *Tracker) SetPauseOverride(paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.override = &paused
}

// ClearPauseOverride returns control to the computed pause state.
func (t *Tracker) ClearPauseOverride() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.override = nil
}

// Status returns a consistent snapshot of the current window.
func (t *Tracker) Status() domain.RateLimitStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

// Config returns the static budget policy.
func (t *Tracker) Config() domain.RateLimitConfig { return t.cfg }

// Run resets the window on its cadence until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.window)
	defer ticker.Stop()

	t.logger.Info("rate budget tracker started",
		zap.Int("points_max", t.pointsMax),
		zap.Duration("window", t.window))

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("rate budget tracker stopping")
			return
		case <-ticker.C:
			t.ResetWindow()
			t.logger.Info("rate budget window reset")
		}
	}
}

// ---- locked helpers ----

func (t *Tracker) percentUsedLocked() float64 {
	if t.pointsMax == 0 {
		return 0
	}
	return float64(t.pointsUsed) / float64(t.pointsMax) * 100.0
}

func (t *Tracker) pausedLocked() bool {
	if t.override != nil {
		return *t.override
	}
	return t.percentUsedLocked() >= t.cfg.PauseThreshold
}

func (t *Tracker) forcedResumedLocked() bool {
	return t.override != nil && !*t.override
}

func (t *Tracker) statusLocked() domain.RateLimitStatus {
	resetIn := int(t.resetAt.Sub(t.now()).Seconds())
	if resetIn < 0 {
		resetIn = 0
	}
	return domain.RateLimitStatus{
		PointsUsed:      t.pointsUsed,
		PointsMax:       t.pointsMax,
		PointsRemaining: t.pointsMax - t.pointsUsed,
		PercentUsed:     t.percentUsedLocked(),
		ResetAt:         t.resetAt,
		ResetInSeconds:  resetIn,
		IsPaused:        t.pausedLocked(),
	}
}
