package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guildpulse/guildsync/internal/classify"
	"github.com/guildpulse/guildsync/internal/domain"
	"github.com/guildpulse/guildsync/internal/ratebudget"
	"github.com/guildpulse/guildsync/internal/repository"
	"github.com/guildpulse/guildsync/internal/updater"
)

// interruptReason records why an in-flight fetch was cancelled so the item
// can be resolved to the right state afterwards.
type interruptReason int

const (
	interruptNone interruptReason = iota
	interruptGlobalPause
	interruptGuildPause
)

// Config holds the processor's tuning knobs.
type Config struct {
	// FetchTimeout bounds the wall clock of a single fetch attempt.
	FetchTimeout time.Duration
	// IdleWait is how long the loop sleeps when paused, budget-blocked, or
	// the queue is empty.
	IdleWait time.Duration
	// MaxAttempts bounds automatic retries per item before it is marked
	// failed and surfaced to the operator.
	MaxAttempts int
	// Backoff is the retry delay schedule; attempts past the end reuse the
	// last entry.
	Backoff []time.Duration
	// JobCosts maps each job type to its estimated points cost per attempt.
	JobCosts map[domain.JobType]int
}

// MetricHooks carries the metric callback functions injected by main.
type MetricHooks struct {
	OnCompleted func(jobType domain.JobType, latency time.Duration)
	OnFailed    func(errType domain.ErrorType)
}

// Processor is the single active execution loop. It pulls the highest
// priority eligible item while the rate budget allows, runs the fetch with
// incremental progress checkpoints, and resolves terminal state. Exactly one
// Processor runs per process; operator "trigger" actions enqueue jobs rather
// than bypassing it.
type Processor struct {
	cfg     Config
	repo    repository.QueueRepository
	upd     updater.GuildUpdater
	tracker *ratebudget.Tracker
	logger  *zap.Logger
	hooks   MetricHooks

	// onCompleted is the scheduler hook that chains dependent recomputation
	// after ranking-affecting jobs.
	onCompleted func(jobType domain.JobType)

	mu             sync.Mutex
	running        bool
	paused         bool
	currentGuild   string
	currentGuildID string
	currentID      string
	cancelFetch    context.CancelFunc
	interrupt      interruptReason
}

func New(
	cfg Config,
	repo repository.QueueRepository,
	upd updater.GuildUpdater,
	tracker *ratebudget.Tracker,
	logger *zap.Logger,
	hooks MetricHooks,
) *Processor {
	if hooks.OnCompleted == nil {
		hooks.OnCompleted = func(domain.JobType, time.Duration) {}
	}
	if hooks.OnFailed == nil {
		hooks.OnFailed = func(domain.ErrorType) {}
	}
	return &Processor{
		cfg:         cfg,
		repo:        repo,
		upd:         upd,
		tracker:     tracker,
		logger:      logger,
		hooks:       hooks,
		onCompleted: func(domain.JobType) {},
	}
}

// OnCompleted registers the scheduler's dependent-recompute hook.
// Call before Run.
func (p *Processor) OnCompleted(fn func(jobType domain.JobType)) {
	if fn != nil {
		p.onCompleted = fn
	}
}

// Status returns the processor's operator-facing state.
func (p *Processor) Status() domain.ProcessorStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.ProcessorStatus{
		IsRunning:    p.running,
		IsPaused:     p.paused,
		CurrentGuild: p.currentGuild,
	}
}

// Pause halts the loop before its next dequeue and cancels any in-flight
// fetch. The interrupted item returns to pending with its progress intact.
func (p *Processor) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	if p.cancelFetch != nil {
		p.interrupt = interruptGlobalPause
		p.cancelFetch()
	}
}

// Resume lets the loop dequeue again.
func (p *Processor) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

// InterruptGuild cancels the in-flight fetch if it belongs to guildID. The
// item is marked paused rather than returned to pending. Reports whether an
// in-flight fetch was actually interrupted.
func (p *Processor) InterruptGuild(guildID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelFetch == nil || p.currentID == "" || p.currentGuildID != guildID {
		return false
	}
	p.interrupt = interruptGuildPause
	p.cancelFetch()
	return true
}

// Run executes the loop until ctx is cancelled. It first requeues any
// in_progress orphans left behind by a previous process.
func (p *Processor) Run(ctx context.Context) {
	p.setRunning(true)
	defer p.setRunning(false)

	if n, err := p.repo.RequeueOrphaned(ctx); err != nil {
		p.logger.Error("failed to requeue orphaned items", zap.Error(err))
	} else if n > 0 {
		p.logger.Info("requeued orphaned items from previous run", zap.Int("count", n))
	}

	p.logger.Info("processor started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("processor stopping")
			return
		default:
		}

		if p.isPaused() || p.tracker.Paused() {
			p.sleep(ctx)
			continue
		}

		item, err := p.repo.NextEligible(ctx)
		if err != nil {
			p.logger.Error("failed to select next item", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if item == nil {
			p.sleep(ctx)
			continue
		}

		if !p.tracker.Reserve(p.costFor(item.JobType), false) {
			// Budget gate: leave the item pending and wait for the window
			// to reset or an operator override.
			p.sleep(ctx)
			continue
		}

		p.runItem(ctx, item)
	}
}

// runItem performs one fetch attempt and resolves the item's state. A single
// item's failure never escapes this method; the loop always continues.
func (p *Processor) runItem(ctx context.Context, item *domain.QueueItem) {
	log := p.logger.With(
		zap.String("item_id", item.ID),
		zap.String("guild_id", item.GuildID),
		zap.String("guild", item.GuildName),
		zap.String("job_type", string(item.JobType)),
	)

	if err := p.repo.MarkInProgress(ctx, item.ID); err != nil {
		// Lost a race with an operator action; return the reserved points
		// since no fetch will run, and pick another item.
		p.tracker.Release(p.costFor(item.JobType))
		log.Debug("item no longer pending", zap.Error(err))
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	p.setCurrent(item, cancel)

	start := time.Now()
	stats, err := p.upd.FetchAndPersist(fetchCtx, item.GuildID, item.JobType, func(progress domain.Progress) {
		if perr := p.repo.RecordProgress(ctx, item.ID, progress); perr != nil {
			log.Warn("failed to record progress", zap.Error(perr))
		}
	})
	elapsed := time.Since(start)
	reason := p.clearCurrent()
	cancel()

	if err != nil {
		p.resolveFailure(ctx, item, err, reason, log)
		return
	}

	if err := p.repo.MarkCompleted(ctx, item.ID); err != nil {
		log.Error("failed to mark completed", zap.Error(err))
		return
	}
	p.hooks.OnCompleted(item.JobType, elapsed)
	log.Info("job completed",
		zap.Int("reports_fetched", stats.ReportsFetched),
		zap.Int("fights_saved", stats.FightsSaved),
		zap.Duration("latency", elapsed))

	if item.JobType.AffectsRankings() {
		p.onCompleted(item.JobType)
	}
}

// resolveFailure classifies the error and either pauses, retries with
// backoff, or marks the item failed.
func (p *Processor) resolveFailure(ctx context.Context, item *domain.QueueItem, fetchErr error, reason interruptReason, log *zap.Logger) {
	// Operator interruptions are not failures.
	if errors.Is(fetchErr, context.Canceled) {
		switch reason {
		case interruptGuildPause:
			log.Info("fetch interrupted by per-guild pause")
			if err := p.repo.PauseItem(ctx, item.ID); err != nil {
				log.Error("failed to pause interrupted item", zap.Error(err))
			}
		default:
			log.Info("fetch interrupted by processor pause")
			if err := p.repo.ReturnToPending(ctx, item.ID); err != nil {
				log.Error("failed to return interrupted item to pending", zap.Error(err))
			}
		}
		return
	}

	c := classify.Classify(fetchErr)
	attempts := item.ErrorCount + 1
	log = log.With(
		zap.String("error_type", string(c.Type)),
		zap.Int("attempts", attempts),
		zap.Error(fetchErr),
	)
	p.hooks.OnFailed(c.Type)

	if c.Permanent {
		log.Warn("permanent failure: item excluded from automatic retry")
		if err := p.repo.MarkFailed(ctx, item.ID, c.Type, true, permanentReason(c.Type), fetchErr.Error()); err != nil {
			log.Error("failed to mark permanent failure", zap.Error(err))
		}
		return
	}

	if attempts >= p.cfg.MaxAttempts {
		log.Warn("retries exhausted: item marked failed")
		why := fmt.Sprintf("%d consecutive %s failures", attempts, c.Type)
		if err := p.repo.MarkFailed(ctx, item.ID, c.Type, false, why, fetchErr.Error()); err != nil {
			log.Error("failed to mark failed", zap.Error(err))
		}
		return
	}

	nextRetry := p.nextRetryAt(c, attempts)
	log.Warn("transient failure: retry scheduled", zap.Time("next_retry_at", nextRetry))
	if err := p.repo.ScheduleRetry(ctx, item.ID, attempts, c.Type, nextRetry, fetchErr.Error()); err != nil {
		log.Error("failed to schedule retry", zap.Error(err))
	}
}

// nextRetryAt picks the retry time per the classification's backoff policy.
// rate_limited waits for the budget window reset; everything else walks the
// configured backoff schedule, clamped at the last entry.
func (p *Processor) nextRetryAt(c classify.Classification, attempts int) time.Time {
	if c.Backoff == classify.BackoffWindowReset {
		return p.tracker.Status().ResetAt
	}
	idx := attempts - 1
	if idx >= len(p.cfg.Backoff) {
		idx = len(p.cfg.Backoff) - 1
	}
	return time.Now().UTC().Add(p.cfg.Backoff[idx])
}

func permanentReason(t domain.ErrorType) string {
	if t == domain.ErrTypeGuildNotFound {
		return "guild no longer exists upstream"
	}
	return "permanent error"
}

func (p *Processor) costFor(jobType domain.JobType) int {
	if cost, ok := p.cfg.JobCosts[jobType]; ok {
		return cost
	}
	return 1
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.IdleWait):
	}
}

// ---- locked state helpers ----

func (p *Processor) setRunning(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = v
}

func (p *Processor) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Processor) setCurrent(item *domain.QueueItem, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentGuild = item.GuildName
	p.currentGuildID = item.GuildID
	p.currentID = item.ID
	p.cancelFetch = cancel
	p.interrupt = interruptNone
}

func (p *Processor) clearCurrent() interruptReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	reason := p.interrupt
	p.currentGuild = ""
	p.currentGuildID = ""
	p.currentID = ""
	p.cancelFetch = nil
	p.interrupt = interruptNone
	return reason
}
