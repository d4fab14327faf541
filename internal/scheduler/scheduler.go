package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/guildpulse/guildsync/internal/domain"
	"github.com/guildpulse/guildsync/internal/repository"
	"github.com/guildpulse/guildsync/internal/updater"
)

// Pass names, exposed for the manual trigger endpoint.
const (
	PassPollRaiding       = "poll_raiding"
	PassPollActive        = "poll_active"
	PassPollInactive      = "poll_inactive"
	PassWorldRanks        = "world_ranks"
	PassCrests            = "crests"
	PassReportVerify      = "report_verify"
	PassCharacterRankings = "character_rankings"
	PassTierLists         = "tier_lists"
	PassRaidAnalytics     = "raid_analytics"
)

// Config holds all scheduling policy. Times of day are cron specs evaluated
// in Timezone; the daily maintenance specs must be ordered so each pass runs
// after the passes it depends on (tier lists after world ranks, analytics
// last).
type Config struct {
	Tick time.Duration

	Timezone      string
	HotHoursStart int
	HotHoursEnd   int

	RaidingPollHot time.Duration
	RaidingPollOff time.Duration
	ActivePollHot  time.Duration
	ActivePollOff  time.Duration

	InactivePollSpec      string
	WorldRanksSpec        string
	CrestsSpec            string
	ReportVerifySpec      string
	CharacterRankingsSpec string
	TierListsSpec         string
	RaidAnalyticsSpec     string

	ReportVerifyWindow time.Duration
}

// pass is one named unit of scheduled work. Exactly one of schedule or
// interval is set. inFlight is the re-entrancy guard: a pass never starts
// while a previous run of the same pass is still executing.
type pass struct {
	name     string
	run      func(ctx context.Context) error
	schedule cron.Schedule                     // calendar passes
	interval func(now time.Time) time.Duration // polling passes
	next     time.Time
	lastRun  time.Time
	inFlight atomic.Bool
}

// Scheduler is the time-driven producer. One loop evaluates which passes are
// due against their last-run timestamps, so no two timers ever race on the
// same guild set. It enqueues queue items and invokes bulk collaborators; it
// never executes fetches itself.
type Scheduler struct {
	cfg    Config
	loc    *time.Location
	guilds repository.GuildRepository
	queue  repository.QueueRepository
	maint  updater.MaintenanceAPI
	recalc updater.Recalculator
	logger *zap.Logger

	now func() time.Time

	mu sync.Mutex
	// runCtx bounds pass execution. Run replaces it with its own context so
	// passes stop on shutdown; a manual trigger must not inherit the HTTP
	// request's lifetime, which ends the moment the handler responds.
	runCtx context.Context
	passes []*pass
	byName map[string]*pass
	wg     sync.WaitGroup
}

func New(
	cfg Config,
	guilds repository.GuildRepository,
	queue repository.QueueRepository,
	maint updater.MaintenanceAPI,
	recalc updater.Recalculator,
	logger *zap.Logger,
) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	s := &Scheduler{
		cfg:    cfg,
		loc:    loc,
		guilds: guilds,
		queue:  queue,
		maint:  maint,
		recalc: recalc,
		logger: logger,
		now:    time.Now,
		runCtx: context.Background(),
		byName: make(map[string]*pass),
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	calendar := func(name, spec string, run func(ctx context.Context) error) error {
		sched, err := parser.Parse(spec)
		if err != nil {
			return fmt.Errorf("parse %s spec %q: %w", name, spec, err)
		}
		s.addPass(&pass{name: name, run: run, schedule: sched})
		return nil
	}

	s.addPass(&pass{
		name: PassPollRaiding,
		run:  func(ctx context.Context) error { return s.pollTier(ctx, domain.TierRaiding) },
		interval: func(now time.Time) time.Duration {
			if s.hotHours(now) {
				return cfg.RaidingPollHot
			}
			return cfg.RaidingPollOff
		},
	})
	s.addPass(&pass{
		name: PassPollActive,
		run:  func(ctx context.Context) error { return s.pollTier(ctx, domain.TierActive) },
		interval: func(now time.Time) time.Duration {
			if s.hotHours(now) {
				return cfg.ActivePollHot
			}
			return cfg.ActivePollOff
		},
	})

	specs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{PassPollInactive, cfg.InactivePollSpec,
			func(ctx context.Context) error { return s.pollTier(ctx, domain.TierInactive) }},
		{PassWorldRanks, cfg.WorldRanksSpec, s.refreshWorldRanks},
		{PassCrests, cfg.CrestsSpec,
			func(ctx context.Context) error { return s.maint.RefreshCrests(ctx) }},
		{PassReportVerify, cfg.ReportVerifySpec, s.verifyRecentReports},
		{PassCharacterRankings, cfg.CharacterRankingsSpec, s.refreshCharacterRankings},
		{PassTierLists, cfg.TierListsSpec,
			func(ctx context.Context) error { return s.recalc.RecalculateTierLists(ctx) }},
		{PassRaidAnalytics, cfg.RaidAnalyticsSpec,
			func(ctx context.Context) error { return s.recalc.RecalculateAnalytics(ctx) }},
	}
	for _, c := range specs {
		if err := calendar(c.name, c.spec, c.run); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Scheduler) addPass(p *pass) {
	s.passes = append(s.passes, p)
	s.byName[p.name] = p
}

// Run evaluates due passes on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	now := s.now().In(s.loc)
	s.mu.Lock()
	s.runCtx = ctx
	for _, p := range s.passes {
		if p.schedule != nil {
			p.next = p.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.logger.Info("update scheduler started",
		zap.String("timezone", s.cfg.Timezone),
		zap.Int("passes", len(s.passes)))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("update scheduler stopping")
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts every pass that is due now. Each pass runs in its own
// goroutine so a slow poll never delays an unrelated maintenance pass.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().In(s.loc)

	s.mu.Lock()
	var due []*pass
	for _, p := range s.passes {
		if p.schedule != nil {
			if !now.Before(p.next) {
				p.next = p.schedule.Next(now)
				due = append(due, p)
			}
			continue
		}
		if now.Sub(p.lastRun) >= p.interval(now) {
			due = append(due, p)
		}
	}
	for _, p := range due {
		p.lastRun = now
	}
	s.mu.Unlock()

	for _, p := range due {
		s.start(ctx, p)
	}
}

// start launches a pass if it is not already running.
func (s *Scheduler) start(ctx context.Context, p *pass) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("pass still running, skipping", zap.String("pass", p.name))
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer p.inFlight.Store(false)
		start := s.now()
		if err := p.run(ctx); err != nil {
			s.logger.Error("pass failed", zap.String("pass", p.name), zap.Error(err))
			return
		}
		s.logger.Info("pass finished",
			zap.String("pass", p.name),
			zap.Duration("took", s.now().Sub(start)))
	}()
	return true
}

// Trigger runs a named pass immediately. It is idempotent while the pass is
// in flight: a second trigger reports ErrPassRunning and starts nothing.
// The pass executes on the scheduler's own run context, so it survives the
// caller (an HTTP handler responds long before a pass finishes) and still
// stops on shutdown.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	p, ok := s.byName[name]
	ctx := s.runCtx
	if ok {
		p.lastRun = s.now().In(s.loc)
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrPassUnknown
	}
	if !s.start(ctx, p) {
		return domain.ErrPassRunning
	}
	return nil
}

// Wait blocks until all in-flight passes have finished. Used by shutdown
// after the run context is cancelled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// PassNames lists every known pass, in dependency order.
func (s *Scheduler) PassNames() []string {
	names := make([]string, len(s.passes))
	for i, p := range s.passes {
		names[i] = p.name
	}
	return names
}

// NotifyCompleted chains dependent recomputation after a ranking-affecting
// job completes. The in-flight guard coalesces bursts of completions into a
// single recompute run.
func (s *Scheduler) NotifyCompleted(jobType domain.JobType) {
	if !jobType.AffectsRankings() {
		return
	}
	if err := s.Trigger(PassRaidAnalytics); err != nil {
		s.logger.Debug("analytics recompute not started", zap.Error(err))
	}
}

// ---- pass bodies ----

// pollTier enqueues a full rescan for every guild in the tier. Deduplication
// rides on Enqueue's idempotency: guilds with live work are skipped.
func (s *Scheduler) pollTier(ctx context.Context, tier domain.ActivityTier) error {
	guilds, err := s.guilds.ListByTier(ctx, tier)
	if err != nil {
		return fmt.Errorf("list %s guilds: %w", tier, err)
	}

	created := 0
	for _, g := range guilds {
		_, ok, err := s.queue.Enqueue(ctx, *g, domain.JobFullRescan, domain.PriorityFor(tier, false))
		if err != nil {
			s.logger.Warn("could not enqueue rescan",
				zap.String("guild_id", g.ID), zap.Error(err))
			continue
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		s.logger.Info("polling pass enqueued rescans",
			zap.String("tier", string(tier)), zap.Int("count", created))
	}
	return nil
}

// refreshWorldRanks runs the bulk rank refresh, then chains the tier list
// recompute, which depends on fresh ranks.
func (s *Scheduler) refreshWorldRanks(ctx context.Context) error {
	if err := s.maint.RefreshWorldRanks(ctx); err != nil {
		return err
	}
	if err := s.Trigger(PassTierLists); err != nil {
		s.logger.Debug("tier list recompute not started", zap.Error(err))
	}
	return nil
}

// verifyRecentReports re-scans death data for guilds that raided inside the
// verification window, catching logs uploaded after the original fetch.
func (s *Scheduler) verifyRecentReports(ctx context.Context) error {
	since := s.now().Add(-s.cfg.ReportVerifyWindow)
	guilds, err := s.guilds.ListActiveSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list recently active guilds: %w", err)
	}
	for _, g := range guilds {
		if _, _, err := s.queue.Enqueue(ctx, *g, domain.JobRescanDeaths, domain.PriorityFor(g.ActivityTier, true)); err != nil {
			s.logger.Warn("could not enqueue report verification",
				zap.String("guild_id", g.ID), zap.Error(err))
		}
	}
	return nil
}

// refreshCharacterRankings enqueues character rescans for raiding and active
// guilds at maintenance priority.
func (s *Scheduler) refreshCharacterRankings(ctx context.Context) error {
	for _, tier := range []domain.ActivityTier{domain.TierRaiding, domain.TierActive} {
		guilds, err := s.guilds.ListByTier(ctx, tier)
		if err != nil {
			return fmt.Errorf("list %s guilds: %w", tier, err)
		}
		for _, g := range guilds {
			if _, _, err := s.queue.Enqueue(ctx, *g, domain.JobRescanCharacters, domain.PriorityFor(tier, true)); err != nil {
				s.logger.Warn("could not enqueue character rescan",
					zap.String("guild_id", g.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// hotHours reports whether now falls inside the configured evening window.
// A window that crosses midnight (start > end) wraps.
func (s *Scheduler) hotHours(now time.Time) bool {
	h := now.In(s.loc).Hour()
	start, end := s.cfg.HotHoursStart, s.cfg.HotHoursEnd
	if start <= end {
		return h >= start && h < end
	}
	return h >= start || h < end
}
