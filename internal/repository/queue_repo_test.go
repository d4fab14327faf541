package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/guildpulse/guildsync/internal/domain"
	"github.com/guildpulse/guildsync/internal/repository"
)

func guild(id string, tier domain.ActivityTier) domain.Guild {
	return domain.Guild{ID: id, Name: "Guild " + id, Realm: "Arkadia", ActivityTier: tier}
}

func TestQueueRepository_EnqueueIsIdempotent(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()
	g := guild("g1", domain.TierRaiding)

	first, created, err := repo.Enqueue(ctx, g, domain.JobFullRescan, domain.PriorityLiveRaiding)
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}

	// Same guild and job type while live: silently absorbed.
	dup, created, err := repo.Enqueue(ctx, g, domain.JobFullRescan, domain.PriorityLiveRaiding)
	if err != nil {
		t.Fatalf("duplicate enqueue: unexpected error: %v", err)
	}
	if created || dup != nil {
		t.Fatal("expected duplicate enqueue to be a no-op")
	}

	// A different job type for the same guild is independent work.
	_, created, err = repo.Enqueue(ctx, g, domain.JobRescanDeaths, domain.PriorityMaintRaiding)
	if err != nil || !created {
		t.Fatalf("different job type: created=%v err=%v", created, err)
	}

	// Once the first item completes, the same job may be enqueued again.
	if err := repo.MarkInProgress(ctx, first.ID); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	if err := repo.MarkCompleted(ctx, first.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	_, created, err = repo.Enqueue(ctx, g, domain.JobFullRescan, domain.PriorityLiveRaiding)
	if err != nil || !created {
		t.Fatalf("enqueue after completion: created=%v err=%v", created, err)
	}
}

func TestQueueRepository_EnqueueRejectsUnknownJobType(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	_, _, err := repo.Enqueue(context.Background(), guild("g1", domain.TierActive), "rescan_everything", 50)
	if err != domain.ErrInvalidJobType {
		t.Fatalf("expected ErrInvalidJobType, got %v", err)
	}
}

func TestQueueRepository_NextEligibleOrdering(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()

	// Fix the clock so created_at strictly increases per enqueue.
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	tick := 0
	repo.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	inactive, _, _ := repo.Enqueue(ctx, guild("inactive", domain.TierInactive), domain.JobFullRescan, domain.PriorityLiveInactive)
	raiding, _, _ := repo.Enqueue(ctx, guild("raiding", domain.TierRaiding), domain.JobFullRescan, domain.PriorityLiveRaiding)
	raiding2, _, _ := repo.Enqueue(ctx, guild("raiding2", domain.TierRaiding), domain.JobFullRescan, domain.PriorityLiveRaiding)

	// Highest priority first.
	next, err := repo.NextEligible(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ID != raiding.ID {
		t.Fatalf("expected the earlier raiding item first, got guild %s", next.GuildID)
	}

	// Equal priority falls back to FIFO.
	_ = repo.MarkInProgress(ctx, raiding.ID)
	_ = repo.MarkCompleted(ctx, raiding.ID)
	next, _ = repo.NextEligible(ctx)
	if next.ID != raiding2.ID {
		t.Fatalf("expected FIFO within equal priority, got guild %s", next.GuildID)
	}

	_ = repo.MarkInProgress(ctx, raiding2.ID)
	_ = repo.MarkCompleted(ctx, raiding2.ID)
	next, _ = repo.NextEligible(ctx)
	if next.ID != inactive.ID {
		t.Fatalf("expected the inactive item last, got guild %s", next.GuildID)
	}
}

func TestQueueRepository_NextEligibleSkipsBackedOffAndPermanent(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()

	retrying, _, _ := repo.Enqueue(ctx, guild("retrying", domain.TierRaiding), domain.JobFullRescan, domain.PriorityLiveRaiding)
	broken, _, _ := repo.Enqueue(ctx, guild("broken", domain.TierRaiding), domain.JobFullRescan, domain.PriorityLiveRaiding)

	// Item awaiting its backoff window is invisible to the dequeue.
	_ = repo.MarkInProgress(ctx, retrying.ID)
	future := time.Now().Add(time.Hour)
	if err := repo.ScheduleRetry(ctx, retrying.ID, 1, domain.ErrTypeNetwork, future, "dial tcp: timeout"); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}

	// Permanently failed items need an explicit operator retry.
	_ = repo.MarkInProgress(ctx, broken.ID)
	if err := repo.MarkFailed(ctx, broken.ID, domain.ErrTypeGuildNotFound, true, "guild no longer exists upstream", "404"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	next, err := repo.NextEligible(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != nil {
		t.Fatalf("expected no eligible item, got guild %s", next.GuildID)
	}

	// Once the backoff expires the retry becomes eligible again.
	repo.Now = func() time.Time { return future.Add(time.Minute) }
	next, _ = repo.NextEligible(ctx)
	if next == nil || next.ID != retrying.ID {
		t.Fatal("expected the backed-off item after its retry time")
	}
}

func TestQueueRepository_TransitionGuards(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()

	item, _, _ := repo.Enqueue(ctx, guild("g1", domain.TierActive), domain.JobFullRescan, domain.PriorityLiveActive)

	// Completing an item that is not in progress is a conflict.
	if err := repo.MarkCompleted(ctx, item.ID); err != domain.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := repo.MarkInProgress(ctx, item.ID); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	// Double-claim loses the race.
	if err := repo.MarkInProgress(ctx, item.ID); err != domain.ErrConflict {
		t.Fatalf("expected ErrConflict on double claim, got %v", err)
	}

	if err := repo.MarkCompleted(ctx, item.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	got, _ := repo.GetByID(ctx, item.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Progress.PercentComplete != 100 {
		t.Fatalf("expected completion to pin progress at 100, got %d", got.Progress.PercentComplete)
	}
}

func TestQueueRepository_ProgressIsMonotonic(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()

	item, _, _ := repo.Enqueue(ctx, guild("g1", domain.TierRaiding), domain.JobFullRescan, domain.PriorityLiveRaiding)
	_ = repo.MarkInProgress(ctx, item.ID)

	_ = repo.RecordProgress(ctx, item.ID, domain.Progress{PercentComplete: 40, ReportsFetched: 8, FightsSaved: 120})
	// A late or out-of-order checkpoint never regresses visible progress.
	_ = repo.RecordProgress(ctx, item.ID, domain.Progress{PercentComplete: 25, ReportsFetched: 5, FightsSaved: 90})

	got, _ := repo.GetByID(ctx, item.ID)
	if got.Progress.PercentComplete != 40 || got.Progress.ReportsFetched != 8 || got.Progress.FightsSaved != 120 {
		t.Fatalf("expected progress to hold its high-water mark, got %+v", got.Progress)
	}
}

func TestQueueRepository_GuildOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("pause and resume pending items", func(t *testing.T) {
		repo := repository.NewMockQueueRepository()
		item, _, _ := repo.Enqueue(ctx, guild("g1", domain.TierRaiding), domain.JobFullRescan, domain.PriorityLiveRaiding)

		if err := repo.Pause(ctx, "g1"); err != nil {
			t.Fatalf("pause: %v", err)
		}
		got, _ := repo.GetByID(ctx, item.ID)
		if got.Status != domain.StatusPaused {
			t.Fatalf("expected paused, got %s", got.Status)
		}

		if err := repo.Resume(ctx, "g1"); err != nil {
			t.Fatalf("resume: %v", err)
		}
		got, _ = repo.GetByID(ctx, item.ID)
		if got.Status != domain.StatusPending {
			t.Fatalf("expected pending after resume, got %s", got.Status)
		}
	})

	t.Run("retry clears error state including permanent", func(t *testing.T) {
		repo := repository.NewMockQueueRepository()
		item, _, _ := repo.Enqueue(ctx, guild("g1", domain.TierRaiding), domain.JobFullRescan, domain.PriorityLiveRaiding)
		_ = repo.MarkInProgress(ctx, item.ID)
		_ = repo.MarkFailed(ctx, item.ID, domain.ErrTypeGuildNotFound, true, "guild no longer exists upstream", "404")

		if err := repo.Retry(ctx, "g1"); err != nil {
			t.Fatalf("retry: %v", err)
		}
		got, _ := repo.GetByID(ctx, item.ID)
		if got.Status != domain.StatusPending {
			t.Fatalf("expected pending, got %s", got.Status)
		}
		if got.IsPermanentError || got.ErrorType != nil || got.ErrorCount != 0 || got.LastError != nil {
			t.Fatalf("expected error state cleared, got %+v", got)
		}
	})

	t.Run("remove refuses an in-progress item", func(t *testing.T) {
		repo := repository.NewMockQueueRepository()
		item, _, _ := repo.Enqueue(ctx, guild("g1", domain.TierRaiding), domain.JobFullRescan, domain.PriorityLiveRaiding)
		_ = repo.MarkInProgress(ctx, item.ID)

		if err := repo.Remove(ctx, "g1"); err != domain.ErrItemInProgress {
			t.Fatalf("expected ErrItemInProgress, got %v", err)
		}
	})

	t.Run("remove unknown guild", func(t *testing.T) {
		repo := repository.NewMockQueueRepository()
		if err := repo.Remove(ctx, "nope"); err != domain.ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestQueueRepository_BulkOperations(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()

	done, _, _ := repo.Enqueue(ctx, guild("done", domain.TierActive), domain.JobFullRescan, domain.PriorityLiveActive)
	_ = repo.MarkInProgress(ctx, done.ID)
	_ = repo.MarkCompleted(ctx, done.ID)

	failed, _, _ := repo.Enqueue(ctx, guild("failed", domain.TierActive), domain.JobFullRescan, domain.PriorityLiveActive)
	_ = repo.MarkInProgress(ctx, failed.ID)
	_ = repo.MarkFailed(ctx, failed.ID, domain.ErrTypeNetwork, false, "3 consecutive network_error failures", "timeout")

	_, _, _ = repo.Enqueue(ctx, guild("waiting", domain.TierActive), domain.JobFullRescan, domain.PriorityLiveActive)

	if n, _ := repo.ClearCompleted(ctx); n != 1 {
		t.Fatalf("expected 1 completed cleared, got %d", n)
	}
	// Idempotent: nothing left to clear.
	if n, _ := repo.ClearCompleted(ctx); n != 0 {
		t.Fatalf("expected 0 on second clear, got %d", n)
	}

	if n, _ := repo.ResetAllFailed(ctx); n != 1 {
		t.Fatalf("expected 1 failed reset, got %d", n)
	}
	got, _ := repo.GetByID(ctx, failed.ID)
	if got.Status != domain.StatusPending || got.ErrorType != nil {
		t.Fatalf("expected clean pending item after reset, got %+v", got)
	}

	stats, _ := repo.Stats(ctx)
	if stats.Pending != 2 || stats.Total != 2 {
		t.Fatalf("expected 2 pending of 2 total, got %+v", stats)
	}
}

func TestQueueRepository_RequeueOrphaned(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()

	a, _, _ := repo.Enqueue(ctx, guild("a", domain.TierRaiding), domain.JobFullRescan, domain.PriorityLiveRaiding)
	b, _, _ := repo.Enqueue(ctx, guild("b", domain.TierActive), domain.JobFullRescan, domain.PriorityLiveActive)
	_ = repo.MarkInProgress(ctx, a.ID)
	_ = repo.MarkInProgress(ctx, b.ID)

	n, err := repo.RequeueOrphaned(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 orphans requeued, got %d", n)
	}
	for _, id := range []string{a.ID, b.ID} {
		got, _ := repo.GetByID(ctx, id)
		if got.Status != domain.StatusPending {
			t.Fatalf("expected pending after requeue, got %s", got.Status)
		}
	}
}

func TestQueueRepository_ListFilters(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()

	failed, _, _ := repo.Enqueue(ctx, guild("failed", domain.TierRaiding), domain.JobFullRescan, domain.PriorityLiveRaiding)
	_ = repo.MarkInProgress(ctx, failed.ID)
	_ = repo.MarkFailed(ctx, failed.ID, domain.ErrTypeAPI, false, "3 consecutive api_error failures", "500")
	_, _, _ = repo.Enqueue(ctx, guild("clean", domain.TierActive), domain.JobFullRescan, domain.PriorityLiveActive)

	status := domain.StatusFailed
	items, total, err := repo.List(ctx, domain.ListFilter{Status: &status, Page: 1, Limit: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].GuildID != "failed" {
		t.Fatalf("expected only the failed item, got %d items", len(items))
	}

	items, _, _ = repo.List(ctx, domain.ListFilter{OnlyError: true, Page: 1, Limit: 20})
	if len(items) != 1 || items[0].ErrorType == nil {
		t.Fatalf("expected only error-carrying items, got %d", len(items))
	}
}

func TestQueueRepository_ListPagination(t *testing.T) {
	repo := repository.NewMockQueueRepository()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	repo.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	ids := []string{"g1", "g2", "g3", "g4", "g5"}
	for _, id := range ids {
		if _, created, err := repo.Enqueue(ctx, guild(id, domain.TierActive), domain.JobFullRescan, domain.PriorityLiveActive); err != nil || !created {
			t.Fatalf("enqueue %s: created=%v err=%v", id, created, err)
		}
	}

	page1, total, err := repo.List(ctx, domain.ListFilter{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5 regardless of page, got %d", total)
	}
	if len(page1) != 2 || page1[0].GuildID != "g1" || page1[1].GuildID != "g2" {
		t.Fatalf("unexpected first page: %d items", len(page1))
	}

	page3, total, _ := repo.List(ctx, domain.ListFilter{Page: 3, Limit: 2})
	if total != 5 || len(page3) != 1 || page3[0].GuildID != "g5" {
		t.Fatalf("expected the final partial page, got %d items", len(page3))
	}

	beyond, total, _ := repo.List(ctx, domain.ListFilter{Page: 4, Limit: 2})
	if total != 5 || len(beyond) != 0 {
		t.Fatalf("expected an empty page past the end, got %d items", len(beyond))
	}
}
