package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guildpulse/guildsync/internal/domain"
)

// MockQueueRepository is a hand-written, in-memory implementation of
// QueueRepository used in unit tests. No mock-generation library needed.
// It mirrors the pg implementation's transition guards so processor and
// scheduler tests exercise the same state machine.
type MockQueueRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.QueueItem

	// Now is the clock used for retry eligibility; tests may replace it.
	Now func() time.Time

	// Optional error overrides — set in tests to simulate failure paths.
	EnqueueErr      error
	NextEligibleErr error
}

func NewMockQueueRepository() *MockQueueRepository {
	return &MockQueueRepository{
		items: make(map[string]*domain.QueueItem),
		Now:   time.Now,
	}
}

func (m *MockQueueRepository) Enqueue(_ context.Context, guild domain.Guild, jobType domain.JobType, priority domain.Priority) (*domain.QueueItem, bool, error) {
	if m.EnqueueErr != nil {
		return nil, false, m.EnqueueErr
	}
	if !jobType.IsValid() {
		return nil, false, domain.ErrInvalidJobType
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item.GuildID == guild.ID && item.JobType == jobType &&
			(item.Status == domain.StatusPending || item.Status == domain.StatusInProgress) {
			return nil, false, nil
		}
	}

	now := m.Now()
	item := &domain.QueueItem{
		ID:             uuid.New().String(),
		GuildID:        guild.ID,
		GuildName:      guild.Name,
		JobType:        jobType,
		Status:         domain.StatusPending,
		Priority:       priority,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.items[item.ID] = item
	clone := *item
	return &clone, true, nil
}

func (m *MockQueueRepository) NextEligible(_ context.Context) (*domain.QueueItem, error) {
	if m.NextEligibleErr != nil {
		return nil, m.NextEligibleErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.Now()
	var best *domain.QueueItem
	for _, item := range m.items {
		if item.Status != domain.StatusPending || item.IsPermanentError {
			continue
		}
		if item.NextRetryAt != nil && item.NextRetryAt.After(now) {
			continue
		}
		if best == nil ||
			item.Priority > best.Priority ||
			(item.Priority == best.Priority && item.CreatedAt.Before(best.CreatedAt)) {
			best = item
		}
	}
	if best == nil {
		return nil, nil
	}
	clone := *best
	return &clone, nil
}

func (m *MockQueueRepository) MarkInProgress(_ context.Context, id string) error {
	return m.transition(id, domain.StatusPending, func(item *domain.QueueItem) {
		item.Status = domain.StatusInProgress
	})
}

func (m *MockQueueRepository) RecordProgress(_ context.Context, id string, p domain.Progress) error {
	return m.transition(id, domain.StatusInProgress, func(item *domain.QueueItem) {
		item.Progress.PercentComplete = max(item.Progress.PercentComplete, p.PercentComplete)
		item.Progress.ReportsFetched = max(item.Progress.ReportsFetched, p.ReportsFetched)
		item.Progress.TotalReportsEstimate = max(item.Progress.TotalReportsEstimate, p.TotalReportsEstimate)
		item.Progress.FightsSaved = max(item.Progress.FightsSaved, p.FightsSaved)
	})
}

func (m *MockQueueRepository) MarkCompleted(_ context.Context, id string) error {
	return m.transition(id, domain.StatusInProgress, func(item *domain.QueueItem) {
		item.Status = domain.StatusCompleted
		item.Progress.PercentComplete = 100
	})
}

func (m *MockQueueRepository) MarkFailed(_ context.Context, id string, errType domain.ErrorType, permanent bool, reason, lastErr string) error {
	return m.transition(id, domain.StatusInProgress, func(item *domain.QueueItem) {
		now := m.Now()
		item.Status = domain.StatusFailed
		item.ErrorCount++
		item.ErrorType = &errType
		item.IsPermanentError = permanent
		item.FailureReason = &reason
		item.LastError = &lastErr
		item.LastErrorAt = &now
		item.NextRetryAt = nil
	})
}

func (m *MockQueueRepository) ScheduleRetry(_ context.Context, id string, errorCount int, errType domain.ErrorType, nextRetry time.Time, lastErr string) error {
	return m.transition(id, domain.StatusInProgress, func(item *domain.QueueItem) {
		now := m.Now()
		item.Status = domain.StatusPending
		item.ErrorCount = errorCount
		item.ErrorType = &errType
		item.LastError = &lastErr
		item.LastErrorAt = &now
		item.NextRetryAt = &nextRetry
	})
}

func (m *MockQueueRepository) PauseItem(_ context.Context, id string) error {
	return m.transition(id, domain.StatusInProgress, func(item *domain.QueueItem) {
		item.Status = domain.StatusPaused
	})
}

func (m *MockQueueRepository) ReturnToPending(_ context.Context, id string) error {
	return m.transition(id, domain.StatusInProgress, func(item *domain.QueueItem) {
		item.Status = domain.StatusPending
	})
}

func (m *MockQueueRepository) Pause(_ context.Context, guildID string) error {
	return m.guildTransition(guildID, domain.StatusPending, func(item *domain.QueueItem) {
		item.Status = domain.StatusPaused
	})
}

func (m *MockQueueRepository) Resume(_ context.Context, guildID string) error {
	return m.guildTransition(guildID, domain.StatusPaused, func(item *domain.QueueItem) {
		item.Status = domain.StatusPending
	})
}

func (m *MockQueueRepository) Retry(_ context.Context, guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for _, item := range m.items {
		if item.GuildID != guildID {
			continue
		}
		if item.Status == domain.StatusFailed || item.Status == domain.StatusPaused {
			clearErrorState(item)
			item.Status = domain.StatusPending
			changed = true
		}
	}
	if !changed {
		return domain.ErrConflict
	}
	return nil
}

func (m *MockQueueRepository) Remove(_ context.Context, guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for id, item := range m.items {
		if item.GuildID != guildID {
			continue
		}
		if item.Status == domain.StatusInProgress {
			return domain.ErrItemInProgress
		}
		delete(m.items, id)
		found = true
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

func (m *MockQueueRepository) ClearCompleted(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, item := range m.items {
		if item.Status == domain.StatusCompleted {
			delete(m.items, id)
			count++
		}
	}
	return count, nil
}

func (m *MockQueueRepository) ResetAllFailed(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, item := range m.items {
		if item.Status == domain.StatusFailed {
			clearErrorState(item)
			item.Status = domain.StatusPending
			count++
		}
	}
	return count, nil
}

func (m *MockQueueRepository) RemoveAllFailed(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, item := range m.items {
		if item.Status == domain.StatusFailed {
			delete(m.items, id)
			count++
		}
	}
	return count, nil
}

func (m *MockQueueRepository) RequeueOrphaned(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, item := range m.items {
		if item.Status == domain.StatusInProgress {
			item.Status = domain.StatusPending
			count++
		}
	}
	return count, nil
}

func (m *MockQueueRepository) GetByID(_ context.Context, id string) (*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *item
	return &clone, nil
}

func (m *MockQueueRepository) List(_ context.Context, filter domain.ListFilter) ([]*domain.QueueItem, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.QueueItem
	for _, item := range m.items {
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		if filter.OnlyError && item.ErrorType == nil {
			continue
		}
		clone := *item
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	total := len(result)
	if filter.Limit > 0 {
		offset := (filter.Page - 1) * filter.Limit
		switch {
		case offset < 0:
			offset = 0
		case offset >= total:
			return nil, total, nil
		}
		if end := offset + filter.Limit; end < total {
			result = result[offset:end]
		} else {
			result = result[offset:]
		}
	}
	return result, total, nil
}

func (m *MockQueueRepository) Stats(_ context.Context) (*domain.QueueStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &domain.QueueStatistics{ErrorBreakdown: make(map[domain.ErrorType]int)}
	for _, item := range m.items {
		switch item.Status {
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusInProgress:
			stats.InProgress++
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusPaused:
			stats.Paused++
		}
		stats.Total++
		if item.ErrorType != nil {
			stats.ErrorBreakdown[*item.ErrorType]++
		}
	}
	return stats, nil
}

// ---- helpers ----

func (m *MockQueueRepository) transition(id string, want domain.Status, mutate func(*domain.QueueItem)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.Status != want {
		return domain.ErrConflict
	}
	mutate(item)
	item.LastActivityAt = m.Now()
	item.UpdatedAt = m.Now()
	return nil
}

func (m *MockQueueRepository) guildTransition(guildID string, want domain.Status, mutate func(*domain.QueueItem)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for _, item := range m.items {
		if item.GuildID == guildID && item.Status == want {
			mutate(item)
			item.UpdatedAt = m.Now()
			changed = true
		}
	}
	if !changed {
		return domain.ErrConflict
	}
	return nil
}

func clearErrorState(item *domain.QueueItem) {
	item.ErrorCount = 0
	item.LastError = nil
	item.LastErrorAt = nil
	item.ErrorType = nil
	item.IsPermanentError = false
	item.FailureReason = nil
	item.NextRetryAt = nil
}

// MockGuildRepository is an in-memory GuildRepository for scheduler tests.
type MockGuildRepository struct {
	mu     sync.RWMutex
	Guilds []*domain.Guild
}

func (m *MockGuildRepository) ListByTier(_ context.Context, tier domain.ActivityTier) ([]*domain.Guild, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Guild
	for _, g := range m.Guilds {
		if g.ActivityTier == tier {
			clone := *g
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *MockGuildRepository) ListActiveSince(_ context.Context, since time.Time) ([]*domain.Guild, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Guild
	for _, g := range m.Guilds {
		if g.LastRaidAt != nil && !g.LastRaidAt.Before(since) {
			clone := *g
			result = append(result, &clone)
		}
	}
	return result, nil
}
