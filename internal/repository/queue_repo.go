package repository

import (
	"context"
	"time"

	"github.com/guildpulse/guildsync/internal/domain"
)

// QueueRepository defines all persistence operations for queue items.
// The pgx implementation is in pg_queue_repo.go.
// Tests use a hand-written mock (mock_queue_repo.go).
//
// Every mutation is a conditional single-statement update so that operator
// actions and the processor's in-flight transitions serialize per item at
// the database rather than behind a global lock.
type QueueRepository interface {
	// Enqueue inserts a new pending item unless a live item already exists
	// for (guildID, jobType). The bool result reports whether an item was
	// actually created; false means the call was an idempotent no-op.
	Enqueue(ctx context.Context, guild domain.Guild, jobType domain.JobType, priority domain.Priority) (*domain.QueueItem, bool, error)

	// NextEligible returns the highest-priority pending item whose retry
	// delay (if any) has elapsed, FIFO within a priority tier, or nil when
	// nothing is eligible.
	NextEligible(ctx context.Context) (*domain.QueueItem, error)

	// Processor transitions. Each returns domain.ErrConflict when the item
	// is no longer in the expected state.
	MarkInProgress(ctx context.Context, id string) error
	RecordProgress(ctx context.Context, id string, p domain.Progress) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errType domain.ErrorType, permanent bool, reason, lastErr string) error
	ScheduleRetry(ctx context.Context, id string, errorCount int, errType domain.ErrorType, nextRetry time.Time, lastErr string) error
	PauseItem(ctx context.Context, id string) error
	ReturnToPending(ctx context.Context, id string) error

	// Operator actions, keyed by guild.
	Pause(ctx context.Context, guildID string) error
	Resume(ctx context.Context, guildID string) error
	Retry(ctx context.Context, guildID string) error
	Remove(ctx context.Context, guildID string) error

	// Bulk operator actions. Each returns the number of affected items.
	ClearCompleted(ctx context.Context) (int, error)
	ResetAllFailed(ctx context.Context) (int, error)
	RemoveAllFailed(ctx context.Context) (int, error)

	// Startup crash recovery: any in_progress rows belong to a previous
	// process and are returned to pending with their progress intact.
	RequeueOrphaned(ctx context.Context) (int, error)

	// Admin reads.
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.QueueItem, int, error)
	Stats(ctx context.Context) (*domain.QueueStatistics, error)
}

// GuildRepository is the read side of the guild directory used by the
// scheduler to decide what to enqueue. Writes are owned by the guild update
// collaborator.
type GuildRepository interface {
	ListByTier(ctx context.Context, tier domain.ActivityTier) ([]*domain.Guild, error)
	ListActiveSince(ctx context.Context, since time.Time) ([]*domain.Guild, error)
}
