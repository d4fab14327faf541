package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildpulse/guildsync/internal/domain"
)

const queueItemColumns = `
	id, guild_id, guild_name, job_type, status, priority,
	percent_complete, reports_fetched, total_reports_estimate, fights_saved,
	error_count, last_error, last_error_at, error_type, is_permanent_error,
	failure_reason, next_retry_at, last_activity_at, created_at, updated_at`

type pgQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{pool: pool}
}

func (r *pgQueueRepository) Enqueue(ctx context.Context, guild domain.Guild, jobType domain.JobType, priority domain.Priority) (*domain.QueueItem, bool, error) {
	if !jobType.IsValid() {
		return nil, false, domain.ErrInvalidJobType
	}

	// The partial unique index on live items makes this insert an idempotent
	// no-op when the guild already has pending or in-progress work of this
	// type. That is the core guarantee preventing duplicate concurrent work.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO queue_items (id, guild_id, guild_name, job_type, status, priority)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (guild_id, job_type) WHERE status IN ('pending', 'in_progress')
		DO NOTHING
		RETURNING`+queueItemColumns,
		uuid.New().String(), guild.ID, guild.Name, jobType, priority,
	)

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("enqueue item: %w", err)
	}
	return item, true, nil
}

func (r *pgQueueRepository) NextEligible(ctx context.Context) (*domain.QueueItem, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+queueItemColumns+`
		FROM queue_items
		WHERE status = 'pending'
		  AND NOT is_permanent_error
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`)

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next eligible: %w", err)
	}
	return item, nil
}

func (r *pgQueueRepository) MarkInProgress(ctx context.Context, id string) error {
	return r.transition(ctx, `
		UPDATE queue_items
		SET status = 'in_progress', last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id)
}

func (r *pgQueueRepository) RecordProgress(ctx context.Context, id string, p domain.Progress) error {
	// GREATEST keeps every progress field monotonically non-decreasing even
	// if checkpoints arrive out of order.
	return r.transition(ctx, `
		UPDATE queue_items
		SET percent_complete       = GREATEST(percent_complete, $2),
		    reports_fetched        = GREATEST(reports_fetched, $3),
		    total_reports_estimate = GREATEST(total_reports_estimate, $4),
		    fights_saved           = GREATEST(fights_saved, $5),
		    last_activity_at       = NOW(),
		    updated_at             = NOW()
		WHERE id = $1 AND status = 'in_progress'`,
		id, p.PercentComplete, p.ReportsFetched, p.TotalReportsEstimate, p.FightsSaved)
}

func (r *pgQueueRepository) MarkCompleted(ctx context.Context, id string) error {
	return r.transition(ctx, `
		UPDATE queue_items
		SET status = 'completed', percent_complete = 100,
		    last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'`, id)
}

func (r *pgQueueRepository) MarkFailed(ctx context.Context, id string, errType domain.ErrorType, permanent bool, reason, lastErr string) error {
	return r.transition(ctx, `
		UPDATE queue_items
		SET status = 'failed', error_count = error_count + 1,
		    error_type = $2, is_permanent_error = $3, failure_reason = $4,
		    last_error = $5, last_error_at = NOW(), next_retry_at = NULL,
		    last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'`,
		id, errType, permanent, reason, lastErr)
}

func (r *pgQueueRepository) ScheduleRetry(ctx context.Context, id string, errorCount int, errType domain.ErrorType, nextRetry time.Time, lastErr string) error {
	return r.transition(ctx, `
		UPDATE queue_items
		SET status = 'pending', error_count = $2, error_type = $3,
		    last_error = $4, last_error_at = NOW(), next_retry_at = $5,
		    last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'`,
		id, errorCount, errType, lastErr, nextRetry)
}

func (r *pgQueueRepository) PauseItem(ctx context.Context, id string) error {
	return r.transition(ctx, `
		UPDATE queue_items
		SET status = 'paused', last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'`, id)
}

func (r *pgQueueRepository) ReturnToPending(ctx context.Context, id string) error {
	return r.transition(ctx, `
		UPDATE queue_items
		SET status = 'pending', last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'`, id)
}

func (r *pgQueueRepository) Pause(ctx context.Context, guildID string) error {
	return r.transition(ctx, `
		UPDATE queue_items
		SET status = 'paused', updated_at = NOW()
		WHERE guild_id = $1 AND status = 'pending'`, guildID)
}

func (r *pgQueueRepository) Resume(ctx context.Context, guildID string) error {
	return r.transition(ctx, `
		UPDATE queue_items
		SET status = 'pending', updated_at = NOW()
		WHERE guild_id = $1 AND status = 'paused'`, guildID)
}

// Retry is the explicit operator override: it clears all error state and
// returns the item to pending even when the failure was permanent.
func (r *pgQueueRepository) Retry(ctx context.Context, guildID string) error {
	return r.transition(ctx, `
		UPDATE queue_items
		SET status = 'pending', error_count = 0, last_error = NULL,
		    last_error_at = NULL, error_type = NULL, is_permanent_error = FALSE,
		    failure_reason = NULL, next_retry_at = NULL, updated_at = NOW()
		WHERE guild_id = $1 AND status IN ('failed', 'paused')`, guildID)
}

func (r *pgQueueRepository) Remove(ctx context.Context, guildID string) error {
	var inProgress int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_items
		WHERE guild_id = $1 AND status = 'in_progress'`, guildID).Scan(&inProgress)
	if err != nil {
		return fmt.Errorf("check in-progress: %w", err)
	}
	if inProgress > 0 {
		return domain.ErrItemInProgress
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM queue_items WHERE guild_id = $1`, guildID)
	if err != nil {
		return fmt.Errorf("remove items: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgQueueRepository) ClearCompleted(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM queue_items WHERE status = 'completed'`)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgQueueRepository) ResetAllFailed(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items
		SET status = 'pending', error_count = 0, last_error = NULL,
		    last_error_at = NULL, error_type = NULL, is_permanent_error = FALSE,
		    failure_reason = NULL, next_retry_at = NULL, updated_at = NOW()
		WHERE status = 'failed'`)
	if err != nil {
		return 0, fmt.Errorf("reset failed items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgQueueRepository) RemoveAllFailed(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM queue_items WHERE status = 'failed'`)
	if err != nil {
		return 0, fmt.Errorf("remove failed items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgQueueRepository) RequeueOrphaned(ctx context.Context) (int, error) {
	// A single active processor means any in_progress row at startup is an
	// orphan of a crashed process. Progress checkpoints stay in place so the
	// next attempt resumes from them.
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'in_progress'`)
	if err != nil {
		return 0, fmt.Errorf("requeue orphaned items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+queueItemColumns+`
		FROM queue_items WHERE id = $1`, id)

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (r *pgQueueRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.QueueItem, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	var total int
	countQuery := "SELECT COUNT(*) FROM queue_items" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue items: %w", err)
	}

	args = append(args, f.Limit, offset)
	limitPlaceholder := fmt.Sprintf("$%d", len(args)-1)
	offsetPlaceholder := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(`
		SELECT`+queueItemColumns+`
		FROM queue_items%s
		ORDER BY priority DESC, created_at ASC
		LIMIT %s OFFSET %s`, where, limitPlaceholder, offsetPlaceholder)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	return items, total, err
}

func (r *pgQueueRepository) Stats(ctx context.Context) (*domain.QueueStatistics, error) {
	stats := &domain.QueueStatistics{
		ErrorBreakdown: make(map[domain.ErrorType]int),
	}

	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case domain.StatusPending:
			stats.Pending = count
		case domain.StatusInProgress:
			stats.InProgress = count
		case domain.StatusCompleted:
			stats.Completed = count
		case domain.StatusFailed:
			stats.Failed = count
		case domain.StatusPaused:
			stats.Paused = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	errRows, err := r.pool.Query(ctx, `
		SELECT error_type, COUNT(*) FROM queue_items
		WHERE error_type IS NOT NULL GROUP BY error_type`)
	if err != nil {
		return nil, fmt.Errorf("error breakdown: %w", err)
	}
	defer errRows.Close()

	for errRows.Next() {
		var errType domain.ErrorType
		var count int
		if err := errRows.Scan(&errType, &count); err != nil {
			return nil, err
		}
		stats.ErrorBreakdown[errType] = count
	}
	return stats, errRows.Err()
}

// ---- helpers ----

// transition runs a conditional update and maps "no rows changed" to
// ErrConflict so callers can detect a lost race.
func (r *pgQueueRepository) transition(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("queue transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// scanQueueItem reads a single queue item row from any pgx row type.
func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var item domain.QueueItem
	err := row.Scan(
		&item.ID, &item.GuildID, &item.GuildName, &item.JobType, &item.Status, &item.Priority,
		&item.Progress.PercentComplete, &item.Progress.ReportsFetched,
		&item.Progress.TotalReportsEstimate, &item.Progress.FightsSaved,
		&item.ErrorCount, &item.LastError, &item.LastErrorAt, &item.ErrorType,
		&item.IsPermanentError, &item.FailureReason, &item.NextRetryAt,
		&item.LastActivityAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanQueueItems(rows pgx.Rows) ([]*domain.QueueItem, error) {
	var result []*domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	if f.Status != nil {
		args = append(args, *f.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.OnlyError {
		conditions = append(conditions, "error_type IS NOT NULL")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
