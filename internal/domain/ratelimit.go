package domain

import "time"

// ErrorType is the fixed failure taxonomy produced by the classifier.
type ErrorType string

const (
	ErrTypeGuildNotFound ErrorType = "guild_not_found"
	ErrTypeRateLimited   ErrorType = "rate_limited"
	ErrTypeNetwork       ErrorType = "network_error"
	ErrTypeAPI           ErrorType = "api_error"
	ErrTypeDatabase      ErrorType = "database_error"
	ErrTypeUnknown       ErrorType = "unknown"
)

// RateLimitStatus is the live snapshot of upstream quota consumption.
type RateLimitStatus struct {
	PointsUsed      int       `json:"points_used"`
	PointsMax       int       `json:"points_max"`
	PointsRemaining int       `json:"points_remaining"`
	PercentUsed     float64   `json:"percent_used"`
	ResetAt         time.Time `json:"reset_at"`
	ResetInSeconds  int       `json:"reset_in_seconds"`
	IsPaused        bool      `json:"is_paused"`
}

// RateLimitConfig is the static budget policy, exposed alongside the status
// so the operator dashboard can show thresholds next to live usage.
type RateLimitConfig struct {
	LiveOperationsReserve float64 `json:"live_operations_reserve"`
	WarningThreshold      float64 `json:"warning_threshold"`
	PauseThreshold        float64 `json:"pause_threshold"`
}

// ProcessorStatus describes the single run loop.
type ProcessorStatus struct {
	IsRunning    bool   `json:"is_running"`
	IsPaused     bool   `json:"is_paused"`
	CurrentGuild string `json:"current_guild"`
}

// QueueStatistics is the aggregate operator view, recomputed on demand.
type QueueStatistics struct {
	Pending        int               `json:"pending"`
	InProgress     int               `json:"in_progress"`
	Completed      int               `json:"completed"`
	Failed         int               `json:"failed"`
	Paused         int               `json:"paused"`
	Total          int               `json:"total"`
	ErrorBreakdown map[ErrorType]int `json:"error_breakdown"`
}
