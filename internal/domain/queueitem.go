package domain

import "time"

// JobType identifies what kind of refresh a queue item performs.
type JobType string

const (
	JobFullRescan       JobType = "full_rescan"
	JobRescanDeaths     JobType = "rescan_deaths"
	JobRescanCharacters JobType = "rescan_characters"
)

func (t JobType) IsValid() bool {
	switch t {
	case JobFullRescan, JobRescanDeaths, JobRescanCharacters:
		return true
	}
	return false
}

// AffectsRankings reports whether completing a job of this type should
// trigger dependent recomputation (tier lists, raid analytics).
func (t JobType) AffectsRankings() bool {
	return t == JobFullRescan
}

// Status tracks the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPaused     Status = "paused"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusPaused:
		return true
	}
	return false
}

// ActivityTier classifies how actively a guild is raiding. It drives both
// polling frequency and queue priority.
type ActivityTier string

const (
	TierRaiding  ActivityTier = "raiding"
	TierActive   ActivityTier = "active"
	TierInactive ActivityTier = "inactive"
)

func (t ActivityTier) IsValid() bool {
	switch t {
	case TierRaiding, TierActive, TierInactive:
		return true
	}
	return false
}

// Priority controls queue ordering. Higher values are dequeued first.
type Priority int

const (
	PriorityLiveRaiding  Priority = 90
	PriorityLiveActive   Priority = 60
	PriorityLiveInactive Priority = 30

	PriorityMaintRaiding  Priority = 25
	PriorityMaintActive   Priority = 20
	PriorityMaintInactive Priority = 15
)

// PriorityFor derives a queue priority from a guild's activity tier.
// Maintenance work always ranks below live polling of any tier so that a
// nightly sweep can never starve an interactive or evening-hours refresh.
func PriorityFor(tier ActivityTier, maintenance bool) Priority {
	if maintenance {
		switch tier {
		case TierRaiding:
			return PriorityMaintRaiding
		case TierActive:
			return PriorityMaintActive
		default:
			return PriorityMaintInactive
		}
	}
	switch tier {
	case TierRaiding:
		return PriorityLiveRaiding
	case TierActive:
		return PriorityLiveActive
	default:
		return PriorityLiveInactive
	}
}

// Progress is the incremental checkpoint written while a fetch is running.
// Every field is monotonically non-decreasing for the lifetime of an attempt.
type Progress struct {
	PercentComplete      int `json:"percent_complete"`
	ReportsFetched       int `json:"reports_fetched"`
	TotalReportsEstimate int `json:"total_reports_estimate"`
	FightsSaved          int `json:"fights_saved"`
}

// QueueItem is one unit of scheduled refresh work for a single guild.
type QueueItem struct {
	ID        string   `json:"id"`
	GuildID   string   `json:"guild_id"`
	GuildName string   `json:"guild_name"`
	JobType   JobType  `json:"job_type"`
	Status    Status   `json:"status"`
	Priority  Priority `json:"priority"`
	Progress  Progress `json:"progress"`

	ErrorCount       int        `json:"error_count"`
	LastError        *string    `json:"last_error,omitempty"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
	ErrorType        *ErrorType `json:"error_type,omitempty"`
	IsPermanentError bool       `json:"is_permanent_error"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`

	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ListFilter holds query parameters for paginated queue item listing.
type ListFilter struct {
	Status    *Status
	OnlyError bool
	Page      int
	Limit     int
}
