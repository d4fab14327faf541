package updater

import (
	"context"
	"errors"
	"fmt"

	"github.com/guildpulse/guildsync/internal/domain"
)

// Stats summarises a completed fetch-and-persist run.
type Stats struct {
	ReportsFetched    int `json:"reports_fetched"`
	FightsSaved       int `json:"fights_saved"`
	CharactersUpdated int `json:"characters_updated"`
}

// ProgressFunc receives incremental checkpoints while a fetch is running.
// Implementations must be cheap; the updater calls it inline between report
// pages.
type ProgressFunc func(p domain.Progress)

// GuildUpdater abstracts the guild update service that performs the actual
// upstream fetch and writes raid data to guild storage. Mocking this
// interface in tests gives full control over fetch behaviour without making
// real HTTP calls.
type GuildUpdater interface {
	FetchAndPersist(ctx context.Context, guildID string, jobType domain.JobType, progress ProgressFunc) (*Stats, error)
}

// Recalculator abstracts the tier list / analytics recompute collaborator.
type Recalculator interface {
	RecalculateTierLists(ctx context.Context) error
	RecalculateAnalytics(ctx context.Context) error
}

// MaintenanceAPI groups the bulk maintenance operations the scheduler invokes
// directly. These consume no report quota upstream, so they bypass the
// per-guild queue.
type MaintenanceAPI interface {
	RefreshWorldRanks(ctx context.Context) error
	RefreshCrests(ctx context.Context) error
}

// ErrGuildNotFound is returned when the upstream reporting API has no record
// of the guild. It is never worth retrying automatically.
var ErrGuildNotFound = errors.New("guild not found upstream")

// UpstreamError carries the HTTP status returned by the reporting API so the
// classifier can distinguish quota exhaustion from other API failures.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream API status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream API status %d: %s", e.StatusCode, e.Message)
}
