package classify

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/guildpulse/guildsync/internal/domain"
	"github.com/guildpulse/guildsync/internal/updater"
)

// Backoff selects how the processor should delay the next attempt.
type Backoff int

const (
	// BackoffNone: the item is never retried automatically.
	BackoffNone Backoff = iota
	// BackoffWindowReset: retry once the rate budget window resets. The
	// upstream quota signal already gates timing, so no exponential growth.
	BackoffWindowReset
	// BackoffExponential: retry after the next step of the configured
	// backoff schedule.
	BackoffExponential
)

// Classification is the processor's view of a failed fetch attempt.
type Classification struct {
	Type        domain.ErrorType
	Permanent   bool
	NeedsReview bool
	Backoff     Backoff
}

// Classify maps a raw fetch failure into the fixed error taxonomy. It is a
// pure function: it never mutates shared state and always returns the same
// classification for the same error.
func Classify(err error) Classification {
	switch {
	case isGuildNotFound(err):
		return Classification{Type: domain.ErrTypeGuildNotFound, Permanent: true, Backoff: BackoffNone}
	case isRateLimited(err):
		return Classification{Type: domain.ErrTypeRateLimited, Backoff: BackoffWindowReset}
	case isNetworkError(err):
		return Classification{Type: domain.ErrTypeNetwork, Backoff: BackoffExponential}
	case isAPIError(err):
		return Classification{Type: domain.ErrTypeAPI, Backoff: BackoffExponential}
	case isDatabaseError(err):
		return Classification{Type: domain.ErrTypeDatabase, Backoff: BackoffExponential}
	default:
		return Classification{Type: domain.ErrTypeUnknown, NeedsReview: true, Backoff: BackoffExponential}
	}
}

func isGuildNotFound(err error) bool {
	if errors.Is(err, updater.ErrGuildNotFound) {
		return true
	}
	var ue *updater.UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusNotFound
}

func isRateLimited(err error) bool {
	var ue *updater.UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusTooManyRequests
}

// isNetworkError covers timeouts and transport failures. A fetch attempt that
// exceeds its wall-clock deadline surfaces as context.DeadlineExceeded and is
// treated as a network error.
func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func isAPIError(err error) bool {
	var ue *updater.UpstreamError
	return errors.As(err, &ue)
}

func isDatabaseError(err error) bool {
	var pe *pgconn.PgError
	return errors.As(err, &pe)
}
