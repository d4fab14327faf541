package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict: item changed state concurrently")
	ErrInvalidJobType = errors.New("invalid job type: must be full_rescan, rescan_deaths, or rescan_characters")
	ErrInvalidStatus  = errors.New("invalid status filter")
	ErrItemInProgress = errors.New("item is in progress: pause it before removing")
	ErrPassUnknown    = errors.New("unknown maintenance pass")
	ErrPassRunning    = errors.New("pass is already running")
)
