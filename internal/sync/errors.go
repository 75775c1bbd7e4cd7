package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means the platform rejected the access token, or none could be obtained.
	ErrAuthentication = errors.New("authentication failed")

	// ErrInternal means the run failed unexpectedly, for example by panicking.
	ErrInternal = errors.New("internal error")

	// ErrInvalidRequest means the run was asked for with missing or inconsistent parameters.
	ErrInvalidRequest = errors.New("invalid sync request")

	// ErrMapping means a platform record could not be converted. Such records are dropped.
	ErrMapping = errors.New("mapping failed")

	// ErrRunnerClosed is returned by Runner.Start after Shutdown.
	ErrRunnerClosed = errors.New("runner is shut down")

	// ErrRunSuperseded means a progress write came from a run that no longer owns the record.
	ErrRunSuperseded = errors.New("sync run superseded")

	// ErrStorage means the storage port rejected a write.
	ErrStorage = errors.New("storage write failed")

	// ErrSyncInProgress means another sync for the creator is in flight.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrUpstreamFetch means the platform failed while fetching data.
	ErrUpstreamFetch = errors.New("upstream fetch failed")
)

// RunError is the terminal error of a failed run.
// It matches both its Kind sentinel and its cause with errors.Is.
type RunError struct {
	// Err is the underlying cause.
	Err error

	// Kind is one of the package sentinels, such as ErrStorage.
	Kind error

	// Stage is the stage that failed.
	Stage Stage
}

// Error implements error.
func (e *RunError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s during %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap returns the kind and the cause.
func (e *RunError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// kindLabel is the metrics label for an error kind.
func kindLabel(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrUpstreamFetch):
		return "upstream_fetch"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrMapping):
		return "mapping"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal"
	}
}
