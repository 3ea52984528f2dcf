package downloader

import (
	"errors"
	"fmt"
)

// ErrFileNotFound is wrapped by an EngineFault when the engine succeeded but its output
// could not be found on disk.
var ErrFileNotFound = errors.New("downloaded file not found")

// FileNotFoundReason is the client facing reason of a locate fault.
const FileNotFoundReason = "Downloaded file not found"

// ValidationError represents a rejected download request.
type ValidationError struct {
	Field  string // Request field that failed validation (e.g., "url", "choice")
	Reason string // Human-readable explanation
	Err    error  // Underlying validator error, if any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid download request: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DuplicateInFlightError is returned when the same URL is already being downloaded.
type DuplicateInFlightError struct {
	URL string
}

func (e *DuplicateInFlightError) Error() string {
	return fmt.Sprintf("%s is already downloading", e.URL)
}

// EngineFault represents a failure of the media engine or of locating what it produced.
// Reason is safe to show to clients.
type EngineFault struct {
	Operation string // The step that failed (e.g., "acquire_slot", "fetch", "locate")
	Reason    string
	Err       error
}

func (e *EngineFault) Error() string {
	return fmt.Sprintf("engine fault during %s: %s", e.Operation, e.Reason)
}

func (e *EngineFault) Unwrap() error {
	return e.Err
}
