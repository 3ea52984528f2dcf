package storage

import (
	"context"
	"fmt"
)

// DateLayout is the layout used for HistoryRecord.Date.
const DateLayout = "2006-01-02 15:04:05"

// HistoryRecord represents a record of a finished download.
type HistoryRecord struct {
	Title      string `json:"title" db:"title"`
	Filename   string `json:"filename" db:"filename"`
	Filepath   string `json:"filepath" db:"filepath"`
	URL        string `json:"url" db:"url"`
	Choice     string `json:"choice" db:"choice"`
	Resolution string `json:"resolution,omitempty" db:"resolution"`
	Date       string `json:"date" db:"date"`
	Filesize   int64  `json:"filesize" db:"filesize"`
	Uploader   string `json:"uploader" db:"uploader"`
}

// SameKey reports whether both records describe the same (url, choice) pair.
func (r HistoryRecord) SameKey(other HistoryRecord) bool {
	return r.URL == other.URL && r.Choice == other.Choice
}

// HistoryRepository persists the whole history log, most recent first.
type HistoryRepository interface {
	Load(ctx context.Context) ([]HistoryRecord, error)
	Save(ctx context.Context, records []HistoryRecord) error
}

// PersistenceError represents a failure reading or writing the history log.
type PersistenceError struct {
	Operation string // "load", "save"
	Path      string // file or database backing the history
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s failed for %s: %v", e.Operation, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
