// Package history keeps the bounded, most-recent-first log of finished downloads.
package history

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/storage"
)

// DefaultLimit is the number of records kept when no limit is configured.
const DefaultLimit = 50

const (
	fileNotFound = "File not found"
	unknownSize  = "Unknown size"
)

// Entry is a history record annotated with the current state of its file on disk.
type Entry struct {
	storage.HistoryRecord

	FileExists        bool   `json:"file_exists"`
	FilesizeFormatted string `json:"filesize_formatted"`
}

// Store owns the persisted history log. All writes go through a single mutex so concurrent
// appends never lose each other's records.
type Store struct {
	repo  storage.HistoryRepository
	limit int
	now   func() time.Time

	mu sync.Mutex
}

// NewStore creates a history store on top of repo keeping at most limit records.
func NewStore(repo storage.HistoryRepository, limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Store{
		repo:  repo,
		limit: limit,
		now:   time.Now,
	}
}

// Load returns the persisted log, most recent first. Storage failures are logged and
// reported as an empty history.
func (s *Store) Load(ctx context.Context) []storage.HistoryRecord {
	records, err := s.repo.Load(ctx)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to load download history", "err", err)

		return []storage.HistoryRecord{}
	}

	if records == nil {
		return []storage.HistoryRecord{}
	}

	return records
}

// Append records a finished download. A previous record with the same url and choice is
// replaced and the new record becomes the most recent one. Records beyond the limit are
// dropped. Failing to persist the log is logged and otherwise ignored.
func (s *Store) Append(ctx context.Context, rec storage.HistoryRecord) {
	if rec.Date == "" {
		rec.Date = s.now().Format(storage.DateLayout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Load(ctx)

	records := make([]storage.HistoryRecord, 0, min(len(current)+1, s.limit))
	records = append(records, rec)

	for _, r := range current {
		if len(records) == s.limit {
			break
		}

		if r.SameKey(rec) {
			continue
		}

		records = append(records, r)
	}

	if err := s.repo.Save(ctx, records); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to save download history", "err", err)
	}
}

// Clear empties the persisted log.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo.Save(ctx, []storage.HistoryRecord{})
}

// Enrich annotates every record with whether its file still exists and its recorded size in
// readable form. When the file exists the filename is refreshed from the path on disk.
func Enrich(records []storage.HistoryRecord) []Entry {
	entries := make([]Entry, 0, len(records))

	for _, rec := range records {
		entry := Entry{HistoryRecord: rec, FilesizeFormatted: fileNotFound}

		if rec.Filepath != "" {
			if info, err := os.Stat(rec.Filepath); err == nil && info.Mode().IsRegular() {
				entry.FileExists = true
				entry.Filename = filepath.Base(rec.Filepath)
				entry.FilesizeFormatted = FormatSize(rec.Filesize)
			}
		}

		entries = append(entries, entry)
	}

	return entries
}

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders a byte count in 1024-based units with one decimal, e.g. 1048576 becomes
// "1.0 MB" and 2500000000 becomes "2.3 GB".
func FormatSize(size int64) string {
	if size <= 0 {
		return unknownSize
	}

	value := float64(size)
	for _, unit := range sizeUnits {
		if value < 1024 {
			return strconv.FormatFloat(value, 'f', 1, 64) + " " + unit
		}

		value /= 1024
	}

	return strconv.FormatFloat(value, 'f', 1, 64) + " TB"
}
