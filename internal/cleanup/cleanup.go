package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/storage"
)

// DeleteExpiredFiles deletes the files of history records older than keepDuration. Only files
// inside dir are touched. It returns the number of deleted files.
func DeleteExpiredFiles(ctx context.Context, records []storage.HistoryRecord, dir string, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	var (
		deleted int
		errs    []error
	)

	for _, rec := range records {
		filePath, ok := insideDir(dir, rec.Filepath)
		if !ok {
			logger.WarnContext(ctx, "Skipping file outside the download directory", "file", rec.Filepath)

			continue
		}

		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.ErrorContext(ctx, "Failed to stat file", "file", filePath, "err", err)
			errs = append(errs, err)

			continue
		}

		downloadedAt, err := time.ParseInLocation(storage.DateLayout, rec.Date, time.Local)
		if err != nil {
			// fallback: use file mod time
			logger.WarnContext(ctx, "Failed to parse download time, using file mod time", "file", filePath, "err", err)

			downloadedAt = info.ModTime()
		}

		if now.Sub(downloadedAt) <= keepDuration {
			continue
		}

		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.ErrorContext(ctx, "Failed to delete expired file", "file", filePath, "err", err)
			errs = append(errs, err)

			continue
		}

		deleted++

		logger.InfoContext(ctx, "Deleted expired file", "file", filePath)
	}

	return deleted, errors.Join(errs...)
}

// insideDir resolves path and reports whether it points to an entry directly or indirectly
// below dir.
func insideDir(dir, path string) (string, bool) {
	if path == "" {
		return "", false
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return absPath, true
}
