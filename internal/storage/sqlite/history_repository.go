package sqlite

import (
	"context"
	"fmt"

	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/jmoiron/sqlx"
)

// HistoryRepository implements storage.HistoryRepository on top of SQLite. The position
// column keeps the most-recent-first order of the log.
type HistoryRepository struct {
	db   *sqlx.DB
	path string
}

func NewHistoryRepository(db *sqlx.DB, path string) *HistoryRepository {
	return &HistoryRepository{db: db, path: path}
}

func (r *HistoryRepository) Load(ctx context.Context) ([]storage.HistoryRecord, error) {
	records := []storage.HistoryRecord{}

	err := r.db.SelectContext(ctx, &records, `
		SELECT title, filename, filepath, url, choice, resolution, date, filesize, uploader
		FROM history
		ORDER BY position ASC`)
	if err != nil {
		return nil, &storage.PersistenceError{Operation: "load", Path: r.path, Err: err}
	}

	return records, nil
}

// Save replaces every row in a single transaction.
func (r *HistoryRepository) Save(ctx context.Context, records []storage.HistoryRecord) error {
	if err := r.replace(ctx, records); err != nil {
		return &storage.PersistenceError{Operation: "save", Path: r.path, Err: err}
	}

	return nil
}

func (r *HistoryRepository) replace(ctx context.Context, records []storage.HistoryRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	for i, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO history (position, title, filename, filepath, url, choice, resolution, date, filesize, uploader)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, rec.Title, rec.Filename, rec.Filepath, rec.URL, rec.Choice, rec.Resolution, rec.Date, rec.Filesize, rec.Uploader,
		)
		if err != nil {
			return fmt.Errorf("failed to insert history record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}

	return nil
}
