package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/italolelis/media_downloader/internal/storage"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// HistoryRepository stores the history log as an indented JSON array in a single file.
type HistoryRepository struct {
	path string
}

func NewHistoryRepository(path string) *HistoryRepository {
	return &HistoryRepository{path: path}
}

// Load reads the history file. A missing or empty file is an empty history.
func (r *HistoryRepository) Load(_ context.Context) ([]storage.HistoryRecord, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []storage.HistoryRecord{}, nil
		}

		return nil, &storage.PersistenceError{Operation: "load", Path: r.path, Err: err}
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []storage.HistoryRecord{}, nil
	}

	var records []storage.HistoryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &storage.PersistenceError{Operation: "load", Path: r.path, Err: err}
	}

	if records == nil {
		records = []storage.HistoryRecord{}
	}

	return records, nil
}

// Save replaces the history file atomically: the new content is written to a temporary
// file in the same directory and renamed over the old one.
func (r *HistoryRepository) Save(_ context.Context, records []storage.HistoryRecord) error {
	if records == nil {
		records = []storage.HistoryRecord{}
	}

	if err := r.writeAtomic(records); err != nil {
		return &storage.PersistenceError{Operation: "save", Path: r.path, Err: err}
	}

	return nil
}

func (r *HistoryRepository) writeAtomic(records []storage.HistoryRecord) error {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()

		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("failed to replace history file: %w", err)
	}

	committed = true

	return nil
}
