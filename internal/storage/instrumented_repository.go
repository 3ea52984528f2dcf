package storage

import (
	"context"

	"github.com/italolelis/media_downloader/internal/telemetry"
)

// InstrumentedHistoryRepository wraps a HistoryRepository with telemetry.
type InstrumentedHistoryRepository struct {
	repo      HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(repo HistoryRepository, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	return &InstrumentedHistoryRepository{
		repo:      repo,
		telemetry: tel,
	}
}

// Load wraps the underlying Load with instrumentation.
func (r *InstrumentedHistoryRepository) Load(ctx context.Context) ([]HistoryRecord, error) {
	var records []HistoryRecord

	err := r.telemetry.InstrumentHistoryOperation(ctx, "load", func(ctx context.Context) error {
		var err error
		records, err = r.repo.Load(ctx)

		return err
	})

	return records, err
}

// Save wraps the underlying Save with instrumentation.
func (r *InstrumentedHistoryRepository) Save(ctx context.Context, records []HistoryRecord) error {
	return r.telemetry.InstrumentHistoryOperation(ctx, "save", func(ctx context.Context) error {
		return r.repo.Save(ctx, records)
	})
}
