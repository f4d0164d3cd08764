package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/progress"
	"github.com/JakeFAU/regionpulse/internal/store"
)

// StoreSink persists scan history via a store.ScanRepository. Region events
// are collapsed to the latest snapshot per (scan, region) within a batch to
// reduce write amplification.
type StoreSink struct {
	repo   store.ScanRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ScanRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes scan lifecycle changes in order, then the collapsed region
// snapshots. Repository errors are returned wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var order []regionKey
	latest := make(map[regionKey]*store.RegionStats)

	for _, evt := range batch {
		scanID := evt.ScanUUID()
		switch evt.Stage {
		case progress.StageScanStart, progress.StageScanDone, progress.StageScanError:
			if err := s.handleScanEvent(ctx, scanID, evt); err != nil {
				return err
			}
		case progress.StageRegionProgress, progress.StageRegionDone, progress.StageRegionError:
			key := regionKey{scanID: scanID, region: evt.Region}
			stat, ok := latest[key]
			if !ok {
				stat = &store.RegionStats{ScanID: scanID, Region: evt.Region}
				latest[key] = stat
				order = append(order, key)
			}
			applyRegionEvent(stat, evt)
		}
	}

	for _, key := range order {
		if err := s.repo.UpsertRegionStats(ctx, *latest[key]); err != nil {
			return fmt.Errorf("upsert region stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleScanEvent(ctx context.Context, scanID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageScanStart:
		if err := s.repo.UpsertScanStart(ctx, scanID, evt.TS); err != nil {
			return fmt.Errorf("upsert scan start: %w", err)
		}
	case progress.StageScanDone:
		items := int(evt.Items)
		if err := s.repo.CompleteScan(ctx, scanID, evt.TS, store.RunSuccess, &items, nil); err != nil {
			return fmt.Errorf("complete scan: %w", err)
		}
	case progress.StageScanError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteScan(ctx, scanID, evt.TS, store.RunError, nil, note); err != nil {
			return fmt.Errorf("complete scan: %w", err)
		}
	}
	return nil
}

func applyRegionEvent(stat *store.RegionStats, evt progress.Event) {
	stat.Progress = evt.Progress
	stat.Message = evt.Note
	if evt.TS.After(stat.LastUpdate) || stat.LastUpdate.IsZero() {
		stat.LastUpdate = evt.TS
	}
	switch evt.Stage {
	case progress.StageRegionDone:
		stat.Status = store.RegionDone
		stat.Items = evt.Items
		stat.Errors = evt.Errors
	case progress.StageRegionError:
		stat.Status = store.RegionFailed
		stat.Items = evt.Items
		stat.Errors = evt.Errors
	default:
		if stat.Status == "" {
			stat.Status = store.RegionRunning
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type regionKey struct {
	scanID uuid.UUID
	region string
}
