package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/regionpulse/internal/store"
)

// ScanStore is an in-memory store.ScanRepository.
type ScanStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]store.ScanRun
	regions map[uuid.UUID]map[string]store.RegionStats
}

var _ store.ScanRepository = (*ScanStore)(nil)

// NewScanStore constructs an empty ScanStore.
func NewScanStore() *ScanStore {
	return &ScanStore{
		runs:    make(map[uuid.UUID]store.ScanRun),
		regions: make(map[uuid.UUID]map[string]store.RegionStats),
	}
}

// UpsertScanStart records a running scan.
func (s *ScanStore) UpsertScanStart(_ context.Context, scanID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[scanID] = store.ScanRun{ID: scanID, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// CompleteScan marks a known scan finished.
func (s *ScanStore) CompleteScan(
	_ context.Context,
	scanID uuid.UUID,
	finishedAt time.Time,
	status store.ScanRunStatus,
	itemCount *int,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[scanID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	if itemCount != nil {
		v := *itemCount
		run.ItemCount = &v
	}
	if errMsg != nil {
		v := *errMsg
		run.ErrorMessage = &v
	}
	s.runs[scanID] = run
	return nil
}

// UpsertRegionStats replaces the snapshot for (scan, region).
func (s *ScanStore) UpsertRegionStats(_ context.Context, stats store.RegionStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byRegion, ok := s.regions[stats.ScanID]
	if !ok {
		byRegion = make(map[string]store.RegionStats)
		s.regions[stats.ScanID] = byRegion
	}
	byRegion[stats.Region] = stats
	return nil
}

// GetScan returns one scan or store.ErrNotFound.
func (s *ScanStore) GetScan(_ context.Context, scanID uuid.UUID) (store.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[scanID]
	if !ok {
		return store.ScanRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListScans returns scans newest first.
func (s *ScanStore) ListScans(
	_ context.Context,
	status *store.ScanRunStatus,
	limit,
	offset int,
) ([]store.ScanRun, error) {
	s.mu.RLock()
	runs := make([]store.ScanRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return page(runs, limit, offset), nil
}

// ListScanRegions returns region snapshots ordered by region name.
func (s *ScanStore) ListScanRegions(
	_ context.Context,
	scanID uuid.UUID,
	limit,
	offset int,
) ([]store.RegionStats, error) {
	s.mu.RLock()
	stats := make([]store.RegionStats, 0, len(s.regions[scanID]))
	for _, st := range s.regions[scanID] {
		stats = append(stats, st)
	}
	s.mu.RUnlock()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Region < stats[j].Region })
	return page(stats, limit, offset), nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
