// Package store declares interfaces for persisting scan run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("scan record not found")

// ScanRunStatus mirrors the scan_runs status column.
type ScanRunStatus string

// Scan run statuses persisted in scan_runs.status.
const (
	RunRunning ScanRunStatus = "running"
	RunSuccess ScanRunStatus = "success"
	RunError   ScanRunStatus = "error"
)

// RegionStatus mirrors the scan_regions status column.
type RegionStatus string

// Region statuses persisted in scan_regions.status.
const (
	RegionRunning RegionStatus = "running"
	RegionDone    RegionStatus = "done"
	RegionFailed  RegionStatus = "failed"
)

// ScanRun models the scan_runs table for API responses.
type ScanRun struct {
	// ID is the scan identifier shared with the progress tracker.
	ID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status ScanRunStatus
	// ItemCount is set once items were saved.
	ItemCount *int
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// RegionStats captures per-region aggregation for a scan.
type RegionStats struct {
	ScanID     uuid.UUID
	Region     string
	Status     RegionStatus
	Progress   float64
	Items      int64
	Errors     int64
	Message    string
	LastUpdate time.Time
}

// ScanRepository persists scan lifecycle and per-region progress.
type ScanRepository interface {
	// UpsertScanStart inserts (or idempotently updates) the started_at timestamp.
	UpsertScanStart(ctx context.Context, scanID uuid.UUID, startedAt time.Time) error
	// CompleteScan marks the run finished with the provided status.
	CompleteScan(
		ctx context.Context,
		scanID uuid.UUID,
		finishedAt time.Time,
		status ScanRunStatus,
		itemCount *int,
		errMsg *string,
	) error
	// UpsertRegionStats replaces the latest snapshot for (scan, region).
	UpsertRegionStats(ctx context.Context, stats RegionStats) error

	// GetScan loads a single scan run or returns ErrNotFound.
	GetScan(ctx context.Context, scanID uuid.UUID) (ScanRun, error)
	// ListScans returns scan runs filtered by optional status plus limit/offset.
	ListScans(ctx context.Context, status *ScanRunStatus, limit, offset int) ([]ScanRun, error)
	// ListScanRegions returns region stats for one scan.
	ListScanRegions(ctx context.Context, scanID uuid.UUID, limit, offset int) ([]RegionStats, error)
}
