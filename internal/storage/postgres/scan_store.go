package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/regionpulse/internal/store"
)

// ScanStore implements store.ScanRepository on Postgres.
type ScanStore struct {
	db DB
}

var _ store.ScanRepository = (*ScanStore)(nil)

// NewScanStore wraps db.
func NewScanStore(db DB) (*ScanStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &ScanStore{db: db}, nil
}

// UpsertScanStart inserts a running scan row or refreshes its start time.
func (s *ScanStore) UpsertScanStart(ctx context.Context, scanID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO scan_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET started_at = EXCLUDED.started_at, status = EXCLUDED.status,
			finished_at = NULL, item_count = NULL, error_message = NULL;
	`
	if _, err := s.db.Exec(ctx, query, scanID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert scan start: %w", err)
	}
	return nil
}

// CompleteScan marks a scan finished.
func (s *ScanStore) CompleteScan(
	ctx context.Context,
	scanID uuid.UUID,
	finishedAt time.Time,
	status store.ScanRunStatus,
	itemCount *int,
	errMsg *string,
) error {
	query := `
		UPDATE scan_runs
		SET finished_at = $1, status = $2, item_count = $3, error_message = $4
		WHERE id = $5;
	`
	tag, err := s.db.Exec(ctx, query, finishedAt, status, itemCount, errMsg, scanID)
	if err != nil {
		return fmt.Errorf("failed to complete scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete scan %s: %w", scanID, store.ErrNotFound)
	}
	return nil
}

// UpsertRegionStats replaces the snapshot for (scan, region).
func (s *ScanStore) UpsertRegionStats(ctx context.Context, stats store.RegionStats) error {
	query := `
		INSERT INTO scan_regions (scan_id, region, status, progress, items, errors, message, last_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (scan_id, region) DO UPDATE
		SET status = EXCLUDED.status, progress = EXCLUDED.progress, items = EXCLUDED.items,
			errors = EXCLUDED.errors, message = EXCLUDED.message, last_update = EXCLUDED.last_update;
	`
	_, err := s.db.Exec(ctx, query,
		stats.ScanID,
		stats.Region,
		stats.Status,
		stats.Progress,
		stats.Items,
		stats.Errors,
		stats.Message,
		stats.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert region stats: %w", err)
	}
	return nil
}

const scanColumns = `id, started_at, finished_at, status, item_count, error_message`

func scanRun(row pgx.Row) (store.ScanRun, error) {
	var run store.ScanRun
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ItemCount,
		&run.ErrorMessage,
	)
	return run, err
}

// GetScan retrieves a single scan run.
func (s *ScanStore) GetScan(ctx context.Context, scanID uuid.UUID) (store.ScanRun, error) {
	query := `SELECT ` + scanColumns + ` FROM scan_runs WHERE id = $1;`
	run, err := scanRun(s.db.QueryRow(ctx, query, scanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ScanRun{}, store.ErrNotFound
		}
		return store.ScanRun{}, fmt.Errorf("failed to get scan: %w", err)
	}
	return run, nil
}

// ListScans returns scan runs newest first, optionally filtered by status.
func (s *ScanStore) ListScans(
	ctx context.Context,
	status *store.ScanRunStatus,
	limit,
	offset int,
) ([]store.ScanRun, error) {
	query := `
		SELECT ` + scanColumns + `
		FROM scan_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	runs := []store.ScanRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan rows: %w", err)
	}
	return runs, nil
}

// ListScanRegions returns the region snapshots of one scan.
func (s *ScanStore) ListScanRegions(
	ctx context.Context,
	scanID uuid.UUID,
	limit,
	offset int,
) ([]store.RegionStats, error) {
	query := `
		SELECT scan_id, region, status, progress, items, errors, message, last_update
		FROM scan_regions
		WHERE scan_id = $1
		ORDER BY region
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, scanID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan regions: %w", err)
	}
	defer rows.Close()

	stats := []store.RegionStats{}
	for rows.Next() {
		var st store.RegionStats
		err := rows.Scan(
			&st.ScanID,
			&st.Region,
			&st.Status,
			&st.Progress,
			&st.Items,
			&st.Errors,
			&st.Message,
			&st.LastUpdate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan region stats row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate region rows: %w", err)
	}
	return stats, nil
}
