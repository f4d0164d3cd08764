package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/store"
)

const (
	defaultScanLimit   = 50
	maxScanLimit       = 500
	defaultRegionLimit = 100
	maxRegionLimit     = 1000
	progressTimeout    = 3 * time.Second
)

// ProgressHandler exposes read-only scan history endpoints.
type ProgressHandler struct {
	repo    store.ScanRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.ScanRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListScans handles GET /v1/scans?status=&limit=&offset=. It returns a JSON
// object {"scans": [...]} on success, 400 for invalid filters, 503 when the
// repo is unavailable, or 500 if the repository call fails.
func (h *ProgressHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "scan history unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultScanLimit, maxScanLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.ScanRunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	scans, err := h.repo.ListScans(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list scans failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list scans")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": toScanDTOs(scans)})
}

// GetScan handles GET /v1/scans/{scan_id}. It returns {"scan": {...}} on
// success, 400 for malformed IDs, 404 when the repository reports
// store.ErrNotFound, or 500 otherwise.
func (h *ProgressHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "scan history unavailable")
		return
	}
	scanID, err := parseScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetScan(ctx, scanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		h.logger.Error("get scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan": toScanDTO(run)})
}

// ListScanRegions handles GET /v1/scans/{scan_id}/regions?limit=&offset=.
func (h *ProgressHandler) ListScanRegions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "scan history unavailable")
		return
	}
	scanID, err := parseScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRegionLimit, maxRegionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	regions, err := h.repo.ListScanRegions(ctx, scanID, limit, offset)
	if err != nil {
		h.logger.Error("list scan regions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list scan regions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": toRegionDTOs(regions)})
}

func parseScanID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "scan_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("scan_id is required")
	}
	scanID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid scan_id")
	}
	return scanID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.ScanRunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "success", "complete":
		return store.RunSuccess, nil
	case "error", "failed", "failure":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toScanDTOs(in []store.ScanRun) []scanDTO {
	out := make([]scanDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toScanDTO(run))
	}
	return out
}

func toScanDTO(run store.ScanRun) scanDTO {
	return scanDTO{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		ItemCount:  run.ItemCount,
		Error:      run.ErrorMessage,
	}
}

func toRegionDTOs(in []store.RegionStats) []regionDTO {
	out := make([]regionDTO, 0, len(in))
	for _, s := range in {
		out = append(out, regionDTO{
			Region:     s.Region,
			Status:     string(s.Status),
			Progress:   s.Progress,
			Items:      s.Items,
			Errors:     s.Errors,
			Message:    s.Message,
			LastUpdate: s.LastUpdate,
		})
	}
	return out
}

type scanDTO struct {
	ID         string     `json:"scan_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	ItemCount  *int       `json:"item_count,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

type regionDTO struct {
	Region     string    `json:"region"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"`
	Items      int64     `json:"items"`
	Errors     int64     `json:"errors"`
	Message    string    `json:"message,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}
