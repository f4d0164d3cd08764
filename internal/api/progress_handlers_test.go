package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memstore "github.com/JakeFAU/regionpulse/internal/storage/memory"
	"github.com/JakeFAU/regionpulse/internal/store"
)

func seededRepo(t *testing.T) (*memstore.ScanStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := memstore.NewScanStore()

	done := uuid.New()
	running := uuid.New()
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertScanStart(ctx, done, base))
	count := 12
	require.NoError(t, repo.CompleteScan(ctx, done, base.Add(time.Minute), store.RunSuccess, &count, nil))
	require.NoError(t, repo.UpsertScanStart(ctx, running, base.Add(time.Hour)))
	require.NoError(t, repo.UpsertRegionStats(ctx, store.RegionStats{
		ScanID: done, Region: "paris", Status: store.RegionDone, Progress: 100, Items: 5, LastUpdate: base,
	}))
	require.NoError(t, repo.UpsertRegionStats(ctx, store.RegionStats{
		ScanID: done, Region: "berlin", Status: store.RegionDone, Progress: 100, Items: 7, Errors: 1, LastUpdate: base,
	}))
	return repo, done, running
}

func TestProgressHandlerListScans(t *testing.T) {
	t.Parallel()

	repo, done, _ := seededRepo(t)
	handler := NewProgressHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/scans?status=success&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ListScans(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Scans []scanDTO `json:"scans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Scans, 1)
	require.Equal(t, done.String(), body.Scans[0].ID)
	require.Equal(t, 12, *body.Scans[0].ItemCount)
}

func TestProgressHandlerListScansInvalidFilters(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memstore.NewScanStore(), zap.NewNop())
	for _, target := range []string{"/v1/scans?status=paused", "/v1/scans?limit=0", "/v1/scans?offset=-2"} {
		rec := httptest.NewRecorder()
		handler.ListScans(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestProgressHandlerGetScan(t *testing.T) {
	t.Parallel()

	repo, _, running := seededRepo(t)
	handler := NewProgressHandler(repo, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.GetScan(rec, withScanIDParam(httptest.NewRequest(http.MethodGet, "/", nil), running.String()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"running"`)

	rec = httptest.NewRecorder()
	handler.GetScan(rec, withScanIDParam(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetScan(rec, withScanIDParam(httptest.NewRequest(http.MethodGet, "/", nil), "not-a-uuid"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerListScanRegions(t *testing.T) {
	t.Parallel()

	repo, done, _ := seededRepo(t)
	handler := NewProgressHandler(repo, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.ListScanRegions(rec, withScanIDParam(httptest.NewRequest(http.MethodGet, "/?limit=5", nil), done.String()))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Regions []regionDTO `json:"regions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Regions, 2)
	require.Equal(t, "berlin", body.Regions[0].Region)
	require.Equal(t, int64(1), body.Regions[0].Errors)
}

func TestProgressHandlerRepositoryFailures(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&failingRepo{err: errors.New("db down")}, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListScans(rec, httptest.NewRequest(http.MethodGet, "/v1/scans", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetScan(rec, withScanIDParam(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	NewProgressHandler(nil, nil).ListScanRegions(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func withScanIDParam(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("scan_id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type failingRepo struct {
	store.ScanRepository
	err error
}

func (f *failingRepo) GetScan(context.Context, uuid.UUID) (store.ScanRun, error) {
	return store.ScanRun{}, f.err
}

func (f *failingRepo) ListScans(context.Context, *store.ScanRunStatus, int, int) ([]store.ScanRun, error) {
	return nil, f.err
}
