package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/config"
	"github.com/JakeFAU/regionpulse/internal/dispatcher"
	"github.com/JakeFAU/regionpulse/internal/progress"
	"github.com/JakeFAU/regionpulse/internal/pulse"
	"github.com/JakeFAU/regionpulse/internal/queue/memory"
	"github.com/JakeFAU/regionpulse/internal/scan"
)

type fakeCatalog struct {
	regions []pulse.RegionConfig
}

func (c *fakeCatalog) Regions() []pulse.RegionConfig { return c.regions }

func (c *fakeCatalog) ResolveRegions(names []string) ([]pulse.RegionConfig, error) {
	if len(names) == 0 {
		return c.regions, nil
	}
	var out []pulse.RegionConfig
	for _, name := range names {
		found := false
		for _, r := range c.regions {
			if strings.EqualFold(r.Name, name) {
				out = append(out, r)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", scan.ErrUnknownRegion, name)
		}
	}
	return out, nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []scan.Request
	err      error
	statuses map[string]dispatcher.JobStatus
}

func (s *fakeSubmitter) Submit(_ context.Context, req scan.Request) (dispatcher.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return dispatcher.JobStatus{}, s.err
	}
	s.requests = append(s.requests, req)
	return dispatcher.JobStatus{ID: "req-1", State: dispatcher.StateQueued, Regions: req.Regions}, nil
}

func (s *fakeSubmitter) Lookup(id string) (dispatcher.JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	return st, ok
}

type panicStatus struct{}

func (panicStatus) Status() progress.ScanStatus { panic("boom") }

func newTestServer(auth config.AuthConfig) (*Server, *fakeSubmitter) {
	sub := &fakeSubmitter{statuses: map[string]dispatcher.JobStatus{
		"req-9": {ID: "req-9", State: dispatcher.StateSucceeded, ScanID: "scan-9", ItemCount: 4},
	}}
	tracker := progress.NewTracker(progress.TrackerConfig{})
	srv := NewServer(Deps{
		Status:    tracker,
		Regions:   &fakeCatalog{regions: []pulse.RegionConfig{{Name: "berlin"}, {Name: "paris"}}},
		Submitter: sub,
	}, auth, zap.NewNop())
	return srv, sub
}

func serve(srv *Server, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(config.AuthConfig{})
	rec := serve(srv, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(srv, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_ReadyzReportsUnavailableProvider(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{
		Ready: pulse.CheckerFunc(func(context.Context) error { return errors.New("search down") }),
	}, config.AuthConfig{}, nil)
	rec := serve(srv, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_GetStatus(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(config.AuthConfig{})
	rec := serve(srv, http.MethodGet, "/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"phase":"idle"`)
}

func TestServer_ListRegions(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(config.AuthConfig{})
	rec := serve(srv, http.MethodGet, "/v1/regions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"berlin"`)
	require.Contains(t, rec.Body.String(), `"name":"paris"`)
}

func TestServer_SubmitScan(t *testing.T) {
	t.Parallel()

	srv, sub := newTestServer(config.AuthConfig{})
	rec := serve(srv, http.MethodPost, "/v1/scans", []byte(`{"regions":["Paris"]}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"scan_request_id":"req-1"`)

	rec = serve(srv, http.MethodPost, "/v1/scans", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Equal(t, []scan.Request{
		{Regions: []string{"paris"}, Trigger: "api"},
		{Regions: []string{"berlin", "paris"}, Trigger: "api"},
	}, sub.requests)
}

func TestServer_SubmitScanRejectsBadInput(t *testing.T) {
	t.Parallel()

	srv, sub := newTestServer(config.AuthConfig{})
	rec := serve(srv, http.MethodPost, "/v1/scans", []byte(`{"regions":["atlantis"]}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown region")

	rec = serve(srv, http.MethodPost, "/v1/scans", []byte(`{invalid`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, sub.requests)
}

func TestServer_SubmitScanQueueFull(t *testing.T) {
	t.Parallel()

	srv, sub := newTestServer(config.AuthConfig{})
	sub.err = fmt.Errorf("queue enqueue: %w", memory.ErrFull)
	rec := serve(srv, http.MethodPost, "/v1/scans", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	sub.err = errors.New("id generator exhausted")
	rec = serve(srv, http.MethodPost, "/v1/scans", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_GetScanRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(config.AuthConfig{})
	rec := serve(srv, http.MethodGet, "/v1/scan-requests/req-9", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"succeeded"`)
	require.Contains(t, rec.Body.String(), `"scan_id":"scan-9"`)

	rec = serve(srv, http.MethodGet, "/v1/scan-requests/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_HistoryWithoutRepository(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(config.AuthConfig{})
	rec := serve(srv, http.MethodGet, "/v1/scans", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_HistoryRoutes(t *testing.T) {
	t.Parallel()

	repo, done, _ := seededRepo(t)
	srv := NewServer(Deps{History: repo}, config.AuthConfig{}, nil)

	rec := serve(srv, http.MethodGet, "/v1/scans/"+done.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"success"`)

	rec = serve(srv, http.MethodGet, "/v1/scans/"+done.String()+"/regions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"region":"paris"`)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(config.AuthConfig{Enabled: true, APIKey: "secret"})

	rec := serve(srv, http.MethodGet, "/v1/status", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(srv, http.MethodGet, "/v1/status", nil, http.Header{"X-Api-Key": {"secret"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, http.MethodGet, "/v1/status?api_key=secret", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{Status: panicStatus{}}, config.AuthConfig{}, nil)
	rec := serve(srv, http.MethodGet, "/v1/status", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_RequestIDPropagates(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(config.AuthConfig{})
	rec := serve(srv, http.MethodGet, "/healthz", nil, http.Header{"X-Request-Id": {"abc-123"}})
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_WithRealDispatcher(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[dispatcher.Job](1)
	d := dispatcher.New(q, nil, &sequenceIDs{}, fixedClock{}, zap.NewNop())
	srv := NewServer(Deps{
		Regions:   &fakeCatalog{regions: []pulse.RegionConfig{{Name: "berlin"}}},
		Submitter: d,
	}, config.AuthConfig{}, nil)

	rec := serve(srv, http.MethodPost, "/v1/scans", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"queued"`)

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"berlin"}, job.Request.Regions)

	rec = serve(srv, http.MethodGet, "/v1/scan-requests/"+job.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestResponseWriterFlushAndHijack(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	rw.Flush()
	require.True(t, rec.Flushed)
	_, _, err := rw.Hijack()
	require.Error(t, err)

	hj := &responseWriter{ResponseWriter: &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}}
	conn, _, err := hj.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	client, server := net.Pipe()
	_ = server.Close()
	return client, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("req-%d", s.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
