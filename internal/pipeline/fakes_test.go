package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

type fakeGenerator struct {
	out   pulse.GeneratedQueries
	err   error
	calls int
	max   int
}

func (f *fakeGenerator) Generate(_ context.Context, _ pulse.RegionConfig, maxQueries int) (pulse.GeneratedQueries, error) {
	f.calls++
	f.max = maxQueries
	return f.out, f.err
}

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]pulse.SearchResultCandidate
	fail    map[string]error
	calls   []string
	opts    pulse.SearchOptions
}

func (f *fakeSearch) Search(_ context.Context, query string, opts pulse.SearchOptions) ([]pulse.SearchResultCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, query)
	f.opts = opts
	if err := f.fail[query]; err != nil {
		return nil, err
	}
	return append([]pulse.SearchResultCandidate(nil), f.results[query]...), nil
}

func (f *fakeSearch) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// passSelector returns candidates unchanged unless limited by maxCount.
type passSelector struct {
	seen  []pulse.SearchResultCandidate
	extra []pulse.SearchResultCandidate
	err   error
	calls int
}

func (f *passSelector) Select(
	_ context.Context,
	candidates []pulse.SearchResultCandidate,
	_ pulse.RegionConfig,
	_ int,
) ([]pulse.SearchResultCandidate, error) {
	f.calls++
	f.seen = append([]pulse.SearchResultCandidate(nil), candidates...)
	if f.err != nil {
		return nil, f.err
	}
	return append(append([]pulse.SearchResultCandidate(nil), candidates...), f.extra...), nil
}

type fakeScraper struct {
	mu    sync.Mutex
	pages map[string]pulse.ScrapedPage
	fail  map[string]error
	calls int
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (pulse.ScrapedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[url]; err != nil {
		return pulse.ScrapedPage{}, err
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return pulse.ScrapedPage{URL: url, FinalURL: url, Content: "content of " + url}, nil
}

type fakeExtractor struct {
	mu       sync.Mutex
	fields   map[string]*pulse.ExtractedFields
	fail     map[string]error
	requests []pulse.ExtractRequest
	calls    int
}

func (f *fakeExtractor) Extract(_ context.Context, req pulse.ExtractRequest) (*pulse.ExtractedFields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if err := f.fail[req.URL]; err != nil {
		return nil, err
	}
	if fields, ok := f.fields[req.URL]; ok {
		if fields == nil {
			return nil, nil
		}
		copyFields := *fields
		return &copyFields, nil
	}
	return &pulse.ExtractedFields{Title: "title " + req.URL, Summary: "summary", Category: string(req.CategoryHint)}, nil
}

type fakeGeocoder struct {
	points map[string]*pulse.GeoPoint
	err    error
}

func (f *fakeGeocoder) Geocode(_ context.Context, location string) (*pulse.GeoPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.points[location], nil
}

type fakeLanguage struct{ lang string }

func (f fakeLanguage) Detect(string) string { return f.lang }

type fakeRecency struct {
	urls []string
	err  error
}

func (f fakeRecency) RecentURLs(context.Context, time.Time) ([]string, error) {
	return f.urls, f.err
}

type progressUpdate struct {
	region   string
	progress float64
	message  string
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []progressUpdate
}

func (r *recordingReporter) UpdateRegionProgress(region string, progress float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, progressUpdate{region: region, progress: progress, message: message})
}

func (r *recordingReporter) Updates() []progressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progressUpdate(nil), r.updates...)
}

var errBoom = errors.New("boom")
