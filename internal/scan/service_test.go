package scan

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regionpulse/internal/clock/system"
	"github.com/JakeFAU/regionpulse/internal/pipeline"
	"github.com/JakeFAU/regionpulse/internal/progress"
	"github.com/JakeFAU/regionpulse/internal/pulse"
)

var (
	errBoom = errors.New("boom")
	t0      = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
)

type regionOutput struct {
	result pulse.RegionResult
	err    error
}

type fakeRunner struct {
	outputs map[string]regionOutput
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRunner) RunRegion(
	ctx context.Context,
	region pulse.RegionConfig,
	_ pulse.Settings,
	reporter pipeline.Reporter,
) (pulse.RegionResult, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return pulse.RegionResult{Region: region.Name}, ctx.Err()
		}
	}
	reporter.UpdateRegionProgress(region.Name, 40, region.Name+": halfway")
	out := f.outputs[region.Name]
	return out.result, out.err
}

type fakeItems struct {
	mu    sync.Mutex
	saved []pulse.NormalizedItem
	err   error
}

func (f *fakeItems) SaveItems(_ context.Context, items []pulse.NormalizedItem) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.saved = append(f.saved, items...)
	return len(items), nil
}

func (f *fakeItems) RecentURLs(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

type fakeIDs struct{}

func (fakeIDs) NewID() (string, error) { return "0190a6b2-3c4d-7e8f-9a0b-1c2d3e4f5a6b", nil }

type fakeSummarizer struct {
	mu   sync.Mutex
	fail map[pulse.Lens]bool
}

func (f *fakeSummarizer) Summarize(_ context.Context, c pulse.Cluster) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[c.Lens] {
		return "", errBoom
	}
	return "digest of " + c.Region + "/" + string(c.Lens), nil
}

type fakeBlobs struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeBlobs) PutObject(_ context.Context, key, _ string, data io.Reader) (string, error) {
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "mem://" + key, nil
}

type fakeIndexer struct {
	count int
	err   error
}

func (f *fakeIndexer) IndexItems(_ context.Context, items []pulse.NormalizedItem) error {
	f.count += len(items)
	return f.err
}

type fakePublisher struct {
	topic   string
	payload any
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	f.topic = topic
	f.payload = payload
	return "msg-1", f.err
}

func item(id, region string, lens pulse.Lens, created time.Time) pulse.NormalizedItem {
	return pulse.NormalizedItem{ID: id, Region: region, Lens: lens, CreatedAt: created, URL: "https://x.example.com/" + id}
}

func page(id string) pulse.ScrapedPage {
	return pulse.ScrapedPage{URL: "https://x.example.com/" + id, Content: "text " + id}
}

type fixture struct {
	runner     *fakeRunner
	items      *fakeItems
	summarizer *fakeSummarizer
	blobs      *fakeBlobs
	indexer    *fakeIndexer
	publisher  *fakePublisher
	tracker    *progress.Tracker
	svc        *Service
}

func newFixture(t *testing.T, outputs map[string]regionOutput) *fixture {
	t.Helper()
	f := &fixture{
		runner:     &fakeRunner{outputs: outputs},
		items:      &fakeItems{},
		summarizer: &fakeSummarizer{fail: map[pulse.Lens]bool{}},
		blobs:      &fakeBlobs{},
		indexer:    &fakeIndexer{},
		publisher:  &fakePublisher{},
		tracker:    progress.NewTracker(progress.TrackerConfig{}),
	}
	svc, err := NewService(Config{
		Regions: []pulse.RegionConfig{{Name: "berlin"}, {Name: "paris"}},
		Topic:   "pulse-scans",
	}, Deps{
		Runner:     f.runner,
		Tracker:    f.tracker,
		Items:      f.items,
		IDs:        fakeIDs{},
		Summarizer: f.summarizer,
		Blobs:      f.blobs,
		Indexer:    f.indexer,
		Publisher:  f.publisher,
		Clock:      system.NewManual(t0),
	}, nil)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func happyOutputs() map[string]regionOutput {
	return map[string]regionOutput{
		"berlin": {result: pulse.RegionResult{
			Region: "berlin",
			Items: []pulse.NormalizedItem{
				item("b1", "berlin", pulse.LensHeadlines, t0.Add(-3*time.Hour)),
				item("shared", "berlin", pulse.LensEvents, t0.Add(-1*time.Hour)),
			},
			Pages:  []pulse.ScrapedPage{page("b1"), page("shared")},
			Errors: []pulse.NonFatalError{{Source: pulse.SourceScrape, Message: "scrape failed"}},
		}},
		"paris": {result: pulse.RegionResult{
			Region: "paris",
			Items: []pulse.NormalizedItem{
				item("p1", "paris", pulse.LensTech, t0.Add(-2*time.Hour)),
				item("shared", "paris", pulse.LensEvents, t0),
			},
			Pages: []pulse.ScrapedPage{page("p1"), page("shared")},
		}},
	}
}

func TestRun_HappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyOutputs())
	summary, err := f.svc.Run(context.Background(), Request{Trigger: "api"})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ItemCount)
	assert.Equal(t, 3, summary.SavedCount)
	require.Len(t, f.items.saved, 3)
	ids := []string{f.items.saved[0].ID, f.items.saved[1].ID, f.items.saved[2].ID}
	assert.Equal(t, []string{"shared", "p1", "b1"}, ids)
	assert.Equal(t, "berlin", f.items.saved[0].Region, "first occurrence of a duplicate id wins")

	require.Len(t, summary.Clusters, 3)
	assert.Equal(t, ClusterDigest{Region: "berlin", Lens: pulse.LensHeadlines, Items: 1, Summary: "digest of berlin/Headlines"}, summary.Clusters[0])
	assert.Equal(t, pulse.LensEvents, summary.Clusters[1].Lens)
	assert.Equal(t, "paris", summary.Clusters[2].Region)

	require.Len(t, summary.Regions, 2)
	assert.False(t, summary.Regions[0].Failed)
	assert.Len(t, summary.Errors, 1)

	assert.Len(t, f.blobs.keys, 3)
	assert.Contains(t, f.blobs.keys, "scans/0190a6b2-3c4d-7e8f-9a0b-1c2d3e4f5a6b/berlin/shared.json")
	assert.Equal(t, 3, f.indexer.count)
	assert.Equal(t, "pulse-scans", f.publisher.topic)
	published, ok := f.publisher.payload.(Summary)
	require.True(t, ok)
	assert.Equal(t, summary.ScanID, published.ScanID)

	status := f.tracker.Status()
	assert.Equal(t, progress.PhaseComplete, status.Phase)
	assert.InDelta(t, 100, status.Progress, 1e-9)
	require.NotNil(t, status.ItemCount)
	assert.Equal(t, 3, *status.ItemCount)
	require.Len(t, status.Regions, 2)
	assert.Equal(t, progress.RegionDone, status.Regions[0].State)
	assert.False(t, f.svc.Running())
}

func TestRun_PartialRegionFailure(t *testing.T) {
	t.Parallel()

	outputs := happyOutputs()
	outputs["paris"] = regionOutput{err: errors.New("select urls: boom")}
	f := newFixture(t, outputs)

	summary, err := f.svc.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ItemCount)
	require.Len(t, summary.Regions, 2)
	assert.True(t, summary.Regions[1].Failed)
	assert.Equal(t, "select urls: boom", summary.Regions[1].Error)

	status := f.tracker.Status()
	assert.Equal(t, progress.PhaseComplete, status.Phase)
	assert.Equal(t, progress.RegionFailed, status.Regions[1].State)
	assert.Equal(t, "failed: select urls: boom", status.Regions[1].Message)
}

func TestRun_AllRegionsFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]regionOutput{
		"berlin": {err: errBoom},
		"paris":  {err: errBoom},
	})

	_, err := f.svc.Run(context.Background(), Request{})
	require.ErrorIs(t, err, ErrAllRegionsFailed)
	status := f.tracker.Status()
	assert.Equal(t, progress.PhaseError, status.Phase)
	assert.Equal(t, ErrAllRegionsFailed.Error(), status.Error)
	assert.Empty(t, f.items.saved)
}

func TestRun_UnknownRegion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyOutputs())
	_, err := f.svc.Run(context.Background(), Request{Regions: []string{"berlin", "atlantis"}})
	require.ErrorIs(t, err, ErrUnknownRegion)
	assert.Equal(t, progress.PhaseIdle, f.tracker.Status().Phase)
}

func TestRun_SubsetOfRegions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyOutputs())
	summary, err := f.svc.Run(context.Background(), Request{Regions: []string{"Paris", "paris"}})
	require.NoError(t, err)
	require.Len(t, summary.Regions, 1)
	assert.Equal(t, "paris", summary.Regions[0].Region)
	assert.Equal(t, 2, summary.ItemCount)
}

func TestRun_RejectsConcurrentScan(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyOutputs())
	f.runner.block = make(chan struct{})
	f.runner.started = make(chan struct{}, 2)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Run(context.Background(), Request{Regions: []string{"berlin"}})
		done <- err
	}()
	<-f.runner.started
	require.True(t, f.svc.Running())

	_, err := f.svc.Run(context.Background(), Request{})
	require.ErrorIs(t, err, ErrScanInProgress)

	close(f.runner.block)
	require.NoError(t, <-done)
}

func TestRun_SaveFailureIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyOutputs())
	f.items.err = errBoom

	_, err := f.svc.Run(context.Background(), Request{})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, progress.PhaseError, f.tracker.Status().Phase)
	assert.Nil(t, f.publisher.payload)
}

func TestRun_OptionalSinksAreNonFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyOutputs())
	f.summarizer.fail[pulse.LensTech] = true
	f.blobs.err = errBoom
	f.indexer.err = errBoom
	f.publisher.err = errBoom

	summary, err := f.svc.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, progress.PhaseComplete, f.tracker.Status().Phase)

	var summarizeErrors int
	for _, e := range summary.Errors {
		if e.Source == pulse.SourceSummarize {
			summarizeErrors++
		}
	}
	assert.Equal(t, 1, summarizeErrors)
	for _, c := range summary.Clusters {
		if c.Lens == pulse.LensTech {
			assert.Empty(t, c.Summary)
		} else {
			assert.NotEmpty(t, c.Summary)
		}
	}
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyOutputs())
	f.runner.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Run(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, progress.PhaseError, f.tracker.Status().Phase)
}

func TestNewService_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewService(Config{}, Deps{}, nil)
	require.ErrorIs(t, err, ErrNoRegions)

	_, err = NewService(Config{Regions: []pulse.RegionConfig{{Name: "x"}}}, Deps{}, nil)
	require.Error(t, err)
}

func TestBuildClusters(t *testing.T) {
	t.Parallel()

	items := []pulse.NormalizedItem{
		item("1", "rome", pulse.LensTech, t0),
		item("2", "oslo", pulse.LensConversation, t0),
		item("3", "rome", pulse.LensHeadlines, t0),
		item("4", "rome", pulse.LensTech, t0),
	}
	clusters := BuildClusters(items)
	require.Len(t, clusters, 3)
	assert.Equal(t, "oslo", clusters[0].Region)
	assert.Equal(t, pulse.LensHeadlines, clusters[1].Lens)
	assert.Equal(t, pulse.LensTech, clusters[2].Lens)
	require.Len(t, clusters[2].Items, 2)
	assert.Equal(t, "1", clusters[2].Items[0].ID)
	assert.Empty(t, BuildClusters(nil))
}
