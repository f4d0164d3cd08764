package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/regionpulse/internal/metrics"
	"github.com/JakeFAU/regionpulse/internal/pipeline"
	"github.com/JakeFAU/regionpulse/internal/progress"
	"github.com/JakeFAU/regionpulse/internal/pulse"
	"github.com/JakeFAU/regionpulse/internal/worker"
)

const (
	defaultRegionConcurrency  = 4
	defaultSummaryConcurrency = 4
	defaultArchivePrefix      = "scans"
	defaultTopic              = "scan-complete"
)

var (
	// ErrScanInProgress rejects a request while another scan is running.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrUnknownRegion is returned when a requested region is not configured.
	ErrUnknownRegion = errors.New("unknown region")
	// ErrAllRegionsFailed is returned when no region finished its pipeline.
	ErrAllRegionsFailed = errors.New("all regions failed")
	// ErrNoRegions is returned when nothing is configured to scan.
	ErrNoRegions = errors.New("no regions configured")
)

// RegionRunner runs the collection pipeline for one region.
type RegionRunner interface {
	RunRegion(
		ctx context.Context,
		region pulse.RegionConfig,
		settings pulse.Settings,
		reporter pipeline.Reporter,
	) (pulse.RegionResult, error)
}

// Request asks for a scan of the named regions (all configured when empty).
type Request struct {
	Regions []string `json:"regions,omitempty"`
	Trigger string   `json:"trigger,omitempty"`
}

// Config holds scan-level knobs.
type Config struct {
	Regions            []pulse.RegionConfig
	Settings           pulse.Settings
	RegionConcurrency  int
	SummaryConcurrency int
	ArchivePrefix      string
	Topic              string
}

// Deps bundles the collaborators. Runner, Tracker, Items, and IDs are
// required; the rest are optional.
type Deps struct {
	Runner     RegionRunner
	Tracker    *progress.Tracker
	Items      pulse.ItemStore
	IDs        pulse.IDGenerator
	Summarizer pulse.Summarizer
	Blobs      pulse.BlobStore
	Indexer    pulse.Indexer
	Publisher  pulse.Publisher
	Clock      pulse.Clock
}

// RegionOutcome is the per-region line of a Summary.
type RegionOutcome struct {
	Region string `json:"region"`
	Items  int    `json:"items"`
	Errors int    `json:"errors"`
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`
}

// ClusterDigest is the published view of a summarized cluster.
type ClusterDigest struct {
	Region  string     `json:"region"`
	Lens    pulse.Lens `json:"lens"`
	Items   int        `json:"items"`
	Summary string     `json:"summary,omitempty"`
}

// Summary describes a finished scan. It is also the Pub/Sub payload.
type Summary struct {
	ScanID      string                `json:"scan_id"`
	Trigger     string                `json:"trigger,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
	ItemCount   int                   `json:"item_count"`
	SavedCount  int                   `json:"saved_count"`
	Regions     []RegionOutcome       `json:"regions"`
	Clusters    []ClusterDigest       `json:"clusters"`
	Errors      []pulse.NonFatalError `json:"errors"`
}

// Service runs scans. It is safe for concurrent use; overlapping Run calls
// fail fast with ErrScanInProgress.
type Service struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	running atomic.Bool
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// NewService validates configuration and dependencies.
func NewService(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	if len(cfg.Regions) == 0 {
		return nil, ErrNoRegions
	}
	if deps.Runner == nil || deps.Tracker == nil || deps.Items == nil || deps.IDs == nil {
		return nil, errors.New("scan service requires runner, tracker, item store, and id generator")
	}
	if cfg.RegionConcurrency <= 0 {
		cfg.RegionConcurrency = defaultRegionConcurrency
	}
	if cfg.SummaryConcurrency <= 0 {
		cfg.SummaryConcurrency = defaultSummaryConcurrency
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = defaultArchivePrefix
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	cfg.Settings = cfg.Settings.WithDefaults()
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, deps: deps, logger: logger.Named("scan")}, nil
}

// Regions returns the configured regions.
func (s *Service) Regions() []pulse.RegionConfig {
	return append([]pulse.RegionConfig(nil), s.cfg.Regions...)
}

// Running reports whether a scan is in flight.
func (s *Service) Running() bool {
	return s.running.Load()
}

// ResolveRegions maps names onto configured regions; empty means all.
func (s *Service) ResolveRegions(names []string) ([]pulse.RegionConfig, error) {
	if len(names) == 0 {
		return s.Regions(), nil
	}
	byName := make(map[string]pulse.RegionConfig, len(s.cfg.Regions))
	for _, r := range s.cfg.Regions {
		byName[strings.ToLower(r.Name)] = r
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]pulse.RegionConfig, 0, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		r, ok := byName[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, name)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// Run executes a full scan and blocks until it completes or fails.
func (s *Service) Run(ctx context.Context, req Request) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, ErrScanInProgress
	}
	defer s.running.Store(false)

	regions, err := s.ResolveRegions(req.Regions)
	if err != nil {
		return Summary{}, err
	}
	scanID, err := s.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate scan id: %w", err)
	}

	r := &scanRun{
		svc:     s,
		regions: regions,
		logger:  s.logger.With(zap.String("scan_id", scanID)),
		summary: Summary{
			ScanID:    scanID,
			Trigger:   req.Trigger,
			StartedAt: s.deps.Clock.Now(),
			Regions:   []RegionOutcome{},
			Clusters:  []ClusterDigest{},
			Errors:    []pulse.NonFatalError{},
		},
	}
	return r.execute(ctx)
}

type scanRun struct {
	svc     *Service
	regions []pulse.RegionConfig
	logger  *zap.Logger
	summary Summary

	items    []pulse.NormalizedItem
	pages    map[string]pulse.ScrapedPage
	clusters []pulse.Cluster
}

func (r *scanRun) execute(ctx context.Context) (Summary, error) {
	tracker := r.svc.deps.Tracker
	fetching := progress.PhaseFetching
	startMsg := fmt.Sprintf("Scanning %d regions", len(r.regions))
	if err := tracker.Update(progress.StatusUpdate{
		ScanID:    &r.summary.ScanID,
		Phase:     &fetching,
		Message:   &startMsg,
		StartedAt: &r.summary.StartedAt,
	}); err != nil {
		return r.summary, fmt.Errorf("start scan: %w", err)
	}
	r.logger.Info("scan started", zap.Int("regions", len(r.regions)), zap.String("trigger", r.summary.Trigger))

	results := r.fetch(ctx)
	if err := ctx.Err(); err != nil {
		return r.fail(fmt.Errorf("fetch regions: %w", err))
	}
	if r.allFailed() {
		return r.fail(ErrAllRegionsFailed)
	}

	steps := []func(context.Context, []pulse.RegionResult) error{
		r.process,
		r.cluster,
		r.summarize,
		r.save,
	}
	for _, step := range steps {
		if err := step(ctx, results); err != nil {
			return r.fail(err)
		}
	}

	complete := progress.PhaseComplete
	count := r.summary.ItemCount
	doneMsg := fmt.Sprintf("Collected %d items across %d regions", count, len(r.regions))
	if err := tracker.Update(progress.StatusUpdate{
		Phase:       &complete,
		Message:     &doneMsg,
		ItemCount:   &count,
		CompletedAt: &r.summary.CompletedAt,
	}); err != nil {
		return r.summary, fmt.Errorf("complete scan: %w", err)
	}
	r.logger.Info("scan complete",
		zap.Int("items", count),
		zap.Int("saved", r.summary.SavedCount),
		zap.Int("errors", len(r.summary.Errors)))
	return r.summary, nil
}

// fetch runs every region pipeline concurrently. Region failures are
// recorded, never propagated.
func (r *scanRun) fetch(ctx context.Context) []pulse.RegionResult {
	start := time.Now()
	defer func() { metrics.ObserveStage("fetching", time.Since(start)) }()

	tracker := r.svc.deps.Tracker
	names := make([]string, 0, len(r.regions))
	for _, region := range r.regions {
		names = append(names, region.Name)
	}
	tracker.InitRegionTracking(names)
	defer tracker.ClearRegionTracking()

	results := make([]pulse.RegionResult, len(r.regions))
	outcomes := make([]RegionOutcome, len(r.regions))
	var g errgroup.Group
	g.SetLimit(r.svc.cfg.RegionConcurrency)
	for i, region := range r.regions {
		g.Go(func() error {
			res, err := r.svc.deps.Runner.RunRegion(ctx, region, r.svc.cfg.Settings, tracker)
			results[i] = res
			outcomes[i] = RegionOutcome{Region: region.Name, Items: len(res.Items), Errors: len(res.Errors)}
			if err != nil {
				outcomes[i].Failed = true
				outcomes[i].Error = err.Error()
				r.logger.Warn("region failed", zap.String("region", region.Name), zap.Error(err))
			}
			tracker.FinishRegion(region.Name, len(res.Items), len(res.Errors), err)
			return nil
		})
	}
	_ = g.Wait()

	r.summary.Regions = outcomes
	for _, res := range results {
		r.summary.Errors = append(r.summary.Errors, res.Errors...)
	}
	return results
}

func (r *scanRun) allFailed() bool {
	for _, o := range r.summary.Regions {
		if !o.Failed {
			return false
		}
	}
	return true
}

// process merges items across regions, keeps the first item per ID, and
// orders newest first.
func (r *scanRun) process(_ context.Context, results []pulse.RegionResult) error {
	tracker := r.svc.deps.Tracker
	if err := tracker.SetPhaseProgress(progress.PhaseProcessing, 0, "Merging region results"); err != nil {
		return err
	}
	seen := make(map[string]struct{})
	r.pages = make(map[string]pulse.ScrapedPage)
	for _, res := range results {
		for i, item := range res.Items {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			r.items = append(r.items, item)
			if i < len(res.Pages) {
				r.pages[item.ID] = res.Pages[i]
			}
		}
	}
	sort.SliceStable(r.items, func(i, j int) bool {
		return r.items[i].CreatedAt.After(r.items[j].CreatedAt)
	})
	r.summary.ItemCount = len(r.items)
	return tracker.SetPhaseProgress(progress.PhaseProcessing, 100,
		fmt.Sprintf("Merged %d unique items", len(r.items)))
}

func (r *scanRun) cluster(context.Context, []pulse.RegionResult) error {
	tracker := r.svc.deps.Tracker
	if err := tracker.SetPhaseProgress(progress.PhaseClustering, 0, "Grouping items"); err != nil {
		return err
	}
	clusters := BuildClusters(r.items)
	r.summary.Clusters = make([]ClusterDigest, 0, len(clusters))
	for _, c := range clusters {
		r.summary.Clusters = append(r.summary.Clusters, ClusterDigest{Region: c.Region, Lens: c.Lens, Items: len(c.Items)})
	}
	r.clusters = clusters
	return tracker.SetPhaseProgress(progress.PhaseClustering, 100,
		fmt.Sprintf("Built %d clusters", len(clusters)))
}

func (r *scanRun) summarize(ctx context.Context, _ []pulse.RegionResult) error {
	start := time.Now()
	defer func() { metrics.ObserveStage("summarizing", time.Since(start)) }()

	tracker := r.svc.deps.Tracker
	summarizer := r.svc.deps.Summarizer
	if summarizer == nil || len(r.clusters) == 0 {
		return tracker.SetPhaseProgress(progress.PhaseSummarizing, 100, "No summaries to write")
	}
	if err := tracker.SetPhaseProgress(progress.PhaseSummarizing, 0, "Summarizing clusters"); err != nil {
		return err
	}

	type digest struct {
		index   int
		summary string
	}
	var mu sync.Mutex
	done := 0
	total := len(r.clusters)
	digests, err := worker.Run(ctx, r.clusters, r.svc.cfg.SummaryConcurrency,
		func(ctx context.Context, c pulse.Cluster, index int) (digest, error) {
			defer metrics.TrackInflight("summarize")()
			text, err := summarizer.Summarize(ctx, c)
			mu.Lock()
			done++
			_ = tracker.SetPhaseProgress(progress.PhaseSummarizing, float64(done)/float64(total)*100,
				fmt.Sprintf("Summarized %d/%d clusters", done, total))
			mu.Unlock()
			if err != nil {
				return digest{}, fmt.Errorf("summarize %s/%s: %w", c.Region, c.Lens, err)
			}
			return digest{index: index, summary: text}, nil
		},
		func(_ pulse.Cluster, _ int, err error) {
			metrics.ObserveNonFatal(pulse.SourceSummarize)
			r.summary.Errors = append(r.summary.Errors, pulse.NonFatalError{
				Source:    pulse.SourceSummarize,
				Message:   err.Error(),
				Timestamp: r.svc.deps.Clock.Now(),
			})
		})
	if err != nil {
		return fmt.Errorf("run summary pool: %w", err)
	}
	for _, d := range digests {
		r.clusters[d.index].Summary = d.summary
		r.summary.Clusters[d.index].Summary = d.summary
	}
	return nil
}

func (r *scanRun) save(ctx context.Context, _ []pulse.RegionResult) error {
	start := time.Now()
	defer func() { metrics.ObserveStage("saving", time.Since(start)) }()

	tracker := r.svc.deps.Tracker
	if err := tracker.SetPhaseProgress(progress.PhaseSaving, 0,
		fmt.Sprintf("Saving %d items", len(r.items))); err != nil {
		return err
	}
	saved, err := r.svc.deps.Items.SaveItems(ctx, r.items)
	if err != nil {
		return fmt.Errorf("save items: %w", err)
	}
	r.summary.SavedCount = saved
	if err := tracker.SetPhaseProgress(progress.PhaseSaving, 50,
		fmt.Sprintf("Saved %d new items", saved)); err != nil {
		return err
	}

	r.archive(ctx)
	if r.svc.deps.Indexer != nil && len(r.items) > 0 {
		if err := r.svc.deps.Indexer.IndexItems(ctx, r.items); err != nil {
			r.logger.Warn("index items failed", zap.Error(err))
		}
	}
	r.summary.CompletedAt = r.svc.deps.Clock.Now()
	r.publish(ctx)
	return tracker.SetPhaseProgress(progress.PhaseSaving, 100, "Saved scan results")
}

type archivedPage struct {
	ItemID   string `json:"item_id"`
	Region   string `json:"region"`
	URL      string `json:"url"`
	FinalURL string `json:"final_url"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

// archive stores the scraped text behind every item. Failures are logged.
func (r *scanRun) archive(ctx context.Context) {
	blobs := r.svc.deps.Blobs
	if blobs == nil {
		return
	}
	failed := 0
	for _, item := range r.items {
		page, ok := r.pages[item.ID]
		if !ok {
			continue
		}
		body, err := json.Marshal(archivedPage{
			ItemID:   item.ID,
			Region:   item.Region,
			URL:      page.URL,
			FinalURL: page.FinalURL,
			Title:    page.Title,
			Content:  page.Content,
		})
		if err != nil {
			failed++
			continue
		}
		key := path.Join(r.svc.cfg.ArchivePrefix, r.summary.ScanID, item.Region, item.ID+".json")
		if _, err := blobs.PutObject(ctx, key, "application/json", bytes.NewReader(body)); err != nil {
			failed++
			r.logger.Debug("archive page failed", zap.String("key", key), zap.Error(err))
		}
	}
	if failed > 0 {
		r.logger.Warn("some pages were not archived", zap.Int("failed", failed))
	}
}

func (r *scanRun) publish(ctx context.Context) {
	if r.svc.deps.Publisher == nil {
		return
	}
	msgID, err := r.svc.deps.Publisher.Publish(ctx, r.svc.cfg.Topic, r.summary)
	if err != nil {
		r.logger.Warn("publish scan summary failed", zap.Error(err))
		return
	}
	r.logger.Debug("published scan summary", zap.String("message_id", msgID))
}

func (r *scanRun) fail(err error) (Summary, error) {
	failed := progress.PhaseError
	msg := "Scan failed: " + err.Error()
	errText := err.Error()
	r.summary.CompletedAt = r.svc.deps.Clock.Now()
	if updateErr := r.svc.deps.Tracker.Update(progress.StatusUpdate{
		Phase:       &failed,
		Message:     &msg,
		Error:       &errText,
		CompletedAt: &r.summary.CompletedAt,
	}); updateErr != nil {
		r.logger.Error("record scan failure", zap.Error(updateErr))
	}
	r.logger.Error("scan failed", zap.Error(err))
	return r.summary, err
}
