package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/dedup"
	"github.com/JakeFAU/regionpulse/internal/metrics"
	"github.com/JakeFAU/regionpulse/internal/pulse"
	"github.com/JakeFAU/regionpulse/internal/worker"
)

const itemIDLength = 32

var (
	// ErrProviderUnavailable aborts a region before any work is scheduled.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrGenerate marks a failed query generation step.
	ErrGenerate = errors.New("generate queries")
	// ErrSelect marks a failed URL selection step.
	ErrSelect = errors.New("select urls")
	// ErrNothingExtracted is recorded when the extractor finds no usable content.
	ErrNothingExtracted = errors.New("no usable content extracted")
	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("pipeline dependency missing")
)

// Reporter receives region-local progress (0..100). progress.Tracker
// satisfies it.
type Reporter interface {
	UpdateRegionProgress(region string, progress float64, message string)
}

// Deps bundles the collaborators a pipeline needs. Availability, Geocoder,
// Language, Recency, and Clock are optional.
type Deps struct {
	Availability pulse.AvailabilityChecker
	Generator    pulse.QueryGenerator
	Search       pulse.SearchProvider
	Selector     pulse.URLSelector
	Scraper      pulse.Scraper
	Extractor    pulse.Extractor
	Geocoder     pulse.Geocoder
	Language     pulse.LanguageDetector
	Recency      pulse.RecencyStore
	Hasher       pulse.Hasher
	Clock        pulse.Clock
}

// Pipeline executes region runs. It holds no per-run state, so one value can
// serve many regions concurrently.
type Pipeline struct {
	deps   Deps
	logger *zap.Logger
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// New validates deps and returns a Pipeline.
func New(deps Deps, logger *zap.Logger) (*Pipeline, error) {
	required := []struct {
		name string
		dep  any
	}{
		{"generator", deps.Generator},
		{"search", deps.Search},
		{"selector", deps.Selector},
		{"scraper", deps.Scraper},
		{"extractor", deps.Extractor},
		{"hasher", deps.Hasher},
	}
	for _, r := range required {
		if r.dep == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, r.name)
		}
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, logger: logger.Named("pipeline")}, nil
}

// RunRegion collects items for one region. The returned result is always
// usable: on a terminal error it carries whatever was gathered before the
// failure (usually nothing).
func (p *Pipeline) RunRegion(
	ctx context.Context,
	region pulse.RegionConfig,
	settings pulse.Settings,
	reporter Reporter,
) (pulse.RegionResult, error) {
	run := &regionRun{
		p:        p,
		region:   region,
		settings: settings.WithDefaults(),
		reporter: reporter,
		logger:   p.logger.With(zap.String("region", region.Name)),
		result: pulse.RegionResult{
			Region: region.Name,
			Items:  []pulse.NormalizedItem{},
			Errors: []pulse.NonFatalError{},
		},
	}
	return run.execute(ctx)
}

type regionRun struct {
	p        *Pipeline
	region   pulse.RegionConfig
	settings pulse.Settings
	reporter Reporter
	logger   *zap.Logger

	errMu  sync.Mutex
	result pulse.RegionResult
}

func (r *regionRun) execute(ctx context.Context) (pulse.RegionResult, error) {
	if r.p.deps.Availability != nil {
		if err := r.p.deps.Availability.Available(ctx); err != nil {
			r.logger.Warn("provider unavailable, skipping region", zap.Error(err))
			return r.result, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
	}

	generated, err := r.generate(ctx)
	if err != nil {
		return r.result, err
	}
	direct := directCandidates(generated.DirectURLs)

	organic, err := r.search(ctx, generated.Queries, len(direct))
	if err != nil {
		return r.result, err
	}

	candidates := r.mergeAndFilter(ctx, direct, organic)
	if len(candidates) == 0 {
		r.report(100, fmt.Sprintf("%s: no new URLs to collect", r.region.Name))
		return r.result, nil
	}

	selected, err := r.selectURLs(ctx, candidates)
	if err != nil {
		return r.result, err
	}

	pages, err := r.scrape(ctx, selected)
	if err != nil {
		return r.result, err
	}

	if err := r.extract(ctx, pages); err != nil {
		return r.result, err
	}

	metrics.ObserveItems(r.region.Name, len(r.result.Items))
	r.report(100, fmt.Sprintf("%s: %d items, %d errors",
		r.region.Name, len(r.result.Items), len(r.result.Errors)))
	r.logger.Info("region collected",
		zap.Int("items", len(r.result.Items)),
		zap.Int("errors", len(r.result.Errors)))
	return r.result, nil
}

func (r *regionRun) generate(ctx context.Context) (pulse.GeneratedQueries, error) {
	start := time.Now()
	defer func() { metrics.ObserveStage("generate", time.Since(start)) }()

	maxQueries := r.settings.MaxQueries
	if r.region.MaxQueries > 0 {
		maxQueries = r.region.MaxQueries
	}
	r.report(0, fmt.Sprintf("%s: generating search queries", r.region.Name))
	generated, err := r.p.deps.Generator.Generate(ctx, r.region, maxQueries)
	if err != nil {
		return pulse.GeneratedQueries{}, fmt.Errorf("%w: %w", ErrGenerate, err)
	}
	if len(generated.Queries) > maxQueries {
		generated.Queries = generated.Queries[:maxQueries]
	}
	r.report(5, fmt.Sprintf("%s: %d queries, %d direct URLs",
		r.region.Name, len(generated.Queries), len(generated.DirectURLs)))
	return generated, nil
}

// directCandidates assigns positions 0..d-1 so direct URLs outrank organic
// results after the merge sort.
func directCandidates(direct []pulse.DirectURL) []pulse.SearchResultCandidate {
	out := make([]pulse.SearchResultCandidate, 0, len(direct))
	for _, d := range direct {
		if strings.TrimSpace(d.URL) == "" {
			continue
		}
		out = append(out, pulse.SearchResultCandidate{
			URL:      d.URL,
			Title:    d.Title,
			Position: len(out),
			Category: d.Category,
		})
	}
	return out
}

func (r *regionRun) search(
	ctx context.Context,
	queries []pulse.Query,
	directCount int,
) ([]pulse.SearchResultCandidate, error) {
	if len(queries) == 0 {
		r.report(20, fmt.Sprintf("%s: no queries to search", r.region.Name))
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.ObserveStage("search", time.Since(start)) }()

	steps := r.counter(5, 20, len(queries), "searched %d/%d queries")
	opts := pulse.SearchOptions{
		Limit:    r.settings.ResultsPerQuery,
		Language: r.region.Language,
		Country:  r.region.Country,
	}
	batches, err := worker.Run(ctx, queries, r.settings.SearchConcurrency,
		func(ctx context.Context, q pulse.Query, _ int) ([]pulse.SearchResultCandidate, error) {
			defer metrics.TrackInflight("search")()
			defer steps.tick()
			results, err := r.p.deps.Search.Search(ctx, q.Text, opts)
			if err != nil {
				return nil, fmt.Errorf("search %q: %w", q.Text, err)
			}
			out := make([]pulse.SearchResultCandidate, 0, len(results))
			for _, res := range results {
				res.Position += directCount
				res.Category = q.Category
				out = append(out, res)
			}
			return out, nil
		},
		func(_ pulse.Query, _ int, err error) {
			r.nonFatal(pulse.SourceSearch, err)
		})
	if err != nil {
		return nil, fmt.Errorf("run search pool: %w", err)
	}

	var organic []pulse.SearchResultCandidate
	for _, batch := range batches {
		organic = append(organic, batch...)
	}
	return organic, nil
}

func (r *regionRun) mergeAndFilter(
	ctx context.Context,
	direct, organic []pulse.SearchResultCandidate,
) []pulse.SearchResultCandidate {
	merged := dedup.Merge(direct, organic)
	r.report(22, fmt.Sprintf("%s: %d unique URLs", r.region.Name, len(merged)))

	recent, err := dedup.LoadRecent(ctx, r.p.deps.Recency, r.settings.RecencyDays, r.p.deps.Clock.Now())
	if err != nil {
		r.logger.Warn("recency lookup failed, continuing without filter", zap.Error(err))
	}
	kept, skipped := dedup.FilterRecent(merged, recent)
	r.report(25, fmt.Sprintf("%s: %d new URLs, %d seen recently", r.region.Name, len(kept), skipped))
	return kept
}

func (r *regionRun) selectURLs(
	ctx context.Context,
	candidates []pulse.SearchResultCandidate,
) ([]pulse.SearchResultCandidate, error) {
	start := time.Now()
	defer func() { metrics.ObserveStage("select", time.Since(start)) }()

	selected, err := r.p.deps.Selector.Select(ctx, candidates, r.region, r.settings.MaxURLs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSelect, err)
	}
	if len(selected) > r.settings.MaxURLs {
		selected = selected[:r.settings.MaxURLs]
	}
	r.report(30, fmt.Sprintf("%s: selected %d URLs", r.region.Name, len(selected)))
	return selected, nil
}

func (r *regionRun) scrape(ctx context.Context, selected []pulse.SearchResultCandidate) ([]pulse.ScrapedPage, error) {
	if len(selected) == 0 {
		r.report(70, fmt.Sprintf("%s: nothing to scrape", r.region.Name))
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.ObserveStage("scrape", time.Since(start)) }()

	steps := r.counter(30, 70, len(selected), "scraped %d/%d pages")
	pages, err := worker.Run(ctx, selected, r.settings.ScrapeConcurrency,
		func(ctx context.Context, c pulse.SearchResultCandidate, _ int) (pulse.ScrapedPage, error) {
			defer metrics.TrackInflight("scrape")()
			defer steps.tick()
			page, err := r.p.deps.Scraper.Scrape(ctx, c.URL)
			if err != nil {
				return pulse.ScrapedPage{}, fmt.Errorf("scrape %s: %w", c.URL, err)
			}
			if page.URL == "" {
				page.URL = c.URL
			}
			if page.Title == "" {
				page.Title = c.Title
			}
			if page.Category == "" {
				page.Category = c.Category
			}
			return page, nil
		},
		func(_ pulse.SearchResultCandidate, _ int, err error) {
			r.nonFatal(pulse.SourceScrape, err)
		})
	if err != nil {
		return nil, fmt.Errorf("run scrape pool: %w", err)
	}
	return pages, nil
}

type extracted struct {
	item pulse.NormalizedItem
	page pulse.ScrapedPage
}

func (r *regionRun) extract(ctx context.Context, pages []pulse.ScrapedPage) error {
	if len(pages) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.ObserveStage("extract", time.Since(start)) }()

	steps := r.counter(70, 100, len(pages), "extracted %d/%d pages")
	results, err := worker.Run(ctx, pages, r.settings.ScrapeConcurrency,
		func(ctx context.Context, page pulse.ScrapedPage, _ int) (extracted, error) {
			defer metrics.TrackInflight("extract")()
			defer steps.tick()
			fields, err := r.p.deps.Extractor.Extract(ctx, pulse.ExtractRequest{
				Content:      page.Content,
				URL:          page.URL,
				ImageURL:     page.ImageURL,
				Region:       r.region,
				Language:     r.region.Language,
				CategoryHint: page.Category,
			})
			if err != nil {
				return extracted{}, fmt.Errorf("extract %s: %w", page.URL, err)
			}
			if fields == nil {
				return extracted{}, fmt.Errorf("extract %s: %w", page.URL, ErrNothingExtracted)
			}
			item, err := r.normalize(ctx, page, *fields)
			if err != nil {
				return extracted{}, fmt.Errorf("extract %s: %w", page.URL, err)
			}
			return extracted{item: item, page: page}, nil
		},
		func(_ pulse.ScrapedPage, _ int, err error) {
			r.nonFatal(pulse.SourceExtract, err)
		})
	if err != nil {
		return fmt.Errorf("run extract pool: %w", err)
	}

	for _, res := range results {
		r.result.Items = append(r.result.Items, res.item)
		r.result.Pages = append(r.result.Pages, res.page)
	}
	return nil
}

func (r *regionRun) report(local float64, message string) {
	if r.reporter == nil {
		return
	}
	r.reporter.UpdateRegionProgress(r.region.Name, local, message)
}

func (r *regionRun) nonFatal(source string, err error) {
	metrics.ObserveNonFatal(source)
	r.logger.Debug("non-fatal pipeline error", zap.String("source", source), zap.Error(err))
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.result.Errors = append(r.result.Errors, pulse.NonFatalError{
		Source:    source,
		Message:   err.Error(),
		Timestamp: r.p.deps.Clock.Now(),
	})
}

// stepCounter maps completed units onto a sub-range and reports each step
// under a lock so region progress never moves backwards.
type stepCounter struct {
	mu     sync.Mutex
	done   int
	total  int
	from   float64
	to     float64
	format string
	run    *regionRun
}

func (r *regionRun) counter(from, to float64, total int, format string) *stepCounter {
	return &stepCounter{total: total, from: from, to: to, format: format, run: r}
}

func (s *stepCounter) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done++
	local := s.from + float64(s.done)/float64(s.total)*(s.to-s.from)
	s.run.report(local, fmt.Sprintf("%s: "+s.format, s.run.region.Name, s.done, s.total))
}
