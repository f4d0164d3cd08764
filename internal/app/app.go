// Package app wires configuration into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/api"
	"github.com/JakeFAU/regionpulse/internal/clock/system"
	"github.com/JakeFAU/regionpulse/internal/config"
	"github.com/JakeFAU/regionpulse/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/regionpulse/internal/fetcher/colly"
	"github.com/JakeFAU/regionpulse/internal/fetcher/headless"
	"github.com/JakeFAU/regionpulse/internal/geocode"
	"github.com/JakeFAU/regionpulse/internal/hash/sha256"
	"github.com/JakeFAU/regionpulse/internal/id/uuid"
	"github.com/JakeFAU/regionpulse/internal/index/elasticsearch"
	"github.com/JakeFAU/regionpulse/internal/langdetect"
	"github.com/JakeFAU/regionpulse/internal/llm"
	"github.com/JakeFAU/regionpulse/internal/metrics"
	"github.com/JakeFAU/regionpulse/internal/pipeline"
	"github.com/JakeFAU/regionpulse/internal/policy/ratelimit"
	"github.com/JakeFAU/regionpulse/internal/progress"
	progresssinks "github.com/JakeFAU/regionpulse/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/regionpulse/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/regionpulse/internal/publisher/pubsub"
	"github.com/JakeFAU/regionpulse/internal/pulse"
	queuememory "github.com/JakeFAU/regionpulse/internal/queue/memory"
	"github.com/JakeFAU/regionpulse/internal/scan"
	"github.com/JakeFAU/regionpulse/internal/scheduler"
	"github.com/JakeFAU/regionpulse/internal/scrape"
	"github.com/JakeFAU/regionpulse/internal/search"
	gcsstorage "github.com/JakeFAU/regionpulse/internal/storage/gcs"
	localstorage "github.com/JakeFAU/regionpulse/internal/storage/local"
	memorystorage "github.com/JakeFAU/regionpulse/internal/storage/memory"
	pgstore "github.com/JakeFAU/regionpulse/internal/storage/postgres"
	"github.com/JakeFAU/regionpulse/internal/store"
)

const defaultShutdownTimeout = 15 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	tracker   *progress.Tracker
	scans     *scan.Service
	queue     *queuememory.Queue[dispatcher.Job]
	dispatch  *dispatcher.Dispatcher
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	closers   []closer
	closeOnce sync.Once
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option customizes Build.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	httpClient *http.Client
}

// WithRegisterer registers progress collectors on reg instead of the default
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPClient sets the client used by the search and geocode adapters.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// Build creates the application's dependencies. Anything opened before a
// failure is released again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	o := options{registerer: prometheus.DefaultRegisterer, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a = &App{cfg: cfg, logger: logger}
	built := a
	defer func() {
		if err != nil {
			built.closeAll(context.Background())
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("regions", len(cfg.Regions)),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	clock := system.New()
	ids := uuid.New()

	items, history, err := a.setupDatabase(ctx, clock)
	if err != nil {
		return nil, err
	}
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	indexer, err := a.setupIndexer()
	if err != nil {
		return nil, err
	}
	hub, err := a.setupProgress(ctx, history, o.registerer)
	if err != nil {
		return nil, err
	}
	a.tracker = progress.NewTracker(progress.TrackerConfig{
		Emitter: hub,
		Clock:   clock,
		Logger:  logger.Named("tracker"),
	})

	searchClient, err := search.New(cfg.Search, o.httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("search client init failed: %w", err)
	}
	llmClient, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}
	scraper, err := a.setupScraper()
	if err != nil {
		return nil, err
	}
	geocoder, err := a.setupGeocoder(ctx, o.httpClient)
	if err != nil {
		return nil, err
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Availability: pulse.CheckAll(searchClient, llmClient),
		Generator:    llmClient,
		Search:       searchClient,
		Selector:     llmClient,
		Scraper:      scraper,
		Extractor:    llmClient,
		Geocoder:     geocoder,
		Language:     langdetect.New(0, 0),
		Recency:      items,
		Hasher:       sha256.New(),
		Clock:        clock,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	a.scans, err = scan.NewService(scan.Config{
		Regions:            cfg.Regions,
		Settings:           cfg.Pipeline.Settings(),
		RegionConcurrency:  cfg.Pipeline.RegionConcurrency,
		SummaryConcurrency: cfg.Pipeline.SummaryConcurrency,
		ArchivePrefix:      cfg.Storage.ArchivePrefix,
		Topic:              cfg.PubSub.Topic,
	}, scan.Deps{
		Runner:     pipe,
		Tracker:    a.tracker,
		Items:      items,
		IDs:        ids,
		Summarizer: llmClient,
		Blobs:      blobs,
		Indexer:    indexer,
		Publisher:  publisher,
		Clock:      clock,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("scan service init failed: %w", err)
	}

	a.queue = queuememory.NewQueue[dispatcher.Job](cfg.Pipeline.QueueDepth)
	a.dispatch = dispatcher.New(a.queue, a.scans, ids, clock, logger)

	if cfg.Schedule.Enabled {
		a.scheduler, err = scheduler.New(cfg.Schedule.Cron, cfg.Schedule.Regions, a.dispatch, logger)
		if err != nil {
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	a.apiServer = api.NewServer(api.Deps{
		Status:    a.tracker,
		Regions:   a.scans,
		Submitter: a.dispatch,
		History:   history,
		Ready:     searchClient,
	}, cfg.Auth, logger.Named("api"))

	return a, nil
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupDatabase(
	ctx context.Context,
	clock pulse.Clock,
) (pulse.ItemStore, store.ScanRepository, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, keeping items and scan history in memory")
		return memorystorage.NewItemStore(clock), memorystorage.NewScanStore(), nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.addCloser("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	if a.cfg.DB.Migrate {
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("postgres schema applied")
	}
	items, err := pgstore.NewItemStore(pool, "", a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("item store init failed: %w", err)
	}
	history, err := pgstore.NewScanStore(pool)
	if err != nil {
		return nil, nil, fmt.Errorf("scan store init failed: %w", err)
	}
	a.logger.Info("postgres stores initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return items, history, nil
}

func (a *App) setupStorage(ctx context.Context) (pulse.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return blobs.Close() })
		return blobs, nil
	case config.StorageLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (pulse.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.addCloser("pubsub", func(context.Context) error { return pub.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return pub, nil
}

func (a *App) setupIndexer() (pulse.Indexer, error) {
	if !a.cfg.Elasticsearch.Enabled {
		return nil, nil
	}
	idx, err := elasticsearch.Open(a.cfg.Elasticsearch.Config, a.logger)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch init failed: %w", err)
	}
	a.logger.Info("elasticsearch indexer initialized",
		zap.Strings("addresses", a.cfg.Elasticsearch.Addresses),
		zap.String("index", a.cfg.Elasticsearch.Index),
	)
	return idx, nil
}

func (a *App) setupProgress(
	ctx context.Context,
	history store.ScanRepository,
	reg prometheus.Registerer,
) (*progress.Hub, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(history, a.logger.Named("progress_store")),
	}
	hub := progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger,
	}, sinkList...)
	a.addCloser("progress hub", hub.Close)
	a.logger.Debug("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return hub, nil
}

func (a *App) setupScraper() (*scrape.Scraper, error) {
	limiter := ratelimit.New(a.cfg.RateLimit)
	opts := []scrape.Option{scrape.WithLimiter(limiter)}
	if a.cfg.Headless.Enabled {
		hcfg := a.cfg.Headless.Config
		if hcfg.UserAgent == "" {
			hcfg.UserAgent = a.cfg.Fetch.UserAgent
		}
		renderer, err := headless.NewChromedp(hcfg)
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.addCloser("headless", func(context.Context) error {
			renderer.Close()
			return nil
		})
		opts = append(opts, scrape.WithHeadless(renderer))
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", hcfg.MaxParallel))
	}
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", a.cfg.Fetch.UserAgent),
		zap.Bool("respect_robots", a.cfg.Fetch.RespectRobots),
	)
	scraper, err := scrape.New(a.cfg.Scrape, collyfetcher.New(a.cfg.Fetch), a.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("scraper init failed: %w", err)
	}
	return scraper, nil
}

func (a *App) setupGeocoder(ctx context.Context, httpClient *http.Client) (pulse.Geocoder, error) {
	if !a.cfg.Geocode.Enabled {
		a.logger.Info("geocoding disabled")
		return nil, nil
	}
	nominatim, err := geocode.NewNominatim(a.cfg.Geocode.Config, httpClient, a.logger)
	if err != nil {
		return nil, fmt.Errorf("geocoder init failed: %w", err)
	}
	if !a.cfg.Redis.Enabled {
		return nominatim, nil
	}
	client, err := geocode.NewRedisClient(ctx, a.cfg.Redis.RedisConfig)
	if err != nil {
		return nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.addCloser("redis", func(context.Context) error { return client.Close() })
	a.logger.Info("geocode cache enabled", zap.String("address", a.cfg.Redis.Address))
	return geocode.NewRedisCache(nominatim, client, a.cfg.Redis.TTL, a.cfg.Redis.MissTTL, a.logger), nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Tracker exposes the live progress tracker.
func (a *App) Tracker() *progress.Tracker {
	return a.tracker
}

// RunScan executes one scan synchronously, bypassing the queue.
func (a *App) RunScan(ctx context.Context, req scan.Request) (scan.Summary, error) {
	return a.scans.Run(ctx, req)
}

// Run serves the API, drains the scan queue, and fires scheduled scans until
// ctx is canceled. It closes the App before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	if a.scheduler != nil {
		a.scheduler.Start()
		a.logger.Info("scheduler started",
			zap.String("cron", a.cfg.Schedule.Cron),
			zap.Time("next", a.scheduler.Next()),
		)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("dispatcher did not stop before the shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases infrastructure in reverse order of acquisition. It is safe
// to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeAll(ctx)
	return nil
}

func (a *App) closeAll(ctx context.Context) {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.fn(ctx); err != nil {
				a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			}
		}
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
	})
}

// Regions returns the configured regions.
func (a *App) Regions() []pulse.RegionConfig {
	return a.scans.Regions()
}
