// Package server builds the application's dependencies and owns their
// lifecycle for both one-shot runs and the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/api"
	"github.com/JakeFAU/catalog-image-sourcer/internal/catalogsync"
	"github.com/JakeFAU/catalog-image-sourcer/internal/clock/system"
	"github.com/JakeFAU/catalog-image-sourcer/internal/config"
	"github.com/JakeFAU/catalog-image-sourcer/internal/fetcher"
	collyfetcher "github.com/JakeFAU/catalog-image-sourcer/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-image-sourcer/internal/fetcher/detector"
	headlessfetcher "github.com/JakeFAU/catalog-image-sourcer/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-image-sourcer/internal/hash/sha256"
	"github.com/JakeFAU/catalog-image-sourcer/internal/id/uuid"
	"github.com/JakeFAU/catalog-image-sourcer/internal/ledger/csvledger"
	"github.com/JakeFAU/catalog-image-sourcer/internal/metrics"
	"github.com/JakeFAU/catalog-image-sourcer/internal/pacing"
	"github.com/JakeFAU/catalog-image-sourcer/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	progresssinks "github.com/JakeFAU/catalog-image-sourcer/internal/progress/sinks"
	"github.com/JakeFAU/catalog-image-sourcer/internal/publisher"
	memorypublisher "github.com/JakeFAU/catalog-image-sourcer/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/catalog-image-sourcer/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-image-sourcer/internal/publisher/wordpress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/search/bing"
	"github.com/JakeFAU/catalog-image-sourcer/internal/search/duckduckgo"
	"github.com/JakeFAU/catalog-image-sourcer/internal/search/yahoo"
	"github.com/JakeFAU/catalog-image-sourcer/internal/similarity/tokenset"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
	"github.com/JakeFAU/catalog-image-sourcer/internal/storage"
	gcsstorage "github.com/JakeFAU/catalog-image-sourcer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-image-sourcer/internal/storage/local"
	memorystorage "github.com/JakeFAU/catalog-image-sourcer/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-image-sourcer/internal/storage/postgres"
	"github.com/JakeFAU/catalog-image-sourcer/internal/telemetry"
	"github.com/JakeFAU/catalog-image-sourcer/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	searchers  map[sourcing.Backend]sourcing.Searcher
	downloader sourcing.Downloader
	ranker     *sourcing.Ranker
	hasher     sourcing.Hasher
	pacer      *pacing.Policy
	ledger     *csvledger.Ledger
	publisher  sourcing.Publisher
	storefront sourcing.Storefront
	mirrors    []sourcing.Mirror

	headless    *headlessfetcher.Fetcher
	progressHub *progress.Hub
	pool        *pgxpool.Pool
	runStore    *pgstore.RunStore
	notifier    *gcppublisher.Publisher
	blobStore   *gcsstorage.BlobStore

	tracerShutdown func(context.Context) error
}

var (
	_ api.RunService           = (*App)(nil)
	_ catalogsync.ImageSourcer = (*App)(nil)
)

// ErrStorefrontNotConfigured is returned by Sync when no WordPress site is
// configured.
var ErrStorefrontNotConfigured = errors.New("sync needs publication.wordpress url, user and app_password")

// Build creates the application's dependencies. Optional integrations
// (publication, GCS, Postgres, Pub/Sub, headless Chrome) are only connected
// when enabled in cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("threshold", cfg.Sourcing.Threshold),
		zap.Int("strategies", len(cfg.Sourcing.Strategies)),
		zap.Bool("publication", cfg.Publishing()),
	)

	tp, err := telemetry.InitTracing(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	steps := []func(context.Context) error{
		app.setupRetrieval,
		app.setupLedger,
		app.setupPublication,
		app.setupStorage,
		app.setupDatabase,
		app.setupNotifier,
		app.setupProgress,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
	}
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// History returns the run history repository, or nil without a database.
func (a *App) History() api.RunHistory {
	if a.runStore == nil {
		return nil
	}
	return a.runStore
}

func (a *App) setupRetrieval(context.Context) error {
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.HTTP.RateLimitRPS,
		Burst: a.cfg.HTTP.RateLimitBurst,
	}, metrics.ObserveRateLimitDelay)

	retry := fetcher.DefaultRetryPolicy()
	retry.MaxAttempts = a.cfg.HTTP.SearchAttempts
	if a.cfg.HTTP.RetryBaseDelay > 0 {
		retry.BaseDelay = a.cfg.HTTP.RetryBaseDelay
	}
	searchFetcher := fetcher.NewRetrying(collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.HTTP.UserAgent,
		Timeout:   a.cfg.HTTP.SearchTimeout,
	}, limiter), retry, a.logger.Named("retry"))
	a.downloader = collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.HTTP.UserAgent,
		Timeout:      a.cfg.HTTP.DownloadTimeout,
		MaxBodyBytes: a.cfg.HTTP.MaxImageBytes,
	}, limiter)

	bingFetcher, yahooFetcher := fetcher.Fetcher(searchFetcher), fetcher.Fetcher(searchFetcher)
	if a.cfg.Search.Headless.Enabled {
		hl := a.cfg.Search.Headless
		var err error
		a.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       hl.MaxParallel,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: hl.NavTimeout,
			Scrolls:           hl.Scrolls,
			ExecPath:          hl.ExecPath,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, continuing without it", zap.Error(err))
		} else {
			logger := a.logger.Named("promotion")
			bingFetcher = fetcher.NewPromoting(searchFetcher, a.headless, detector.NewHeuristic(0, bing.ResultMarker), logger)
			yahooFetcher = fetcher.NewPromoting(searchFetcher, a.headless, detector.NewHeuristic(0, yahoo.ResultMarker), logger)
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", hl.MaxParallel))
		}
	}

	maxCandidates := a.cfg.Search.MaxCandidates
	a.searchers = map[sourcing.Backend]sourcing.Searcher{
		sourcing.BackendDuckDuckGo: duckduckgo.New(duckduckgo.Config{
			BaseURL:       a.cfg.Search.DuckDuckGoURL,
			MaxCandidates: maxCandidates,
		}, searchFetcher, a.logger.Named("duckduckgo")),
		sourcing.BackendBing: bing.New(bing.Config{
			BaseURL:       a.cfg.Search.BingURL,
			MaxCandidates: maxCandidates,
		}, bingFetcher, a.logger.Named("bing")),
		sourcing.BackendYahoo: yahoo.New(yahoo.Config{
			BaseURL:       a.cfg.Search.YahooURL,
			MaxCandidates: maxCandidates,
		}, yahooFetcher, a.logger.Named("yahoo")),
	}

	a.ranker = sourcing.NewRanker(a.cfg.Sourcing.Threshold, tokenset.New())
	if a.cfg.Sourcing.HashImages {
		a.hasher = sha256.New()
	}
	a.pacer = pacing.New(a.cfg.Pacing, pacing.TimerPauser{})
	return nil
}

func (a *App) setupLedger(context.Context) error {
	ledger, err := csvledger.New(a.cfg.Sourcing.Ledger)
	if err != nil {
		return fmt.Errorf("ledger init failed: %w", err)
	}
	a.ledger = ledger
	a.logger.Info("using ledger", zap.String("path", ledger.Path()))
	return nil
}

func (a *App) setupPublication(context.Context) error {
	wp := a.cfg.Publication.WordPress
	if !wp.Configured() {
		a.logger.Info("publication disabled")
		return nil
	}
	client, err := wordpress.New(wp, nil, a.logger.Named("wordpress"))
	if err != nil {
		return fmt.Errorf("wordpress client init failed: %w", err)
	}
	a.storefront = client
	if !a.cfg.Publishing() {
		a.logger.Info("publication disabled, storefront available for sync")
		return nil
	}
	a.publisher = client
	a.logger.Info("publication enabled", zap.String("url", wp.BaseURL))
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	if !a.cfg.Storage.Enabled {
		return nil
	}
	prefix := a.cfg.Storage.GCS.Prefix
	var provider storage.Provider
	switch a.cfg.Storage.Backend {
	case config.StorageBackendMemory:
		provider = memorystorage.NewBlobStore()
		a.logger.Info("mirroring images in memory")
	default:
		blobStore, err := gcsstorage.New(ctx, a.cfg.Storage.GCS, a.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobStore = blobStore
		provider = blobStore
		a.logger.Info("mirroring images to GCS", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
	}
	a.mirrors = append(a.mirrors, storage.NewImageMirror(provider, prefix, a.logger.Named("image_mirror")))
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if !a.cfg.DB.Enabled {
		a.logger.Info("no database configured, skipping outcome and run stores")
		return nil
	}
	pool, err := pgstore.NewPool(ctx, a.cfg.DB.Config)
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool

	outcomes, err := pgstore.NewOutcomeStore(pool, a.cfg.DB.OutcomeTable)
	if err != nil {
		return fmt.Errorf("outcome store init failed: %w", err)
	}
	runs, err := pgstore.NewRunStore(pool, a.cfg.DB.RunTable)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	if a.cfg.DB.EnsureSchema {
		if err := outcomes.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := runs.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	a.runStore = runs
	a.mirrors = append(a.mirrors, outcomes)
	a.logger.Info("outcome store initialized",
		zap.String("outcome_table", a.cfg.DB.OutcomeTable),
		zap.String("run_table", a.cfg.DB.RunTable),
	)
	return nil
}

func (a *App) setupNotifier(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		return nil
	}
	var notifier publisher.Notifier
	switch a.cfg.PubSub.Backend {
	case config.PubSubBackendMemory:
		notifier = memorypublisher.New()
		a.logger.Info("recording outcome notifications in memory")
	default:
		client, err := gcppublisher.New(ctx, a.cfg.PubSub.Config)
		if err != nil {
			return fmt.Errorf("pubsub init failed: %w", err)
		}
		a.notifier = client
		notifier = client
		a.logger.Info("Pub/Sub notifier initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}
	a.mirrors = append(a.mirrors, publisher.NewOutcomeMirror(notifier))
	return nil
}

func (a *App) setupProgress(context.Context) error {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		a.logger.Warn("prometheus progress sink disabled", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if a.runStore != nil {
		sinkList = append(sinkList, a.runStore)
	}
	a.progressHub = progress.NewHub(progress.HubConfig{Logger: a.logger.Named("progress_hub")}, sinkList...)
	a.logger.Debug("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

// Runner assembles a runner writing to outputDir, or to the configured
// directory when outputDir is empty.
func (a *App) Runner(outputDir string) (*worker.Runner, error) {
	if outputDir == "" {
		outputDir = a.cfg.Sourcing.OutputDir
	}
	store, err := localstorage.New(localstorage.Config{BaseDir: outputDir})
	if err != nil {
		return nil, fmt.Errorf("image store init failed: %w", err)
	}
	sequencer := worker.NewSequencer(
		a.searchers,
		a.ranker,
		a.downloader,
		store,
		a.hasher,
		a.pacer,
		a.logger.Named("sequencer"),
	)
	processor := worker.NewProcessor(
		worker.ProcessorConfig{
			Strategies:          a.cfg.Sourcing.Strategies,
			SkipItemsWithImages: a.cfg.Sourcing.SkipItemsWithImages,
		},
		sequencer,
		store,
		a.ledger,
		a.mirrors,
		a.publisher,
		a.pacer,
		system.New(),
		a.logger.Named("processor"),
	)
	return worker.NewRunner(
		processor,
		a.ledger,
		store,
		uuid.NewUUIDGenerator(),
		system.New(),
		a.logger.Named("runner"),
	), nil
}

// Run executes one run over req.Items. Events go to emit and to the progress
// hub's sinks.
func (a *App) Run(ctx context.Context, req api.RunRequest, emit progress.Emitter) (worker.Summary, error) {
	outputDir, err := api.ResolveOutputDir(a.cfg.Sourcing.OutputDir, req.OutputDir)
	if err != nil {
		return worker.Summary{}, err
	}
	return a.runItems(ctx, outputDir, req.Items, emit, worker.RunOptions{Publish: req.Publish})
}

// SourceImages runs the pipeline over items in the configured output
// directory, reporting each terminal outcome to observe.
func (a *App) SourceImages(
	ctx context.Context,
	items []sourcing.CatalogItem,
	publish bool,
	emit progress.Emitter,
	observe func(sourcing.Outcome),
) (worker.Summary, error) {
	return a.runItems(ctx, "", items, emit, worker.RunOptions{Publish: publish, Observe: observe})
}

func (a *App) runItems(
	ctx context.Context,
	outputDir string,
	items []sourcing.CatalogItem,
	emit progress.Emitter,
	opts worker.RunOptions,
) (worker.Summary, error) {
	runner, err := a.Runner(outputDir)
	if err != nil {
		return worker.Summary{}, err
	}
	if opts.Publish && a.publisher == nil {
		a.logger.Warn("publication requested but not configured, continuing without it")
		opts.Publish = false
	}

	metrics.RunStarted()
	defer metrics.RunFinished()
	var hub progress.Emitter
	if a.progressHub != nil {
		hub = a.progressHub
	}
	return runner.Run(ctx, items, progress.Tee(emit, hub), opts)
}

// Sync brings the WordPress storefront up to date: products without an
// image get one and uncategorized products get a predicted category.
func (a *App) Sync(ctx context.Context, opts catalogsync.Options, emit progress.Emitter) (catalogsync.Report, error) {
	if a.storefront == nil {
		return catalogsync.Report{}, ErrStorefrontNotConfigured
	}
	syncer := catalogsync.New(a.cfg.Sync, a.storefront, a, a.logger.Named("sync"))
	return syncer.Run(ctx, opts, emit)
}

// Serve starts the HTTP API and blocks until ctx is cancelled or a signal
// arrives, then shuts down.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(a, a.History(), *a.cfg, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.progressHub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped", zap.Int64("count", dropped))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.blobStore != nil {
		if err := a.blobStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
