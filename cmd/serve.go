package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/api"
	"github.com/tracklens/sitescanner/internal/blob"
	"github.com/tracklens/sitescanner/internal/clock/system"
	"github.com/tracklens/sitescanner/internal/config"
	"github.com/tracklens/sitescanner/internal/database"
	"github.com/tracklens/sitescanner/internal/engine"
	"github.com/tracklens/sitescanner/internal/fetch"
	"github.com/tracklens/sitescanner/internal/id/uuid"
	"github.com/tracklens/sitescanner/internal/logging"
	"github.com/tracklens/sitescanner/internal/metrics"
	"github.com/tracklens/sitescanner/internal/niche"
	"github.com/tracklens/sitescanner/internal/notify"
	"github.com/tracklens/sitescanner/internal/recommend"
	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/seeder"
	"github.com/tracklens/sitescanner/internal/store"
	"github.com/tracklens/sitescanner/internal/store/memory"
	"github.com/tracklens/sitescanner/internal/store/postgres"
	"github.com/tracklens/sitescanner/internal/stream"
	"github.com/tracklens/sitescanner/internal/telemetry"
)

const serviceName = "sitescanner"

// newServeCmd creates the 'serve' subcommand, which runs the scanner
// REST API until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scanner HTTP service",
		Long: `Starts the REST API that drives scans: creation, chunked crawl
processing, niche detection, credential handling, recommendations, and
SSE progress streaming.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if _, err := telemetry.InitMeterProvider(ctx, serviceName, "0.1"); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	if _, err := telemetry.InitTracerProvider(ctx, serviceName); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	scanStore, closeStore, err := buildScanStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	fetcher, closeFetcher, err := buildFetcher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFetcher()

	opts, closeOpts, err := buildOptions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeOpts()

	ids := uuid.New()
	clock := system.New()
	synth := recommend.NewSynthesizer(ids, clock, logger.Named("recommend"))
	sd := seeder.New(seeder.Config{
		UserAgent:  cfg.Crawl.UserAgent,
		Timeout:    cfg.FetchTimeout(),
		URLCeiling: cfg.Crawl.SeedURLCeiling,
	}, logger.Named("seeder"))

	eng := engine.New(engine.Config{
		DefaultMaxPages:     cfg.Crawl.MaxPagesDefault,
		DefaultMaxDepth:     cfg.Crawl.MaxDepthDefault,
		MaxPagesCeiling:     cfg.Crawl.MaxPagesCeiling,
		SeedURLCeiling:      cfg.Crawl.SeedURLCeiling,
		ConfidenceThreshold: cfg.Niche.ConfidenceThreshold,
	}, scanStore, fetcher, buildClassifier(cfg, logger), sd, synth, clock, ids, logger.Named("engine"), opts)

	poller := stream.New(stream.Config{
		Interval:    cfg.StreamInterval(),
		MaxDuration: cfg.StreamMaxDuration(),
	}, scanStore, logger.Named("stream"))

	apiServer := api.NewServer(eng, poller, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// buildScanStore selects Postgres when a DSN is configured and the
// in-memory store otherwise.
func buildScanStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.ScanStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("using in-memory scan store")
		return memory.NewScanStore(), func() {}, nil
	}
	pg, err := postgres.NewScanStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
		MinConns: int32(cfg.DB.MaxIdleConns),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres scan store: %w", err)
	}
	logger.Info("using postgres scan store")
	return pg, pg.Close, nil
}

func buildFetcher(cfg config.Config, logger *zap.Logger) (scan.Fetcher, func(), error) {
	var headless *fetch.Headless
	closeFn := func() {}
	if cfg.Headless.Enabled {
		h, err := fetch.NewHeadless(fetch.HeadlessConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless renderer init failed, continuing without it", zap.Error(err))
		} else {
			headless = h
			closeFn = h.Close
		}
	}
	f := fetch.New(fetch.Config{
		UserAgent:    cfg.Crawl.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		PerHostRPS:   cfg.Crawl.PerHostRPS,
		PerHostBurst: cfg.Crawl.PerHostBurst,
	}, headless, logger.Named("fetch"))
	return f, closeFn, nil
}

// buildClassifier chains the Anthropic classifier over the keyword
// heuristic, so an API outage degrades instead of failing detection.
func buildClassifier(cfg config.Config, logger *zap.Logger) scan.Classifier {
	heuristic := niche.NewHeuristicClassifier(logger.Named("niche"))
	if cfg.Niche.AnthropicAPIKey == "" {
		logger.Warn("no anthropic api key configured, using heuristic classifier only")
		return heuristic
	}
	primary := niche.NewAnthropicClassifier(cfg.Niche.AnthropicAPIKey, cfg.Niche.Model, logger.Named("niche"))
	return niche.NewFallbackClassifier(primary, heuristic, logger.Named("niche"))
}

// buildOptions wires the optional engine collaborators: the snapshot
// store, the finished-scan notifier, and the credential store.
func buildOptions(ctx context.Context, cfg config.Config, logger *zap.Logger) (engine.Options, func(), error) {
	var opts engine.Options
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Storage.Backend {
	case "", "none":
	case "local":
		local, err := blob.NewLocalStore(blob.LocalConfig{
			BaseDir: cfg.Storage.LocalDir,
			Prefix:  cfg.Storage.Prefix,
		})
		if err != nil {
			return opts, nil, fmt.Errorf("init local snapshot store: %w", err)
		}
		opts.Snapshots = local
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return opts, nil, fmt.Errorf("init gcs client: %w", err)
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("closing gcs client", zap.Error(err))
			}
		})
		gcs, err := blob.NewGCSStore(client, blob.GCSConfig{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
		if err != nil {
			closeAll()
			return opts, nil, fmt.Errorf("init gcs snapshot store: %w", err)
		}
		opts.Snapshots = gcs
	}

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		notifier, err := notify.NewPubSubNotifier(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger.Named("notify"))
		if err != nil {
			closeAll()
			return opts, nil, fmt.Errorf("init pubsub notifier: %w", err)
		}
		closers = append(closers, func() {
			if err := notifier.Close(); err != nil {
				logger.Warn("closing pubsub notifier", zap.Error(err))
			}
		})
		opts.Notifier = notifier
	}

	if cfg.DB.DSN != "" {
		creds, err := database.NewCredentialStore(ctx, cfg.DB.DSN, cfg.DB.MaxOpenConns, cfg.DB.MaxIdleConns)
		if err != nil {
			closeAll()
			return opts, nil, fmt.Errorf("init credential store: %w", err)
		}
		closers = append(closers, func() {
			if err := creds.Close(); err != nil {
				logger.Warn("closing credential store", zap.Error(err))
			}
		})
		opts.Credentials = creds
	}

	return opts, closeAll, nil
}
