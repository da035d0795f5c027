// Package app wires configuration, the subgraph cache, the sequence
// repository, the scorer, and the HTTP surface into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mrkhmath/mathgraph-backend/internal/config"
	"github.com/mrkhmath/mathgraph-backend/internal/httpapi"
	"github.com/mrkhmath/mathgraph-backend/internal/observability"
	"github.com/mrkhmath/mathgraph-backend/internal/pipeline"
	"github.com/mrkhmath/mathgraph-backend/internal/platform/logger"
	"github.com/mrkhmath/mathgraph-backend/internal/projection"
	"github.com/mrkhmath/mathgraph-backend/internal/scorer"
	"github.com/mrkhmath/mathgraph-backend/internal/scorer/ginlstm"
	"github.com/mrkhmath/mathgraph-backend/internal/scorer/mock"
	"github.com/mrkhmath/mathgraph-backend/internal/sequence"
	"github.com/mrkhmath/mathgraph-backend/internal/subgraph"
)

type App struct {
	Log    *logger.Logger
	Config *config.Config

	cache        *subgraph.Cache
	server       *http.Server
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	ctx := context.Background()
	otelShutdown := observability.Init(ctx, log, observability.Config{
		ServiceName: "readiness",
		Environment: cfg.Env,
	})

	fetcher, err := newFetcher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cache, err := subgraph.NewCache(fetcher, subgraph.CacheOptions{
		Dir:                 cfg.Subgraphs.CacheDir,
		MaxBytes:            int64(cfg.Subgraphs.MaxCacheMB) << 20,
		DownloadConcurrency: int64(cfg.Subgraphs.DownloadConcurrency),
		Ext:                 cfg.Subgraphs.Ext,
	}, log)
	if err != nil {
		return nil, err
	}

	repo, err := newRepository(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("sequence repository loaded",
		"source", cfg.Sequences.Source, "students", repo.Students())

	sc, err := newScorer(cfg)
	if err != nil {
		return nil, err
	}

	pl := pipeline.New(cache, repo, sc, pipeline.Options{
		HistoryLimit:   cfg.Pipeline.HistoryLimit,
		DownloadBudget: cfg.Pipeline.DownloadBudget,
		Threshold:      cfg.Pipeline.Threshold,
	}, log)

	projOpts := projection.Options{TTL: cfg.Projection.RedisTTL.Duration}
	if cfg.Projection.RedisAddr != "" {
		projOpts.Redis = goredis.NewClient(&goredis.Options{Addr: cfg.Projection.RedisAddr})
	}
	pr := projection.New(cache, projOpts, log)

	r := httpapi.NewRouter(cfg, log, pl, pr)

	return &App{
		Log:          log,
		Config:       cfg,
		cache:        cache,
		server:       httpapi.NewServer(cfg, r),
		otelShutdown: otelShutdown,
	}, nil
}

func newFetcher(ctx context.Context, cfg *config.Config) (subgraph.Fetcher, error) {
	switch cfg.Subgraphs.Fetcher {
	case "gcs":
		return subgraph.NewGCSFetcher(ctx,
			cfg.Subgraphs.GCSBucket,
			cfg.Subgraphs.GCSPrefix,
			cfg.Subgraphs.Ext,
			cfg.Subgraphs.GCSCredentialsFile,
		)
	default:
		return subgraph.NewHTTPFetcher(
			cfg.Subgraphs.BaseURL,
			cfg.Subgraphs.Ext,
			cfg.Subgraphs.AttemptTimeout.Duration,
		)
	}
}

func newRepository(cfg *config.Config) (*sequence.Repository, error) {
	switch cfg.Sequences.Source {
	case "sqlite":
		return sequence.LoadSQLite(cfg.Sequences.Path)
	case "postgres":
		return sequence.LoadPostgres(cfg.Sequences.DSN)
	default:
		return sequence.LoadJSON(cfg.Sequences.Path)
	}
}

func newScorer(cfg *config.Config) (scorer.Scorer, error) {
	switch cfg.Scorer.Type {
	case "ginlstm":
		return ginlstm.Load(cfg.Scorer.CheckpointPath)
	default:
		return mock.New(), nil
	}
}

func (a *App) Run(ctx context.Context) error {
	a.warm(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("http server listening", "addr", a.Config.HTTP.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		_ = a.server.Shutdown(shutdownCtx)
		a.close(shutdownCtx)
		return nil
	case err := <-errCh:
		a.close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// warm prefetches configured concept codes so first requests hit the disk
// cache. Failures are logged, never fatal.
func (a *App) warm(ctx context.Context) {
	codes := a.Config.Subgraphs.WarmCodes
	if len(codes) == 0 {
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Config.Subgraphs.DownloadConcurrency)
	for _, code := range codes {
		code := code
		g.Go(func() error {
			if _, _, err := a.cache.Get(ctx, code); err != nil {
				a.Log.Warn("warmup fetch failed", "code", code, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	a.Log.Info("subgraph warmup complete", "codes", len(codes))
}

func (a *App) close(ctx context.Context) {
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	a.Log.Sync()
}
