package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kb/config"
	"kb/internal/adapter/cache"
	"kb/internal/adapter/chunker"
	"kb/internal/adapter/clock"
	"kb/internal/adapter/embedding"
	"kb/internal/adapter/events"
	"kb/internal/adapter/fs"
	"kb/internal/adapter/memstore"
	"kb/internal/adapter/metrics"
	"kb/internal/adapter/store"
	"kb/internal/logging"
	"kb/internal/port"
	"kb/internal/usecase"
)

// Engine is a fully wired retrieval service plus the resources it holds.
type Engine struct {
	Service  *usecase.RetrievalService
	Bus      *events.Bus
	Registry *prometheus.Registry

	store   *store.BoltStore
	redis   *cache.RedisCache
	metrics *http.Server
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// New builds an engine for the project rooted at dir.
func New(cfg *config.Config, dir string, logger *zap.Logger) (*Engine, error) {
	logger = logging.OrNop(logger)
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{cancel: cancel, logger: logger}

	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	if err := config.EnsureKBDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create .kb directory: %w", err)
	}
	st, err := store.NewBoltStore(cfg.StorePath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open namespace store: %w", err)
	}
	e.store = st

	namespaces, err := memstore.NewNamespaceStore(st, clock.System{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load namespaces: %w", err)
	}

	embCache, err := e.buildCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	if pr, ok := embedder.(port.ProgressReporter); ok {
		go drainProgress(ctx, pr.Progress(), logger)
	}

	e.Bus = events.NewBus()
	e.Registry = prometheus.NewRegistry()
	e.Bus.Subscribe(metrics.NewCollector(e.Registry).Observe)
	if cfg.Metrics.Enabled {
		e.serveMetrics(cfg.Metrics.Addr)
	}

	vectorizer := usecase.NewVectorizer(embedder, embCache, e.Bus, logger, usecase.VectorizerConfig{
		BatchSize:             cfg.Embedding.BatchSize,
		MaxConcurrentRequests: int64(cfg.Embedding.MaxConcurrent),
	})

	e.Service, err = usecase.NewRetrievalService(
		usecase.ServiceConfig{
			Defaults:             cfg.Defaults,
			Models:               cfg.Models,
			AutoCreateNamespaces: cfg.Engine.AutoCreateNamespaces,
			MaxDocumentChars:     cfg.Engine.MaxDocumentChars,
		},
		namespaces,
		vectorizer,
		chunker.NewRecursiveSplitter(),
		fs.NewTextProvider(cfg.Index.MaxFileBytes),
		e.Bus,
		logger,
	)
	if err != nil {
		return nil, err
	}

	ok = true
	return e, nil
}

func (e *Engine) buildCache(ctx context.Context, cfg config.CacheConfig) (port.EmbeddingCache, error) {
	switch cfg.Backend {
	case "", "memory":
		c := cache.NewMemoryCache(cfg.TTL, cache.WithMaxEntries(cfg.MaxEntries))
		if cfg.CompactionInterval > 0 {
			c.StartCompaction(ctx, cfg.CompactionInterval)
		}
		return c, nil
	case "redis":
		password := ""
		if cfg.Redis.PasswordEnv != "" {
			password = os.Getenv(cfg.Redis.PasswordEnv)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := cache.NewRedisCache(pingCtx, cache.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.TTL,
		}, e.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		e.redis = c
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

func buildEmbedder(cfg config.EmbeddingConfig) (port.Embedder, error) {
	switch cfg.Provider {
	case "", "hash":
		return embedding.NewHashEmbedder(), nil
	case "openai":
		emb, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKeyEnv: cfg.APIKeyEnv,
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func drainProgress(ctx context.Context, ch <-chan port.ProgressEvent, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			logger.Debug("embedder progress",
				zap.String("stage", ev.Stage),
				zap.String("model", ev.Model),
				zap.Int("done", ev.Done),
				zap.Int("total", ev.Total),
				zap.String("message", ev.Message))
		}
	}
}

func (e *Engine) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.Registry, promhttp.HandlerOpts{}))
	e.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := e.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Warn("metrics endpoint stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	e.logger.Info("serving metrics", zap.String("addr", addr))
}

// Close stops background work and releases the store and cache connections.
func (e *Engine) Close() error {
	e.cancel()

	var errs []error
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, e.metrics.Shutdown(ctx))
		cancel()
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
