package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
	"github.com/kailas-cloud/prodsearch/internal/cache"
	"github.com/kailas-cloud/prodsearch/internal/config"
	"github.com/kailas-cloud/prodsearch/internal/embed"
	"github.com/kailas-cloud/prodsearch/internal/feature"
	logpkg "github.com/kailas-cloud/prodsearch/internal/logger"
	"github.com/kailas-cloud/prodsearch/internal/metrics"
	"github.com/kailas-cloud/prodsearch/internal/ratelimit"
	"github.com/kailas-cloud/prodsearch/internal/recommend"
	"github.com/kailas-cloud/prodsearch/internal/retrieval/lexical"
	"github.com/kailas-cloud/prodsearch/internal/retrieval/vector"
	"github.com/kailas-cloud/prodsearch/internal/store"
	chiTransport "github.com/kailas-cloud/prodsearch/internal/transport/chi"
	cataloguc "github.com/kailas-cloud/prodsearch/internal/usecase/catalog"
	healthuc "github.com/kailas-cloud/prodsearch/internal/usecase/health"
	recommenduc "github.com/kailas-cloud/prodsearch/internal/usecase/recommend"
	searchuc "github.com/kailas-cloud/prodsearch/internal/usecase/search"
	"github.com/kailas-cloud/prodsearch/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting prodsearch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_path", cfg.Database.Path),
		zap.String("cache_addr", cfg.Cache.Addr),
	)

	metrics.RegisterPipelineMetrics()

	// Product store (SQLite + FTS5)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open product store", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	if err := st.Ping(ctx); err != nil {
		logger.Fatal("Product store not ready", zap.Error(err))
	}
	logger.Info("Connected to product store")

	// Shared circuit breakers, one per dependency
	brCfg := breaker.Config{
		ErrorThreshold: cfg.Breaker.ErrorThreshold,
		Window:         time.Duration(cfg.Breaker.WindowSec) * time.Second,
		MinSamples:     cfg.Breaker.MinSamples,
		Cooldown:       time.Duration(cfg.Breaker.CooldownSec) * time.Second,
		ProbeFraction:  cfg.Breaker.ProbeFraction,
	}
	onStateChange := breakerInstrumentation(logger)
	dbBreaker := breaker.New("database", brCfg, breaker.WithOnStateChange(onStateChange))
	cacheBreaker := breaker.New("cache", brCfg, breaker.WithOnStateChange(onStateChange))
	embedBreaker := breaker.New("embedding", brCfg, breaker.WithOnStateChange(onStateChange))

	// Cache tier: Redis when configured, no-op otherwise
	var kv cache.KV = cache.NoopKV{}
	var cachePinger healthuc.CachePinger
	if cfg.Cache.Addr != "" {
		redisKV, err := cache.NewRedisKV(cache.RedisConfig{
			Addrs:    []string{cfg.Cache.Addr},
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache backend", zap.Error(err))
		}
		defer redisKV.Close()

		readiness := time.Duration(cfg.Cache.ReadinessTimeoutSec) * time.Second
		if err := redisKV.WaitForReady(ctx, readiness); err != nil {
			// Cache is an accelerator, not a dependency: start degraded.
			logger.Warn("Cache backend not ready, starting without it", zap.Error(err))
		}
		kv = redisKV
		cachePinger = redisKV
		logger.Info("Connected to cache backend")
	} else {
		logger.Info("No cache backend configured, running cache-less")
	}
	tier := cache.New(kv, cacheBreaker, cache.Config{
		KeyPrefix: cfg.Cache.KeyPrefix,
		OpTimeout: time.Duration(cfg.Cache.OpTimeoutMS) * time.Millisecond,
	}, logger)

	// Vector index and embedder: both optional, absence means lexical-only
	var index *vector.Index
	var embedChecker healthuc.EmbeddingChecker
	var queryEmbedder vector.Embedder
	if cfg.Artifacts.VectorIndexPath != "" {
		index, err = vector.LoadIndex(cfg.Artifacts.VectorIndexPath)
		if err != nil {
			logger.Warn("Vector index unavailable, serving lexical-only",
				zap.String("path", cfg.Artifacts.VectorIndexPath),
				zap.Error(err))
			index = nil
		} else {
			logger.Info("Vector index loaded",
				zap.Int("products", index.Len()),
				zap.Int("dimensions", index.Dims()))
		}
	}
	if index != nil {
		queryEmbedder, embedChecker = buildEmbedder(cfg.Embedding, tier, logger)
	}

	// Collaborative-filtering factor model: optional, absence means
	// every user is cold-start
	var model *recommend.Model
	if cfg.Artifacts.FactorModelPath != "" {
		model, err = recommend.LoadModel(cfg.Artifacts.FactorModelPath, cfg.Artifacts.MinCFInteractions)
		if err != nil {
			logger.Warn("Factor model unavailable, all users cold-start",
				zap.String("path", cfg.Artifacts.FactorModelPath),
				zap.Error(err))
			model = nil
		} else {
			logger.Info("Factor model loaded",
				zap.Int("users", model.Users()),
				zap.Int("items", model.Items()))
		}
	}

	// Admission control
	limiter := ratelimit.New(ratelimit.Config{
		Limit:                cfg.RateLimit.Limit,
		Burst:                cfg.RateLimit.Burst,
		Window:               time.Duration(cfg.RateLimit.WindowSec) * time.Second,
		BurstGrace:           time.Duration(cfg.RateLimit.BurstGraceSec) * time.Second,
		SameQueryThreshold:   cfg.RateLimit.SameQueryThreshold,
		EnumerationThreshold: cfg.RateLimit.EnumerationThreshold,
		AbusePenalty:         time.Duration(cfg.RateLimit.AbusePenaltySec) * time.Second,
	}, logger)

	// Retrievers
	lexRetriever := lexical.NewRetriever(st, dbBreaker,
		time.Duration(cfg.Retrieval.LexicalTimeoutMS)*time.Millisecond)
	vecRetriever := vector.NewRetriever(index, queryEmbedder, embedBreaker,
		time.Duration(cfg.Retrieval.VectorTimeoutMS)*time.Millisecond, logger)

	// Feature enrichment. Pass nil interface (not typed nil pointer!) when
	// no model is loaded: (*Model)(nil) wrapped in AffinityModel != nil.
	var affinity feature.AffinityModel
	if model != nil {
		affinity = model
	}
	fetcher := feature.New(st, tier, affinity, dbBreaker, feature.Config{
		Concurrency: int64(cfg.Retrieval.FetchConcurrency),
	}, logger)

	// Use case services
	searchSvc := searchuc.New(limiter, lexRetriever, vecRetriever, fetcher,
		searchuc.NewTierCache(tier), searchuc.Config{
			PoolCap: cfg.Retrieval.PoolCap,
			Weights: cfg.Ranking.Weights,
		})

	var recommender recommenduc.Recommender
	if model != nil {
		recommender = model
	}
	recommendSvc := recommenduc.New(limiter, recommender, st, fetcher, tier, dbBreaker,
		recommenduc.Config{
			PoolSize: cfg.Retrieval.PoolCap,
			Weights:  cfg.Ranking.Weights,
		})

	catalogSvc := cataloguc.New(st, limiter, dbBreaker)
	healthSvc := healthuc.New(st, cachePinger, embedChecker, vecRetriever)

	// HTTP server
	server := chiTransport.NewServer(searchSvc, recommendSvc, catalogSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the decorator chain: OpenAI -> Throttled -> Cached.
// Cached is outermost so cache hits never consume provider quota.
func buildEmbedder(cfg config.EmbeddingConfig, tier *cache.Tier, logger *zap.Logger) (vector.Embedder, healthuc.EmbeddingChecker) {
	base := embed.NewOpenAIEmbedder(&embed.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   "openai",
		Logger:     logger,
	})

	var embedder embed.Embedder = base
	if cfg.RPS > 0 {
		embedder = embed.NewThrottled(embedder, cfg.RPS, cfg.Burst)
	}
	embedder = embed.NewCached(embedder, tier, logger)

	return embedder, base
}

// breakerInstrumentation exports breaker state changes as metrics.
func breakerInstrumentation(logger *zap.Logger) func(name string, from, to breaker.State) {
	gauge := func(s breaker.State) float64 {
		switch s {
		case breaker.StateHalfOpen:
			return 1
		case breaker.StateOpen:
			return 2
		default:
			return 0
		}
	}
	return func(name string, from, to breaker.State) {
		logger.Warn("circuit breaker state change",
			zap.String("dependency", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		metrics.BreakerState.WithLabelValues(name).Set(gauge(to))
		metrics.BreakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
