package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/logger"
	"github.com/kailas-cloud/prodsearch/internal/metrics"
	"github.com/kailas-cloud/prodsearch/internal/ranking"
)

// Degradation markers surfaced in the response so callers can tell a full
// answer from a partial one.
const (
	DegradedVectorIndexAbsent = "vector_index_absent"
	DegradedVectorRetriever   = "vector_retriever"
	DegradedLexicalRetriever  = "lexical_retriever"
	DegradedEnrichment        = "enrichment"
)

// Response is the ranked output of one pipeline run.
type Response struct {
	Results  []domain.Result `json:"results"`
	Degraded []string        `json:"degraded,omitempty"`
	Cached   bool            `json:"-"`
}

// Config tunes the pipeline.
type Config struct {
	// PoolCap bounds the merged candidate pool.
	PoolCap int
	// Weights used when the cached weight set is unavailable.
	Weights domain.WeightSet
}

// Service orchestrates the query pipeline: admission, retrieval fan-out,
// merge, enrichment, ranking. Every stage degrades independently; the
// pipeline fails a request only when admission denies it or nothing usable
// remains.
type Service struct {
	limiter Admitter
	lexical Retriever
	vector  VectorRetriever
	enrich  Enricher
	cache   ResultCache
	cfg     Config
}

// New creates the pipeline service.
func New(limiter Admitter, lexical Retriever, vector VectorRetriever, enrich Enricher, cache ResultCache, cfg Config) *Service {
	if cfg.Weights.Global == (domain.RankingWeights{}) {
		cfg.Weights.Global = domain.DefaultWeights()
	}
	return &Service{
		limiter: limiter,
		lexical: lexical,
		vector:  vector,
		enrich:  enrich,
		cache:   cache,
		cfg:     cfg,
	}
}

// Search runs the full pipeline for one query. identity is the rate-limit
// subject (user id, or client address for anonymous traffic).
//
// An empty result set with a nil error is a valid answer: the query simply
// matched nothing. domain.ErrUnavailable is returned only when neither
// retriever produced a usable answer.
func (s *Service) Search(ctx context.Context, identity string, q domain.Query) (*Response, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	decision := s.limiter.Admit(identity, q.Normalized, 1)
	if !decision.Allowed {
		metrics.SearchRequestsTotal.WithLabelValues("rate_limited").Inc()
		log.Info("request denied",
			zap.String("reason", decision.Reason),
			zap.Duration("retry_after", decision.RetryAfter))
		return nil, domain.NewRateLimit(decision.RetryAfter)
	}

	key := cacheKey(q)
	if resp, ok := s.cache.GetResponse(ctx, key); ok {
		resp.Cached = true
		metrics.SearchRequestsTotal.WithLabelValues("cached").Inc()
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
		return resp, nil
	}

	lexHits, semHits, degraded, usable := s.retrieve(ctx, q, log)
	if !usable {
		metrics.SearchRequestsTotal.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("all retrievers down: %w", domain.ErrUnavailable)
	}

	if len(lexHits) == 0 && len(semHits) == 0 {
		resp := &Response{Results: []domain.Result{}, Degraded: degraded}
		if !transientDegradation(degraded) {
			s.cache.PutResponse(ctx, key, resp)
		}
		metrics.SearchRequestsTotal.WithLabelValues("zero_result").Inc()
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
		return resp, nil
	}

	pool := ranking.Merge(lexHits, semHits, s.cfg.PoolCap)

	if !s.enrich.Enrich(ctx, q.UserID, pool) {
		degraded = append(degraded, DegradedEnrichment)
		log.Warn("enrichment unavailable, ranking on retrieval signal only")
	}

	// The lexical retriever filters by category at the source; semantic hits
	// are filtered here once enrichment has resolved their categories.
	// Candidates whose category is unknown are kept.
	if q.Category != "" {
		filtered := pool[:0]
		for i := range pool {
			if pool[i].Category == "" || pool[i].Category == q.Category {
				filtered = append(filtered, pool[i])
			}
		}
		pool = filtered
	}

	weights := s.weightSet(ctx).For(q.Category)
	resp := &Response{
		Results:  ranking.Rank(pool, weights, q.K),
		Degraded: degraded,
	}
	// Responses degraded by a transient outage are not cached: a recovered
	// dependency should serve full answers immediately, not after TTL expiry.
	if !transientDegradation(degraded) {
		s.cache.PutResponse(ctx, key, resp)
	}

	metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	return resp, nil
}

// retrieve fans out to both retrievers concurrently. A failed retriever
// contributes an empty hit list; usable is false only when neither produced
// a valid answer (an empty answer from a healthy retriever is valid).
func (s *Service) retrieve(ctx context.Context, q domain.Query, log *zap.Logger) (lexHits, semHits []domain.ScoredID, degraded []string, usable bool) {
	fetchK := q.K * 3 // over-fetch so the merger has room to rerank
	vectorUp := s.vector.Available()
	if !vectorUp {
		degraded = append(degraded, DegradedVectorIndexAbsent)
	}

	var lexErr, semErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexHits, lexErr = s.lexical.Retrieve(gctx, q, fetchK)
		return nil
	})
	if vectorUp {
		g.Go(func() error {
			semHits, semErr = s.vector.Retrieve(gctx, q, fetchK)
			return nil
		})
	}
	_ = g.Wait() // goroutines report through lexErr / semErr

	if lexErr != nil {
		lexHits = nil
		degraded = append(degraded, DegradedLexicalRetriever)
		log.Warn("lexical retrieval failed", zap.Error(lexErr))
	}
	if vectorUp && semErr != nil {
		semHits = nil
		degraded = append(degraded, DegradedVectorRetriever)
		log.Warn("vector retrieval failed", zap.Error(semErr))
	}

	lexUsable := lexErr == nil
	semUsable := vectorUp && semErr == nil
	return lexHits, semHits, degraded, lexUsable || semUsable
}

// transientDegradation reports whether the degradation markers include a
// recoverable outage. A missing vector index is a deployment mode, not an
// outage, so lexical-only responses stay cacheable.
func transientDegradation(degraded []string) bool {
	for _, d := range degraded {
		if d != DegradedVectorIndexAbsent {
			return true
		}
	}
	return false
}

// weightSet returns the cached ranking weights, falling back to the
// configured set when the cache cannot answer.
func (s *Service) weightSet(ctx context.Context) domain.WeightSet {
	if ws, ok := s.cache.Weights(ctx); ok {
		return ws
	}
	return s.cfg.Weights
}

// cacheKey derives the query-result cache key. Personalization makes the
// result user-specific, so the user id is part of the key.
func cacheKey(q domain.Query) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", q.UserID, q.Normalized, q.Category, q.K)))
	return hex.EncodeToString(h[:16])
}
