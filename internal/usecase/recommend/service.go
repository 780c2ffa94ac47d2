package recommend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
	"github.com/kailas-cloud/prodsearch/internal/cache"
	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/logger"
	"github.com/kailas-cloud/prodsearch/internal/metrics"
	"github.com/kailas-cloud/prodsearch/internal/ranking"
)

// Recommendation sources reported in the response.
const (
	SourcePersonalized = "personalized"
	SourcePopular      = "popular"
)

// Response is the ranked recommendation list for one user.
type Response struct {
	Results []domain.Result `json:"results"`
	Source  string          `json:"source"`
}

// Config tunes the recommender.
type Config struct {
	// PoolSize is how many candidates are pulled before ranking.
	PoolSize int
	// Weights used for the final ranking pass.
	Weights domain.WeightSet
}

// Service produces per-user product recommendations: collaborative filtering
// for users the factor model knows, the popularity chart for everyone else.
type Service struct {
	limiter Admitter
	model   Recommender // nil when no factor model was loaded
	popular PopularityReader
	enrich  Enricher
	tier    *cache.Tier
	br      *breaker.Breaker
	cfg     Config
}

// New creates the recommendation service. model may be nil. Popularity-chart
// reads go through the shared database breaker.
func New(limiter Admitter, model Recommender, popular PopularityReader, enrich Enricher, tier *cache.Tier, br *breaker.Breaker, cfg Config) *Service {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 100
	}
	if cfg.Weights.Global == (domain.RankingWeights{}) {
		cfg.Weights.Global = domain.DefaultWeights()
	}
	return &Service{
		limiter: limiter,
		model:   model,
		popular: popular,
		enrich:  enrich,
		tier:    tier,
		br:      br,
		cfg:     cfg,
	}
}

// Recommend returns the top-k products for a user, optionally scoped to a
// category. Cold-start users fall back to the popularity chart.
func (s *Service) Recommend(ctx context.Context, userID string, k int, category string) (*Response, error) {
	log := logger.FromContext(ctx)

	decision := s.limiter.Admit(userID, "", 1)
	if !decision.Allowed {
		return nil, domain.NewRateLimit(decision.RetryAfter)
	}

	var (
		pool   []domain.Candidate
		source string
	)
	if s.model != nil && s.model.Knows(userID) {
		pool = personalizedPool(s.model.Recommend(userID, s.cfg.PoolSize))
		source = SourcePersonalized
	} else {
		hits, err := s.popularHits(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("popular fallback: %w", domain.ErrUnavailable)
		}
		pool = popularPool(hits)
		source = SourcePopular
	}

	if len(pool) == 0 {
		return &Response{Results: []domain.Result{}, Source: source}, nil
	}

	if !s.enrich.Enrich(ctx, userID, pool) {
		log.Warn("enrichment unavailable for recommendations", zap.String("user_id", userID))
	}

	return &Response{
		Results: ranking.Rank(pool, s.cfg.Weights.For(category), k),
		Source:  source,
	}, nil
}

// popularHits reads the popularity chart cache-aside.
func (s *Service) popularHits(ctx context.Context, category string) ([]domain.ScoredID, error) {
	key := category
	if key == "" {
		key = "_all"
	}

	var hits []domain.ScoredID
	if s.tier.GetJSON(ctx, cache.NamespacePopular, key, &hits) {
		return hits, nil
	}

	start := time.Now()
	err := s.br.Do(ctx, func(ctx context.Context) error {
		var err error
		hits, err = s.popular.PopularProducts(ctx, category, s.cfg.PoolSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RetrieverDuration.WithLabelValues("popular").Observe(time.Since(start).Seconds())

	s.tier.PutJSON(ctx, cache.NamespacePopular, key, hits)
	return hits, nil
}

// personalizedPool seeds candidates from factor-model scores. The affinity
// feature is preset so ranking works even if enrichment later degrades.
func personalizedPool(hits []domain.ScoredID) []domain.Candidate {
	pool := make([]domain.Candidate, 0, len(hits))
	for _, h := range hits {
		c := domain.Candidate{ProductID: h.ProductID}
		c.SetFeature(domain.FeatureAffinity, h.Score)
		pool = append(pool, c)
	}
	return pool
}

// popularPool seeds candidates from the popularity chart.
func popularPool(hits []domain.ScoredID) []domain.Candidate {
	pool := make([]domain.Candidate, 0, len(hits))
	for _, h := range hits {
		c := domain.Candidate{ProductID: h.ProductID}
		c.SetFeature(domain.FeaturePopularity, h.Score)
		pool = append(pool, c)
	}
	return pool
}
