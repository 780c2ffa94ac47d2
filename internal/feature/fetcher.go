package feature

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
	"github.com/kailas-cloud/prodsearch/internal/cache"
	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/store"
)

// ProductStore is the persistence surface the fetcher reads feature rows from.
type ProductStore interface {
	ProductFeatures(ctx context.Context, ids []string) (map[string]store.FeatureRow, error)
	CategoryAffinity(ctx context.Context, userID, category string) (float64, error)
}

// AffinityModel predicts user-product affinity from offline-trained factors.
type AffinityModel interface {
	Knows(userID string) bool
	Affinity(userID, productID string) (float64, bool)
}

// Config tunes the fetcher. Zero values take defaults.
type Config struct {
	// Concurrency caps in-flight per-product lookups.
	Concurrency int64
	// StoreTimeout bounds each feature-store round trip.
	StoreTimeout time.Duration
	// FreshnessHalfLife is the age at which the freshness signal decays to 0.5.
	FreshnessHalfLife time.Duration
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 250 * time.Millisecond
	}
	if c.FreshnessHalfLife <= 0 {
		c.FreshnessHalfLife = 90 * 24 * time.Hour
	}
}

// Fetcher enriches a candidate pool with ranking features. Enrichment is
// best-effort: a feature that cannot be resolved is left absent and the
// ranker renormalizes around it.
type Fetcher struct {
	store  ProductStore
	tier   *cache.Tier
	cf     AffinityModel // nil when no factor model was loaded
	br     *breaker.Breaker
	sem    *semaphore.Weighted
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithClock overrides the time source used for freshness decay.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New builds a Fetcher. cf may be nil; every user is then cold-start.
func New(st ProductStore, tier *cache.Tier, cf AffinityModel, br *breaker.Breaker, cfg Config, logger *zap.Logger, opts ...Option) *Fetcher {
	cfg.applyDefaults()
	f := &Fetcher{
		store:  st,
		tier:   tier,
		cf:     cf,
		br:     br,
		sem:    semaphore.NewWeighted(cfg.Concurrency),
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// cachedRow is the feature-namespace cache document for one product.
type cachedRow struct {
	Category   string    `json:"category"`
	Popularity float64   `json:"popularity"`
	CreatedAt  time.Time `json:"created_at"`
}

// Enrich resolves popularity, freshness, collaborative-filtering affinity
// and category affinity for every candidate, mutating the pool in place.
// Returns false only when no feature source could be reached at all.
func (f *Fetcher) Enrich(ctx context.Context, userID string, cands []domain.Candidate) bool {
	if len(cands) == 0 {
		return true
	}

	rows, reachable := f.resolveRows(ctx, cands)

	now := f.now()
	for i := range cands {
		row, ok := rows[cands[i].ProductID]
		if !ok {
			continue
		}
		cands[i].Category = row.Category
		cands[i].SetFeature(domain.FeaturePopularity, clamp01(row.Popularity))
		cands[i].SetFeature(domain.FeatureFreshness, freshness(now.Sub(row.CreatedAt), f.cfg.FreshnessHalfLife))
	}

	f.applyAffinity(userID, cands)
	if f.applyCategoryAffinity(ctx, userID, cands, rows) {
		reachable = true
	}
	return reachable
}

// resolveRows reads feature rows cache-aside: per-product cache lookups
// first, then one batched store read for the misses, written back on the
// way out. The second return is false when neither layer responded.
func (f *Fetcher) resolveRows(ctx context.Context, cands []domain.Candidate) (map[string]store.FeatureRow, bool) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		rows = make(map[string]store.FeatureRow, len(cands))
	)
	for i := range cands {
		id := cands[i].ProductID
		if err := f.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer f.sem.Release(1)
			var doc cachedRow
			if !f.tier.GetJSON(ctx, cache.NamespaceFeature, id, &doc) {
				return
			}
			mu.Lock()
			rows[id] = store.FeatureRow{
				ProductID:  id,
				Category:   doc.Category,
				Popularity: doc.Popularity,
				CreatedAt:  doc.CreatedAt,
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	cacheHits := len(rows)
	misses := make([]string, 0, len(cands)-cacheHits)
	for i := range cands {
		if _, ok := rows[cands[i].ProductID]; !ok {
			misses = append(misses, cands[i].ProductID)
		}
	}
	if len(misses) == 0 {
		return rows, true
	}

	err := f.br.Do(ctx, func(ctx context.Context) error {
		fctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
		defer cancel()
		fetched, err := f.store.ProductFeatures(fctx, misses)
		if err != nil {
			return err
		}
		for id, row := range fetched {
			rows[id] = row
			f.tier.PutJSON(ctx, cache.NamespaceFeature, id, cachedRow{
				Category:   row.Category,
				Popularity: row.Popularity,
				CreatedAt:  row.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		f.logger.Warn("feature store lookup failed",
			zap.Int("misses", len(misses)),
			zap.Error(err))
		return rows, cacheHits > 0
	}
	return rows, true
}

// applyAffinity resolves the collaborative-filtering signal. Cold-start
// users (and products the model never saw) fall back to popularity so new
// accounts still get a usable personalization column.
func (f *Fetcher) applyAffinity(userID string, cands []domain.Candidate) {
	known := f.cf != nil && userID != "" && f.cf.Knows(userID)
	for i := range cands {
		if known {
			if v, ok := f.cf.Affinity(userID, cands[i].ProductID); ok {
				cands[i].SetFeature(domain.FeatureAffinity, v)
				continue
			}
		}
		if pop, ok := cands[i].Feature(domain.FeaturePopularity); ok {
			cands[i].SetFeature(domain.FeatureAffinity, pop)
		}
	}
}

// applyCategoryAffinity looks up the user's affinity for each distinct
// candidate category, bounded by the fetcher's concurrency cap. Returns
// true when at least one lookup succeeded.
func (f *Fetcher) applyCategoryAffinity(ctx context.Context, userID string, cands []domain.Candidate, rows map[string]store.FeatureRow) bool {
	if userID == "" {
		return false
	}
	categories := make(map[string]struct{}, 4)
	for _, row := range rows {
		if row.Category != "" {
			categories[row.Category] = struct{}{}
		}
	}
	if len(categories) == 0 {
		return false
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		byCat    = make(map[string]float64, len(categories))
		anyAlive bool
	)
	for cat := range categories {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(cat string) {
			defer wg.Done()
			defer f.sem.Release(1)
			var (
				score float64
				found bool
			)
			// A missing affinity row is a healthy response, not a failure.
			err := f.br.Do(ctx, func(ctx context.Context) error {
				fctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
				defer cancel()
				s, err := f.store.CategoryAffinity(fctx, userID, cat)
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				if err != nil {
					return err
				}
				score, found = s, true
				return nil
			})
			if err != nil {
				f.logger.Debug("category affinity lookup failed",
					zap.String("category", cat),
					zap.Error(err))
				return
			}
			mu.Lock()
			anyAlive = true
			if found {
				byCat[cat] = score
			}
			mu.Unlock()
		}(cat)
	}
	wg.Wait()

	for i := range cands {
		row, ok := rows[cands[i].ProductID]
		if !ok {
			continue
		}
		if score, ok := byCat[row.Category]; ok {
			cands[i].SetFeature(domain.FeatureCategoryAffinity, score)
		}
	}
	return anyAlive
}

// freshness decays exponentially with age, halving every half-life.
func freshness(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(halfLife))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
