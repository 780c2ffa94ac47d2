package ranking

import (
	"sort"

	"github.com/kailas-cloud/prodsearch/internal/domain"
)

// Rank scores the candidate pool with a weighted sum of its signals and
// returns the top k results, ordered by final score descending.
//
// A signal that no candidate in the pool carries is dropped and its weight
// redistributed proportionally over the remaining signals, so scores stay
// comparable when an enrichment source is degraded. A signal missing from
// only some candidates contributes zero for those candidates. Ties break on
// merged retrieval score, then product id, so output is deterministic.
func Rank(cands []domain.Candidate, weights domain.RankingWeights, k int) []domain.Result {
	if len(cands) == 0 || k <= 0 {
		return nil
	}

	eff := effectiveWeights(cands, weights)

	results := make([]domain.Result, 0, len(cands))
	merged := make(map[string]float64, len(cands))
	for i := range cands {
		c := &cands[i]
		breakdown := domain.ScoreBreakdown{
			Retrieval:     eff.Retrieval * c.MergedScore,
			Popularity:    eff.Popularity * featureOrZero(c, domain.FeaturePopularity),
			Freshness:     eff.Freshness * featureOrZero(c, domain.FeatureFreshness),
			Affinity:      eff.Affinity * featureOrZero(c, domain.FeatureAffinity),
			CategoryBoost: eff.CategoryBoost * featureOrZero(c, domain.FeatureCategoryAffinity),
		}
		results = append(results, domain.Result{
			ProductID:  c.ProductID,
			FinalScore: breakdown.Retrieval + breakdown.Popularity + breakdown.Freshness + breakdown.Affinity + breakdown.CategoryBoost,
			Breakdown:  breakdown,
		})
		merged[c.ProductID] = c.MergedScore
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		mi, mj := merged[results[i].ProductID], merged[results[j].ProductID]
		if mi != mj {
			return mi > mj
		}
		return results[i].ProductID < results[j].ProductID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// effectiveWeights drops signals absent from the whole pool and rescales the
// surviving weights so their sum is unchanged. Retrieval is always present.
func effectiveWeights(cands []domain.Candidate, w domain.RankingWeights) domain.RankingWeights {
	present := map[string]bool{}
	for i := range cands {
		for _, name := range []string{
			domain.FeaturePopularity,
			domain.FeatureFreshness,
			domain.FeatureAffinity,
			domain.FeatureCategoryAffinity,
		} {
			if _, ok := cands[i].Feature(name); ok {
				present[name] = true
			}
		}
	}

	eff := domain.RankingWeights{Retrieval: w.Retrieval}
	presentSum := w.Retrieval
	if present[domain.FeaturePopularity] {
		eff.Popularity = w.Popularity
		presentSum += w.Popularity
	}
	if present[domain.FeatureFreshness] {
		eff.Freshness = w.Freshness
		presentSum += w.Freshness
	}
	if present[domain.FeatureAffinity] {
		eff.Affinity = w.Affinity
		presentSum += w.Affinity
	}
	if present[domain.FeatureCategoryAffinity] {
		eff.CategoryBoost = w.CategoryBoost
		presentSum += w.CategoryBoost
	}

	total := w.Retrieval + w.Popularity + w.Freshness + w.Affinity + w.CategoryBoost
	if presentSum <= 0 || presentSum == total {
		return eff
	}

	scale := total / presentSum
	eff.Retrieval *= scale
	eff.Popularity *= scale
	eff.Freshness *= scale
	eff.Affinity *= scale
	eff.CategoryBoost *= scale
	return eff
}

func featureOrZero(c *domain.Candidate, name string) float64 {
	v, ok := c.Feature(name)
	if !ok {
		return 0
	}
	return v
}
