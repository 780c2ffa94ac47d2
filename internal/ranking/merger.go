package ranking

import (
	"sort"

	"github.com/kailas-cloud/prodsearch/internal/domain"
)

// defaultPoolCap bounds the candidate pool when the caller passes no cap.
const defaultPoolCap = 200

// Merge combines the lexical and semantic hit lists into a deduplicated
// candidate pool. A product found by both retrievers keeps both scores and
// its merged score is the maximum of the two. The pool is ordered by merged
// score descending; ties prefer the higher semantic score, then the lower
// product id. At most poolCap candidates survive.
func Merge(lexical, semantic []domain.ScoredID, poolCap int) []domain.Candidate {
	if poolCap <= 0 {
		poolCap = defaultPoolCap
	}

	byID := make(map[string]int, len(lexical)+len(semantic))
	pool := make([]domain.Candidate, 0, len(lexical)+len(semantic))

	// A retriever may itself emit a product id twice (e.g. a corrupt index
	// artifact); duplicates keep the higher score.
	for _, hit := range lexical {
		score := hit.Score
		if i, ok := byID[hit.ProductID]; ok {
			if score > *pool[i].LexicalScore {
				pool[i].LexicalScore = &score
			}
			continue
		}
		pool = append(pool, domain.Candidate{
			ProductID:    hit.ProductID,
			LexicalScore: &score,
		})
		byID[hit.ProductID] = len(pool) - 1
	}
	for _, hit := range semantic {
		score := hit.Score
		if i, ok := byID[hit.ProductID]; ok {
			if pool[i].SemanticScore == nil || score > *pool[i].SemanticScore {
				pool[i].SemanticScore = &score
			}
			continue
		}
		pool = append(pool, domain.Candidate{
			ProductID:     hit.ProductID,
			SemanticScore: &score,
		})
		byID[hit.ProductID] = len(pool) - 1
	}

	for i := range pool {
		pool[i].MergedScore = mergedScore(&pool[i])
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].MergedScore != pool[j].MergedScore {
			return pool[i].MergedScore > pool[j].MergedScore
		}
		si, sj := semanticOrZero(&pool[i]), semanticOrZero(&pool[j])
		if si != sj {
			return si > sj
		}
		return pool[i].ProductID < pool[j].ProductID
	})

	if len(pool) > poolCap {
		pool = pool[:poolCap]
	}
	return pool
}

func mergedScore(c *domain.Candidate) float64 {
	var score float64
	if c.LexicalScore != nil {
		score = *c.LexicalScore
	}
	if c.SemanticScore != nil && *c.SemanticScore > score {
		score = *c.SemanticScore
	}
	return score
}

func semanticOrZero(c *domain.Candidate) float64 {
	if c.SemanticScore == nil {
		return 0
	}
	return *c.SemanticScore
}
