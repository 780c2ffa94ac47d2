package recommend

import (
	"context"

	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/ratelimit"
)

// Admitter decides whether a request may enter the pipeline.
type Admitter interface {
	Admit(identity, query string, cost int) ratelimit.Decision
}

// Recommender is the collaborative-filtering model surface.
type Recommender interface {
	Knows(userID string) bool
	Recommend(userID string, k int) []domain.ScoredID
}

// PopularityReader lists the most popular products, optionally scoped to a
// category. Used as the cold-start fallback.
type PopularityReader interface {
	PopularProducts(ctx context.Context, category string, limit int) ([]domain.ScoredID, error)
}

// Enricher resolves ranking features onto the candidate pool in place.
type Enricher interface {
	Enrich(ctx context.Context, userID string, cands []domain.Candidate) bool
}
