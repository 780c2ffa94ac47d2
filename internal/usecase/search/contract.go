package search

import (
	"context"

	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/ratelimit"
)

// Admitter decides whether a request may enter the pipeline.
type Admitter interface {
	Admit(identity, query string, cost int) ratelimit.Decision
}

// Retriever produces scored candidate hits for a query.
type Retriever interface {
	Retrieve(ctx context.Context, q domain.Query, k int) ([]domain.ScoredID, error)
}

// VectorRetriever is a Retriever whose index may be absent at startup.
type VectorRetriever interface {
	Retriever
	Available() bool
}

// Enricher resolves ranking features onto the candidate pool in place.
// It reports false only when no feature source could be reached.
type Enricher interface {
	Enrich(ctx context.Context, userID string, cands []domain.Candidate) bool
}

// ResultCache is the query-result and ranking-weights cache surface.
type ResultCache interface {
	GetResponse(ctx context.Context, key string) (*Response, bool)
	PutResponse(ctx context.Context, key string, resp *Response)
	Weights(ctx context.Context) (domain.WeightSet, bool)
}
