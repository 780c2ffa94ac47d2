// Package lexical implements keyword retrieval over the persisted full-text
// product index.
package lexical

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/metrics"
)

// Searcher is the full-text backend contract.
type Searcher interface {
	SearchText(ctx context.Context, query, category string, k int) ([]domain.ScoredID, error)
}

// Retriever is the lexical retrieval adapter.
type Retriever struct {
	backend Searcher
	br      *breaker.Breaker
	timeout time.Duration
}

// NewRetriever creates a lexical retriever guarded by the database breaker.
func NewRetriever(backend Searcher, br *breaker.Breaker, timeout time.Duration) *Retriever {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &Retriever{backend: backend, br: br, timeout: timeout}
}

// Retrieve returns up to k scored candidates for the normalized query.
func (r *Retriever) Retrieve(ctx context.Context, q domain.Query, k int) ([]domain.ScoredID, error) {
	start := time.Now()
	defer func() {
		metrics.RetrieverDuration.WithLabelValues("lexical").Observe(time.Since(start).Seconds())
	}()

	var out []domain.ScoredID
	err := r.br.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		var err error
		out, err = r.backend.SearchText(ctx, q.Normalized, q.Category, k)
		if err != nil {
			return fmt.Errorf("full-text search: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
