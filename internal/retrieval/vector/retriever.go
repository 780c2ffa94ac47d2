// Package vector implements semantic retrieval: the query is embedded via an
// external embedding function and matched against a precomputed similarity
// index loaded read-only at process start.
package vector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/metrics"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever is the semantic retrieval adapter.
type Retriever struct {
	index   *Index // nil when the artifact was absent at startup
	embed   Embedder
	br      *breaker.Breaker
	timeout time.Duration
	logger  *zap.Logger
}

// NewRetriever creates a vector retriever. index may be nil: the retriever
// then reports ErrIndexUnavailable and the pipeline degrades to lexical-only.
func NewRetriever(index *Index, embed Embedder, br *breaker.Breaker, timeout time.Duration, logger *zap.Logger) *Retriever {
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	return &Retriever{index: index, embed: embed, br: br, timeout: timeout, logger: logger}
}

// Available reports whether the similarity index was loaded.
func (r *Retriever) Available() bool { return r.index != nil }

// Retrieve embeds the query and returns the k nearest candidates. When the
// index is unavailable it returns an empty result and ErrIndexUnavailable
// rather than failing the pipeline.
func (r *Retriever) Retrieve(ctx context.Context, q domain.Query, k int) ([]domain.ScoredID, error) {
	if r.index == nil {
		return nil, domain.ErrIndexUnavailable
	}

	start := time.Now()
	defer func() {
		metrics.RetrieverDuration.WithLabelValues("vector").Observe(time.Since(start).Seconds())
	}()

	var out []domain.ScoredID
	err := r.br.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		vec, err := r.embed.Embed(ctx, q.Normalized)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		out, err = r.index.Search(vec, k)
		if err != nil {
			return fmt.Errorf("index search: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
