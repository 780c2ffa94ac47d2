package embed

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// ThrottledEmbedder caps the rate of outbound provider calls. Embedding APIs
// enforce per-minute request quotas; exceeding them turns into 429 storms
// that the circuit breaker would misread as an outage.
type ThrottledEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewThrottled creates a throttling decorator admitting rps requests per
// second with the given burst.
func NewThrottled(inner Embedder, rps float64, burst int) *ThrottledEmbedder {
	if burst < 1 {
		burst = 1
	}
	return &ThrottledEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Embed waits for a rate token (or context cancellation) then delegates.
func (t *ThrottledEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding throttle: %w", err)
	}
	return t.inner.Embed(ctx, text)
}
