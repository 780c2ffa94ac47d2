package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited signals an admission-control rejection. Recoverable by
	// the caller after the retry-after interval.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable signals that no degraded path remains: both retrievers
	// and all enrichment sources are unreachable at once.
	ErrUnavailable = errors.New("service unavailable")
	// ErrIndexUnavailable signals that the vector index artifact is missing
	// or failed to load. The pipeline degrades to lexical-only search.
	ErrIndexUnavailable = errors.New("vector index unavailable")
	// ErrBreakerOpen signals a short-circuited call to a failing dependency.
	ErrBreakerOpen = errors.New("circuit breaker open")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// RateLimitError wraps ErrRateLimited with the retry-after interval
// computed from the oldest timestamp in the client's current window.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// NewRateLimit creates a rate-limit rejection carrying a retry-after value.
func NewRateLimit(retryAfter time.Duration) error {
	return &RateLimitError{RetryAfter: retryAfter}
}
