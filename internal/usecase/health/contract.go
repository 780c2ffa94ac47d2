package health

import "context"

// DBPinger checks feature-store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// CachePinger checks cache-backend availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// IndexChecker reports whether the vector index was loaded at startup.
type IndexChecker interface {
	Available() bool
}
