// Package cache implements the layered key-value cache tier: independent
// namespaces (query results, features, popular products, ranking weights,
// embeddings) over a shared backend, each read and write guarded by the
// tier's circuit breaker. A miss and an open breaker look identical to
// callers, who fall through to the source of truth. Writes are best-effort.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
	"github.com/kailas-cloud/prodsearch/internal/metrics"
)

// Namespace scopes cache keys. Namespaces are logically independent: no
// cross-namespace invariants, no implicit cross-key invalidation.
type Namespace string

// Cache namespaces.
const (
	NamespaceQuery     Namespace = "query"
	NamespaceFeature   Namespace = "feature"
	NamespacePopular   Namespace = "popular"
	NamespaceWeights   Namespace = "weights"
	NamespaceEmbedding Namespace = "embedding"
)

// Config holds cache tier settings.
type Config struct {
	KeyPrefix string
	OpTimeout time.Duration // per-operation deadline against the backend
	TTLs      map[Namespace]time.Duration
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "prodsearch:"
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 200 * time.Millisecond
	}
	defaults := map[Namespace]time.Duration{
		NamespaceQuery:     5 * time.Minute,
		NamespaceFeature:   15 * time.Minute,
		NamespacePopular:   time.Hour,
		NamespaceWeights:   time.Minute,
		NamespaceEmbedding: 24 * time.Hour,
	}
	if c.TTLs == nil {
		c.TTLs = make(map[Namespace]time.Duration, len(defaults))
	}
	for ns, ttl := range defaults {
		if c.TTLs[ns] <= 0 {
			c.TTLs[ns] = ttl
		}
	}
}

// Tier is the layered cache. Safe for concurrent use.
type Tier struct {
	kv     KV
	br     *breaker.Breaker
	cfg    Config
	logger *zap.Logger
}

// New creates a cache tier over kv, guarded by br.
func New(kv KV, br *breaker.Breaker, cfg Config, logger *zap.Logger) *Tier {
	cfg.applyDefaults()
	return &Tier{kv: kv, br: br, cfg: cfg, logger: logger}
}

// Get returns the cached value and true on a hit. Breaker-open, backend
// errors and expired keys all surface as a plain miss; callers fall through
// to the source of truth.
func (t *Tier) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool) {
	if !t.br.Allow() {
		metrics.CacheOpsTotal.WithLabelValues(string(ns), "bypass").Inc()
		return nil, false
	}

	opCtx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	data, err := t.kv.Get(opCtx, t.key(ns, key))
	switch {
	case err == nil:
		t.br.Record(true)
		metrics.CacheOpsTotal.WithLabelValues(string(ns), "hit").Inc()
		return data, true
	case errors.Is(err, ErrKeyNotFound):
		// A missing key is a healthy backend answering, not a failure.
		t.br.Record(true)
		metrics.CacheOpsTotal.WithLabelValues(string(ns), "miss").Inc()
		return nil, false
	default:
		t.br.Record(false)
		metrics.CacheOpsTotal.WithLabelValues(string(ns), "error").Inc()
		t.logger.Warn("cache get failed",
			zap.String("namespace", string(ns)), zap.Error(err))
		return nil, false
	}
}

// GetJSON unmarshals a cached JSON value into v. Returns false on miss or
// decode failure (a poisoned entry is treated as a miss).
func (t *Tier) GetJSON(ctx context.Context, ns Namespace, key string, v any) bool {
	data, ok := t.Get(ctx, ns, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.logger.Warn("cache entry decode failed",
			zap.String("namespace", string(ns)), zap.Error(err))
		return false
	}
	return true
}

// Put stores a value with the namespace default TTL. Best-effort: failures
// are logged and swallowed, never surfaced to the caller.
func (t *Tier) Put(ctx context.Context, ns Namespace, key string, value []byte) {
	if !t.br.Allow() {
		metrics.CacheOpsTotal.WithLabelValues(string(ns), "bypass").Inc()
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	if err := t.kv.SetWithTTL(opCtx, t.key(ns, key), value, t.cfg.TTLs[ns]); err != nil {
		t.br.Record(false)
		metrics.CacheOpsTotal.WithLabelValues(string(ns), "error").Inc()
		t.logger.Warn("cache put failed",
			zap.String("namespace", string(ns)), zap.Error(err))
		return
	}
	t.br.Record(true)
}

// PutJSON marshals v and stores it. Best-effort.
func (t *Tier) PutJSON(ctx context.Context, ns Namespace, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		t.logger.Warn("cache entry encode failed",
			zap.String("namespace", string(ns)), zap.Error(err))
		return
	}
	t.Put(ctx, ns, key, data)
}

// Invalidate removes a single key. Explicit and key-based only.
func (t *Tier) Invalidate(ctx context.Context, ns Namespace, key string) {
	if !t.br.Allow() {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	if err := t.kv.Del(opCtx, t.key(ns, key)); err != nil {
		t.br.Record(false)
		t.logger.Warn("cache invalidate failed",
			zap.String("namespace", string(ns)), zap.Error(err))
		return
	}
	t.br.Record(true)
}

func (t *Tier) key(ns Namespace, key string) string {
	return t.cfg.KeyPrefix + string(ns) + ":" + key
}
