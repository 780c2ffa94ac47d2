package embed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/prodsearch/internal/cache"
	"github.com/kailas-cloud/prodsearch/internal/metrics"
)

// CachedEmbedder caches embeddings in the cache tier's embedding namespace.
// Query embeddings repeat heavily; a hit skips the provider round-trip.
type CachedEmbedder struct {
	inner  Embedder
	tier   *cache.Tier
	logger *zap.Logger
}

// NewCached creates a caching decorator around an embedder.
func NewCached(inner Embedder, tier *cache.Tier, logger *zap.Logger) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, tier: tier, logger: logger}
}

// Embed returns a cached embedding or calls the inner embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	if data, ok := c.tier.Get(ctx, cache.NamespaceEmbedding, key); ok {
		if vec, err := bytesToVector(data); err == nil {
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			return vec, nil
		}
		c.logger.Warn("failed to decode cached embedding", zap.String("key", key))
	}

	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}

	c.tier.Put(ctx, cache.NamespaceEmbedding, key, vectorToBytes(vec))
	return vec, nil
}

func cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func vectorToBytes(vec []float32) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4*len(vec)))
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector payload of %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return vec, nil
}
