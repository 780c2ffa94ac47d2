package search

import (
	"context"

	"github.com/kailas-cloud/prodsearch/internal/cache"
	"github.com/kailas-cloud/prodsearch/internal/domain"
)

// weightsKey is the single cache entry holding the live ranking weight set,
// refreshed out of band by the weights publisher.
const weightsKey = "current"

// TierCache adapts the shared cache tier to the pipeline's cache contract.
type TierCache struct {
	tier *cache.Tier
}

// NewTierCache wraps a cache tier.
func NewTierCache(tier *cache.Tier) *TierCache {
	return &TierCache{tier: tier}
}

func (c *TierCache) GetResponse(ctx context.Context, key string) (*Response, bool) {
	var resp Response
	if !c.tier.GetJSON(ctx, cache.NamespaceQuery, key, &resp) {
		return nil, false
	}
	return &resp, true
}

func (c *TierCache) PutResponse(ctx context.Context, key string, resp *Response) {
	c.tier.PutJSON(ctx, cache.NamespaceQuery, key, resp)
}

func (c *TierCache) Weights(ctx context.Context) (domain.WeightSet, bool) {
	var ws domain.WeightSet
	if !c.tier.GetJSON(ctx, cache.NamespaceWeights, weightsKey, &ws) {
		return domain.WeightSet{}, false
	}
	return ws, true
}
