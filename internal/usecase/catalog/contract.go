package catalog

import (
	"context"

	"github.com/kailas-cloud/prodsearch/internal/ratelimit"
	"github.com/kailas-cloud/prodsearch/internal/store"
)

// ProductReader reads single product rows.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (store.ProductRow, error)
}

// Admitter rate-limits lookups and collects the per-identity access trail
// that drives enumeration detection.
type Admitter interface {
	Admit(identity, query string, cost int) ratelimit.Decision
	NoteProductAccess(identity, productID string)
}
