package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/logger"
	"github.com/kailas-cloud/prodsearch/internal/store"
)

// Service serves single-product lookups. Every lookup is admitted through
// the rate limiter and recorded for enumeration detection, so a client
// scanning sequential product ids gets throttled.
type Service struct {
	products ProductReader
	limiter  Admitter
	br       *breaker.Breaker
}

// New creates the catalog service. Store reads go through the shared
// database breaker.
func New(products ProductReader, limiter Admitter, br *breaker.Breaker) *Service {
	return &Service{products: products, limiter: limiter, br: br}
}

// Get returns one product by id.
func (s *Service) Get(ctx context.Context, identity, productID string) (store.ProductRow, error) {
	decision := s.limiter.Admit(identity, "", 1)
	if !decision.Allowed {
		return store.ProductRow{}, domain.NewRateLimit(decision.RetryAfter)
	}
	s.limiter.NoteProductAccess(identity, productID)

	var (
		p     store.ProductRow
		found = true
	)
	err := s.br.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.products.GetProduct(ctx, productID)
		if errors.Is(err, domain.ErrNotFound) {
			// An unknown id is a healthy response, not a store failure.
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		logger.FromContext(ctx).Error("product lookup failed",
			zap.String("product_id", productID), zap.Error(err))
		return store.ProductRow{}, fmt.Errorf("lookup product %s: %w", productID, domain.ErrUnavailable)
	}
	if !found {
		return store.ProductRow{}, fmt.Errorf("lookup product %s: %w", productID, domain.ErrNotFound)
	}
	return p, nil
}
