package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/prodsearch/internal/domain"
)

// SearchText runs a full-text query against the product index and returns
// scored product ids, best match first. Scores are normalized into [0,1].
// query is expected to be normalized already (lowercased, no punctuation).
// A non-empty category restricts matches to that category.
func (s *Store) SearchText(ctx context.Context, query, category string, k int) ([]domain.ScoredID, error) {
	match := ftsMatchExpr(query)
	if match == "" || k <= 0 {
		return nil, nil
	}

	// fts5 bm25 rank: numerically lower (more negative) is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_fts.product_id, product_fts.rank
		FROM product_fts
		JOIN products p ON p.id = product_fts.product_id
		WHERE product_fts MATCH ? AND (? = '' OR p.category = ?)
		ORDER BY product_fts.rank ASC, product_fts.product_id ASC
		LIMIT ?`, match, category, category, k)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ScoredID
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		out = append(out, domain.ScoredID{ProductID: id, Score: normalizeRank(rank)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fts rows: %w", err)
	}
	return out, nil
}

// ftsMatchExpr converts a normalized query into a safe fts5 MATCH expression:
// each token quoted, joined by implicit AND.
func ftsMatchExpr(query string) string {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		quoted = append(quoted, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// normalizeRank maps a bm25 rank onto [0,1). bm25 emits negative values for
// matches; stronger matches are more negative.
func normalizeRank(rank float64) float64 {
	s := -rank
	if s <= 0 {
		return 0
	}
	return s / (1 + s)
}
