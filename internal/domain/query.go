package domain

import (
	"strings"
	"unicode"
)

// Query is a single search request. Immutable once constructed.
type Query struct {
	Raw        string
	Normalized string
	UserID     string // empty for anonymous requests
	K          int
	Category   string // optional category filter
}

// NewQuery builds a Query with normalized text.
func NewQuery(raw, userID string, k int, category string) Query {
	return Query{
		Raw:        raw,
		Normalized: NormalizeQuery(raw),
		UserID:     userID,
		K:          k,
		Category:   category,
	}
}

// NormalizeQuery lowercases the query, replaces punctuation with spaces
// and collapses runs of whitespace. Hyphens are kept: product names like
// "t-shirt" must survive normalization.
func NormalizeQuery(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	lastSpace := true // leading whitespace is dropped
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimRight(b.String(), " ")
}
