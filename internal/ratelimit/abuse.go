package ratelimit

import (
	"hash/fnv"
	"time"
)

// noteQueryLocked records a query observation and reports whether the
// identity now exceeds the repetition threshold within the abuse window.
// Caller holds l.mu and has already pruned the bucket.
func (l *Limiter) noteQueryLocked(b *bucket, query string, now time.Time) bool {
	h := hashQuery(query)
	b.queries = append(b.queries, stampedQuery{at: now, hash: h})

	count := 0
	for _, q := range b.queries {
		if q.hash == h {
			count++
		}
	}
	return count > l.cfg.SameQueryThreshold
}

func hashQuery(q string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(q))
	return h.Sum64()
}

// isSequentialScan reports whether the trailing observations look like a
// monotonic enumeration: at least threshold consecutive ids, each strictly
// greater than the previous by at most maxGap.
func isSequentialScan(products []stampedProduct, threshold int, maxGap int64) bool {
	if len(products) < threshold {
		return false
	}

	run := 1
	for i := 1; i < len(products); i++ {
		gap := products[i].id - products[i-1].id
		if gap > 0 && gap <= maxGap {
			run++
			if run >= threshold {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// numericSuffix extracts the trailing decimal run of a product id, e.g.
// "prod-000123" -> 123. Returns false when the id has no numeric suffix.
func numericSuffix(id string) (int64, bool) {
	end := len(id)
	start := end
	for start > 0 && id[start-1] >= '0' && id[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	// Cap at 18 digits to stay within int64.
	if end-start > 18 {
		start = end - 18
	}
	var n int64
	for _, c := range id[start:end] {
		n = n*10 + int64(c-'0')
	}
	return n, true
}
