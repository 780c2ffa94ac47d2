// Package ratelimit implements sliding-window admission control per client
// identity, with a burst grace allowance and abuse heuristics (repeated
// identical queries, sequential product-id enumeration).
//
// The limiter never rejects a request because of its own failure: an internal
// fault fails open, is logged and counted, and the request is admitted.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/prodsearch/internal/metrics"
)

// Deny reasons reported in Decision.Reason and metrics labels.
const (
	ReasonLimit = "limit"
	ReasonAbuse = "abuse"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // positive when denied
	Remaining  int           // requests left in the current window
	Reason     string        // set when denied
}

// Config holds limiter settings. Zero values fall back to defaults.
type Config struct {
	Limit      int           // admitted requests per window (default 100)
	Burst      int           // extra allowance above Limit during the grace interval
	Window     time.Duration // sliding window length (default 1m)
	BurstGrace time.Duration // how long the burst allowance lasts once entered (default 10s)

	SameQueryThreshold   int           // identical-query repetitions per abuse window that flag the identity (default 20)
	EnumerationThreshold int           // consecutive increasing product ids that flag the identity (default 8)
	EnumerationMaxGap    int64         // maximum id gap still considered sequential (default 3)
	AbuseWindow          time.Duration // trailing window for abuse heuristics (default 1m)
	AbusePenalty         time.Duration // throttle duration for a flagged identity (default 1m)

	IdleEviction time.Duration // buckets idle longer than this are evicted (default 10m)
}

func (c *Config) applyDefaults() {
	if c.Limit <= 0 {
		c.Limit = 100
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.BurstGrace <= 0 {
		c.BurstGrace = 10 * time.Second
	}
	if c.SameQueryThreshold <= 0 {
		c.SameQueryThreshold = 20
	}
	if c.EnumerationThreshold <= 0 {
		c.EnumerationThreshold = 8
	}
	if c.EnumerationMaxGap <= 0 {
		c.EnumerationMaxGap = 3
	}
	if c.AbuseWindow <= 0 {
		c.AbuseWindow = time.Minute
	}
	if c.AbusePenalty <= 0 {
		c.AbusePenalty = time.Minute
	}
	if c.IdleEviction <= 0 {
		c.IdleEviction = 10 * time.Minute
	}
}

// bucket tracks one client identity. Created lazily, evicted after inactivity.
type bucket struct {
	admitted     []time.Time // timestamps of admitted requests, pruned to the window
	burstStart   time.Time   // when the identity first exceeded the base limit
	queries      []stampedQuery
	products     []stampedProduct
	flaggedUntil time.Time
	lastAccess   time.Time
}

type stampedQuery struct {
	at   time.Time
	hash uint64
}

type stampedProduct struct {
	at time.Time
	id int64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock substitutes the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Limiter is a sliding-window rate limiter. Safe for concurrent use.
type Limiter struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// New creates a limiter.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Limiter {
	cfg.applyDefaults()
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit decides whether a request from identity may proceed. query is the
// normalized query text (empty skips the repetition heuristic); cost is the
// request weight, usually 1.
func (l *Limiter) Admit(identity, query string, cost int) (d Decision) {
	// Fail open: a limiter-internal fault must never reject a request.
	defer func() {
		if r := recover(); r != nil {
			metrics.RateLimiterFaultsTotal.Inc()
			l.logger.Error("rate limiter fault, failing open", zap.Any("panic", r))
			d = Decision{Allowed: true, Remaining: l.cfg.Limit}
		}
	}()

	if cost <= 0 {
		cost = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	b := l.bucketLocked(identity, now)
	b.pruneLocked(now, l.cfg.Window, l.cfg.AbuseWindow)

	// Existing throttle flag (e.g. from enumeration detection).
	if b.flaggedUntil.After(now) {
		return l.deny(identity, ReasonAbuse, b.flaggedUntil.Sub(now), b)
	}

	// Repetition heuristic: the observation is recorded for denied requests
	// too, so a hammering client stays throttled until its history ages out.
	if query != "" && l.noteQueryLocked(b, query, now) {
		metrics.AbuseDetectedTotal.WithLabelValues("same_query").Inc()
		l.logger.Warn("abuse detected: repeated identical query",
			zap.String("identity", identity))
		return l.deny(identity, ReasonAbuse, l.retryAfterQueryLocked(b, now), b)
	}

	count := len(b.admitted)
	switch {
	case count+cost <= l.cfg.Limit:
		b.burstStart = time.Time{} // back under the base limit
	case l.cfg.Burst > 0 && count+cost <= l.cfg.Limit+l.cfg.Burst:
		if b.burstStart.IsZero() {
			b.burstStart = now
		}
		if now.Sub(b.burstStart) > l.cfg.BurstGrace {
			return l.deny(identity, ReasonLimit, l.retryAfterLocked(b, now), b)
		}
	default:
		return l.deny(identity, ReasonLimit, l.retryAfterLocked(b, now), b)
	}

	for i := 0; i < cost; i++ {
		b.admitted = append(b.admitted, now)
	}
	remaining := l.cfg.Limit - len(b.admitted)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// NoteProductAccess feeds the enumeration heuristic with a product id the
// identity requested. Ids without a numeric suffix are ignored.
func (l *Limiter) NoteProductAccess(identity, productID string) {
	n, ok := numericSuffix(productID)
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.bucketLocked(identity, now)
	b.pruneLocked(now, l.cfg.Window, l.cfg.AbuseWindow)
	b.products = append(b.products, stampedProduct{at: now, id: n})

	if isSequentialScan(b.products, l.cfg.EnumerationThreshold, l.cfg.EnumerationMaxGap) {
		b.flaggedUntil = now.Add(l.cfg.AbusePenalty)
		metrics.AbuseDetectedTotal.WithLabelValues("enumeration").Inc()
		l.logger.Warn("abuse detected: sequential product enumeration",
			zap.String("identity", identity))
	}
}

func (l *Limiter) deny(identity, reason string, retryAfter time.Duration, b *bucket) Decision {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	metrics.RateLimitDeniedTotal.WithLabelValues(reason).Inc()
	remaining := l.cfg.Limit - len(b.admitted)
	if remaining < 0 {
		remaining = 0
	}
	l.logger.Debug("request denied by admission control",
		zap.String("identity", identity),
		zap.String("reason", reason),
		zap.Duration("retry_after", retryAfter))
	return Decision{RetryAfter: retryAfter, Remaining: remaining, Reason: reason}
}

// retryAfterLocked derives the wait from the oldest timestamp in the window.
func (l *Limiter) retryAfterLocked(b *bucket, now time.Time) time.Duration {
	if len(b.admitted) == 0 {
		return l.cfg.Window
	}
	return b.admitted[0].Add(l.cfg.Window).Sub(now)
}

func (l *Limiter) retryAfterQueryLocked(b *bucket, now time.Time) time.Duration {
	if len(b.queries) == 0 {
		return l.cfg.AbuseWindow
	}
	return b.queries[0].at.Add(l.cfg.AbuseWindow).Sub(now)
}

func (l *Limiter) bucketLocked(identity string, now time.Time) *bucket {
	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{}
		l.buckets[identity] = b
	}
	b.lastAccess = now
	return b
}

// sweepLocked evicts buckets idle longer than IdleEviction. Runs at most once
// per eviction interval.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.IdleEviction {
		return
	}
	l.lastSweep = now
	for id, b := range l.buckets {
		if now.Sub(b.lastAccess) > l.cfg.IdleEviction {
			delete(l.buckets, id)
		}
	}
}

// pruneLocked drops entries older than the respective windows so that
// recorded timestamps never predate the configured window.
func (b *bucket) pruneLocked(now time.Time, window, abuseWindow time.Duration) {
	b.admitted = pruneTimes(b.admitted, now.Add(-window))

	qCut := now.Add(-abuseWindow)
	i := 0
	for i < len(b.queries) && b.queries[i].at.Before(qCut) {
		i++
	}
	if i > 0 {
		b.queries = append(b.queries[:0], b.queries[i:]...)
	}

	j := 0
	for j < len(b.products) && b.products[j].at.Before(qCut) {
		j++
	}
	if j > 0 {
		b.products = append(b.products[:0], b.products[j:]...)
	}
}

func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		ts = append(ts[:0], ts[i:]...)
	}
	return ts
}
