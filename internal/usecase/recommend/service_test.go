package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
	"github.com/kailas-cloud/prodsearch/internal/cache"
	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/ratelimit"
)

type memKV struct {
	data map[string][]byte
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}
	return v, nil
}

func (m *memKV) SetWithTTL(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memKV) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func newTier() *cache.Tier {
	return cache.New(&memKV{data: map[string][]byte{}},
		breaker.New("cache", breaker.Config{}), cache.Config{}, zap.NewNop())
}

func newDBBreaker() *breaker.Breaker {
	return breaker.New("db", breaker.Config{})
}

type mockAdmitter struct {
	decision ratelimit.Decision
}

func (m *mockAdmitter) Admit(_, _ string, _ int) ratelimit.Decision { return m.decision }

func allowAll() *mockAdmitter {
	return &mockAdmitter{decision: ratelimit.Decision{Allowed: true}}
}

type mockModel struct {
	users map[string][]domain.ScoredID
}

func (m *mockModel) Knows(userID string) bool {
	_, ok := m.users[userID]
	return ok
}

func (m *mockModel) Recommend(userID string, k int) []domain.ScoredID {
	recs := m.users[userID]
	if len(recs) > k {
		recs = recs[:k]
	}
	return recs
}

type mockPopular struct {
	hits  []domain.ScoredID
	err   error
	calls int
}

func (m *mockPopular) PopularProducts(_ context.Context, _ string, _ int) ([]domain.ScoredID, error) {
	m.calls++
	return m.hits, m.err
}

type noopEnricher struct{ ok bool }

func (e *noopEnricher) Enrich(_ context.Context, _ string, _ []domain.Candidate) bool {
	return e.ok
}

func TestRecommendPersonalized(t *testing.T) {
	model := &mockModel{users: map[string][]domain.ScoredID{
		"u1": {{ProductID: "p1", Score: 0.9}, {ProductID: "p2", Score: 0.4}},
	}}
	pop := &mockPopular{}

	svc := New(allowAll(), model, pop, &noopEnricher{ok: true}, newTier(), newDBBreaker(), Config{})
	resp, err := svc.Recommend(context.Background(), "u1", 10, "")
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	if resp.Source != SourcePersonalized {
		t.Errorf("source = %s, want %s", resp.Source, SourcePersonalized)
	}
	if pop.calls != 0 {
		t.Error("popularity fallback queried for a known user")
	}
	if len(resp.Results) != 2 || resp.Results[0].ProductID != "p1" {
		t.Errorf("results = %+v, want p1 first", resp.Results)
	}
}

func TestRecommendColdStartFallsBackToPopular(t *testing.T) {
	model := &mockModel{users: map[string][]domain.ScoredID{}}
	pop := &mockPopular{hits: []domain.ScoredID{
		{ProductID: "p-hot", Score: 0.95},
		{ProductID: "p-warm", Score: 0.5},
	}}

	svc := New(allowAll(), model, pop, &noopEnricher{ok: true}, newTier(), newDBBreaker(), Config{})
	resp, err := svc.Recommend(context.Background(), "u-new", 10, "")
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	if resp.Source != SourcePopular {
		t.Errorf("source = %s, want %s", resp.Source, SourcePopular)
	}
	if len(resp.Results) != 2 || resp.Results[0].ProductID != "p-hot" {
		t.Errorf("results = %+v, want p-hot first", resp.Results)
	}
}

func TestRecommendNilModelUsesPopular(t *testing.T) {
	pop := &mockPopular{hits: []domain.ScoredID{{ProductID: "p1", Score: 0.7}}}

	svc := New(allowAll(), nil, pop, &noopEnricher{ok: true}, newTier(), newDBBreaker(), Config{})
	resp, err := svc.Recommend(context.Background(), "u1", 10, "")
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if resp.Source != SourcePopular {
		t.Errorf("source = %s, want %s", resp.Source, SourcePopular)
	}
}

func TestRecommendPopularCachedAcrossCalls(t *testing.T) {
	pop := &mockPopular{hits: []domain.ScoredID{{ProductID: "p1", Score: 0.7}}}

	svc := New(allowAll(), nil, pop, &noopEnricher{ok: true}, newTier(), newDBBreaker(), Config{})
	ctx := context.Background()

	if _, err := svc.Recommend(ctx, "u1", 10, ""); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if _, err := svc.Recommend(ctx, "u2", 10, ""); err != nil {
		t.Fatalf("second call: %v", err)
	}

	if pop.calls != 1 {
		t.Errorf("store queried %d times, want 1 (chart is cached)", pop.calls)
	}
}

func TestRecommendRateLimited(t *testing.T) {
	adm := &mockAdmitter{decision: ratelimit.Decision{
		Allowed:    false,
		Reason:     ratelimit.ReasonLimit,
		RetryAfter: 3 * time.Second,
	}}
	svc := New(adm, nil, &mockPopular{}, &noopEnricher{ok: true}, newTier(), newDBBreaker(), Config{})

	_, err := svc.Recommend(context.Background(), "u1", 10, "")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestRecommendPopularShortCircuitsWhenBreakerOpen(t *testing.T) {
	pop := &mockPopular{err: errors.New("database locked")}
	br := breaker.New("db", breaker.Config{MinSamples: 2})
	svc := New(allowAll(), nil, pop, &noopEnricher{ok: true}, newTier(), br, Config{})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = svc.Recommend(ctx, "u-new", 10, "")
	}

	before := pop.calls
	_, err := svc.Recommend(ctx, "u-new", 10, "")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if pop.calls != before {
		t.Error("open breaker must not reach the store")
	}
}

func TestRecommendUnavailableWhenFallbackDead(t *testing.T) {
	pop := &mockPopular{err: errors.New("database locked")}
	svc := New(allowAll(), nil, pop, &noopEnricher{ok: true}, newTier(), newDBBreaker(), Config{})

	_, err := svc.Recommend(context.Background(), "u-new", 10, "")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
