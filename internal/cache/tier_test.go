package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
)

// --- Mocks ---

type mockKV struct {
	data    map[string][]byte
	getErr  error
	setErr  error
	setTTLs map[string]time.Duration
}

func newMockKV() *mockKV {
	return &mockKV{data: map[string][]byte{}, setTTLs: map[string]time.Duration{}}
}

func (m *mockKV) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (m *mockKV) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.setTTLs[key] = ttl
	return nil
}

func (m *mockKV) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func newTestTier(kv KV, cfg Config) *Tier {
	br := breaker.New("cache", breaker.Config{MinSamples: 4})
	return New(kv, br, cfg, zap.NewNop())
}

// --- Tests ---

func TestTierPutGetRoundTrip(t *testing.T) {
	kv := newMockKV()
	tier := newTestTier(kv, Config{})

	ctx := context.Background()
	tier.Put(ctx, NamespaceFeature, "p1:popularity", []byte("0.8"))

	got, ok := tier.Get(ctx, NamespaceFeature, "p1:popularity")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if string(got) != "0.8" {
		t.Errorf("got %q, want %q", got, "0.8")
	}

	// Namespaces are independent key spaces.
	if _, ok := tier.Get(ctx, NamespaceQuery, "p1:popularity"); ok {
		t.Error("value must not leak across namespaces")
	}
}

func TestTierNamespaceTTLs(t *testing.T) {
	kv := newMockKV()
	tier := newTestTier(kv, Config{
		KeyPrefix: "t:",
		TTLs:      map[Namespace]time.Duration{NamespaceQuery: 30 * time.Second},
	})

	ctx := context.Background()
	tier.Put(ctx, NamespaceQuery, "k", []byte("v"))
	tier.Put(ctx, NamespaceFeature, "k", []byte("v"))

	if ttl := kv.setTTLs["t:query:k"]; ttl != 30*time.Second {
		t.Errorf("query ttl = %s, want 30s", ttl)
	}
	if ttl := kv.setTTLs["t:feature:k"]; ttl != 15*time.Minute {
		t.Errorf("feature ttl = %s, want default 15m", ttl)
	}
}

func TestTierMissOnBreakerOpen(t *testing.T) {
	kv := newMockKV()
	kv.getErr = errors.New("connection refused")
	tier := newTestTier(kv, Config{})

	ctx := context.Background()
	// Drive the breaker open with failing reads.
	for i := 0; i < 10; i++ {
		tier.Get(ctx, NamespaceFeature, "k")
	}

	// Backend recovers, but the open breaker short-circuits to a miss.
	kv.getErr = nil
	kv.data["prodsearch:feature:k"] = []byte("v")
	if _, ok := tier.Get(ctx, NamespaceFeature, "k"); ok {
		t.Fatal("expected miss while breaker is open")
	}
}

func TestTierMissDoesNotTripBreaker(t *testing.T) {
	kv := newMockKV()
	tier := newTestTier(kv, Config{})

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if _, ok := tier.Get(ctx, NamespaceFeature, "absent"); ok {
			t.Fatal("unexpected hit")
		}
	}

	// A healthy backend full of misses keeps the breaker closed.
	kv.data["prodsearch:feature:present"] = []byte("v")
	if _, ok := tier.Get(ctx, NamespaceFeature, "present"); !ok {
		t.Fatal("expected hit; misses must not open the breaker")
	}
}

func TestTierPutIsBestEffort(t *testing.T) {
	kv := newMockKV()
	kv.setErr = errors.New("write refused")
	tier := newTestTier(kv, Config{})

	// Must not panic or surface the error.
	tier.Put(context.Background(), NamespaceFeature, "k", []byte("v"))
}

func TestTierJSONRoundTrip(t *testing.T) {
	kv := newMockKV()
	tier := newTestTier(kv, Config{})
	ctx := context.Background()

	type weights struct {
		Retrieval float64 `json:"retrieval"`
	}
	tier.PutJSON(ctx, NamespaceWeights, "global", weights{Retrieval: 0.4})

	var got weights
	if !tier.GetJSON(ctx, NamespaceWeights, "global", &got) {
		t.Fatal("expected hit")
	}
	if got.Retrieval != 0.4 {
		t.Errorf("got %v, want 0.4", got.Retrieval)
	}

	// A poisoned entry reads as a miss.
	kv.data["prodsearch:weights:bad"] = []byte("{not json")
	if tier.GetJSON(ctx, NamespaceWeights, "bad", &got) {
		t.Error("expected miss on undecodable entry")
	}
}

func TestTierInvalidate(t *testing.T) {
	kv := newMockKV()
	tier := newTestTier(kv, Config{})
	ctx := context.Background()

	tier.Put(ctx, NamespacePopular, "top", []byte("v"))
	tier.Invalidate(ctx, NamespacePopular, "top")

	if _, ok := tier.Get(ctx, NamespacePopular, "top"); ok {
		t.Fatal("expected miss after invalidate")
	}
}
