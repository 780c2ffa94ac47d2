package lexical

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
	"github.com/kailas-cloud/prodsearch/internal/domain"
)

type mockSearcher struct {
	hits     []domain.ScoredID
	err      error
	query    string
	category string
	calls    int
}

func (m *mockSearcher) SearchText(_ context.Context, query, category string, _ int) ([]domain.ScoredID, error) {
	m.calls++
	m.query = query
	m.category = category
	return m.hits, m.err
}

func TestRetrievePassesNormalizedQuery(t *testing.T) {
	backend := &mockSearcher{hits: []domain.ScoredID{{ProductID: "p1", Score: 0.8}}}
	r := NewRetriever(backend, breaker.New("db", breaker.Config{}), 0)

	q := domain.NewQuery("Running Shoes!", "u1", 10, "sports")
	hits, err := r.Retrieve(context.Background(), q, 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if backend.query != "running shoes" {
		t.Errorf("backend query = %q, want normalized text", backend.query)
	}
	if backend.category != "sports" {
		t.Errorf("backend category = %q, want sports", backend.category)
	}
	if len(hits) != 1 || hits[0].ProductID != "p1" {
		t.Errorf("hits = %v", hits)
	}
}

func TestRetrieveShortCircuitsWhenBreakerOpen(t *testing.T) {
	backend := &mockSearcher{err: errors.New("database locked")}
	br := breaker.New("db", breaker.Config{MinSamples: 2, Window: time.Minute})
	r := NewRetriever(backend, br, 0)
	q := domain.NewQuery("shoes", "", 10, "")

	// Trip the breaker with consecutive failures.
	for i := 0; i < 5; i++ {
		_, _ = r.Retrieve(context.Background(), q, 10)
	}

	calls := backend.calls
	_, err := r.Retrieve(context.Background(), q, 10)
	if !errors.Is(err, domain.ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
	if backend.calls != calls {
		t.Error("backend invoked while breaker open")
	}
}
