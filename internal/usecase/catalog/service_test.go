package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/prodsearch/internal/breaker"
	"github.com/kailas-cloud/prodsearch/internal/domain"
	"github.com/kailas-cloud/prodsearch/internal/ratelimit"
	"github.com/kailas-cloud/prodsearch/internal/store"
)

type mockReader struct {
	rows  map[string]store.ProductRow
	err   error
	calls int
}

func (m *mockReader) GetProduct(_ context.Context, id string) (store.ProductRow, error) {
	m.calls++
	if m.err != nil {
		return store.ProductRow{}, m.err
	}
	if p, ok := m.rows[id]; ok {
		return p, nil
	}
	return store.ProductRow{}, domain.ErrNotFound
}

type mockAdmitter struct {
	decision ratelimit.Decision
	noted    []string
}

func (m *mockAdmitter) Admit(_, _ string, _ int) ratelimit.Decision { return m.decision }

func (m *mockAdmitter) NoteProductAccess(_, productID string) {
	m.noted = append(m.noted, productID)
}

func newTestBreaker() *breaker.Breaker {
	return breaker.New("db", breaker.Config{})
}

func TestGetReturnsProductAndNotesAccess(t *testing.T) {
	reader := &mockReader{rows: map[string]store.ProductRow{
		"p42": {ID: "p42", Title: "Trail shoes"},
	}}
	adm := &mockAdmitter{decision: ratelimit.Decision{Allowed: true}}

	svc := New(reader, adm, newTestBreaker())
	p, err := svc.Get(context.Background(), "u1", "p42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Title != "Trail shoes" {
		t.Errorf("title = %q", p.Title)
	}
	if len(adm.noted) != 1 || adm.noted[0] != "p42" {
		t.Errorf("access trail = %v, want [p42]", adm.noted)
	}
}

func TestGetUnknownProduct(t *testing.T) {
	svc := New(&mockReader{}, &mockAdmitter{decision: ratelimit.Decision{Allowed: true}}, newTestBreaker())

	_, err := svc.Get(context.Background(), "u1", "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRateLimited(t *testing.T) {
	adm := &mockAdmitter{decision: ratelimit.Decision{Allowed: false, Reason: ratelimit.ReasonAbuse}}
	svc := New(&mockReader{}, adm, newTestBreaker())

	_, err := svc.Get(context.Background(), "u1", "p1")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if len(adm.noted) != 0 {
		t.Error("denied lookup must not extend the access trail")
	}
}

func TestGetStoreDownReturnsUnavailable(t *testing.T) {
	reader := &mockReader{err: errors.New("disk I/O error")}
	svc := New(reader, &mockAdmitter{decision: ratelimit.Decision{Allowed: true}}, newTestBreaker())

	_, err := svc.Get(context.Background(), "u1", "p1")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestGetShortCircuitsWhenBreakerOpen(t *testing.T) {
	reader := &mockReader{err: errors.New("disk I/O error")}
	br := breaker.New("db", breaker.Config{MinSamples: 2})
	svc := New(reader, &mockAdmitter{decision: ratelimit.Decision{Allowed: true}}, br)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = svc.Get(ctx, "u1", "p1")
	}

	before := reader.calls
	_, err := svc.Get(ctx, "u1", "p1")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if reader.calls != before {
		t.Error("open breaker must not reach the store")
	}
}

func TestGetMissingRowDoesNotTripBreaker(t *testing.T) {
	br := breaker.New("db", breaker.Config{MinSamples: 2})
	svc := New(&mockReader{}, &mockAdmitter{decision: ratelimit.Decision{Allowed: true}}, br)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if _, err := svc.Get(ctx, "u1", "ghost"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("lookup %d: err = %v, want ErrNotFound", i, err)
		}
	}
}
