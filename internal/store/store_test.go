package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kailas-cloud/prodsearch/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "products.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProducts(t *testing.T, s *Store) {
	t.Helper()
	now := time.Now().UTC()
	products := []ProductRow{
		{ID: "p1", Title: "running shoes", Description: "lightweight road running shoes", Category: "sports", Popularity: 0.9, CreatedAt: now},
		{ID: "p2", Title: "trail running shoes", Description: "grippy trail shoes", Category: "sports", Popularity: 0.7, CreatedAt: now.AddDate(0, -6, 0)},
		{ID: "p3", Title: "leather office shoes", Description: "formal leather shoes", Category: "fashion", Popularity: 0.4, CreatedAt: now.AddDate(-1, 0, 0)},
		{ID: "p4", Title: "espresso machine", Description: "compact espresso maker", Category: "kitchen", Popularity: 0.8, CreatedAt: now},
	}
	for _, p := range products {
		if err := s.UpsertProduct(context.Background(), p); err != nil {
			t.Fatalf("UpsertProduct(%s): %v", p.ID, err)
		}
	}
}

func TestSearchText(t *testing.T) {
	s := newTestStore(t)
	seedProducts(t, s)

	results, err := s.SearchText(context.Background(), "running shoes", "", 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(results), results)
	}
	for _, r := range results {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score %f out of [0,1]", r.Score)
		}
		if r.ProductID != "p1" && r.ProductID != "p2" {
			t.Errorf("unexpected match %s", r.ProductID)
		}
	}

	// Zero-result query is a valid empty answer, not an error.
	empty, err := s.SearchText(context.Background(), "zzzqqq123", "", 10)
	if err != nil {
		t.Fatalf("SearchText(zero-result): %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no matches, got %v", empty)
	}
}

func TestSearchTextCategoryFilter(t *testing.T) {
	s := newTestStore(t)
	seedProducts(t, s)

	results, err := s.SearchText(context.Background(), "shoes", "fashion", 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(results) != 1 || results[0].ProductID != "p3" {
		t.Fatalf("expected only the fashion match p3, got %v", results)
	}
}

func TestSearchTextEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	results, err := s.SearchText(context.Background(), "   ", "", 10)
	if err != nil || results != nil {
		t.Fatalf("expected nil, nil for blank query, got %v, %v", results, err)
	}
}

func TestProductFeatures(t *testing.T) {
	s := newTestStore(t)
	seedProducts(t, s)

	got, err := s.ProductFeatures(context.Background(), []string{"p1", "p3", "missing"})
	if err != nil {
		t.Fatalf("ProductFeatures: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got["p1"].Popularity != 0.9 || got["p1"].Category != "sports" {
		t.Errorf("p1 row = %+v", got["p1"])
	}
	if _, ok := got["missing"]; ok {
		t.Error("unknown id must be absent, not zero-valued")
	}
}

func TestCategoryAffinity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetCategoryAffinity(ctx, "u1", "sports", 0.75); err != nil {
		t.Fatalf("SetCategoryAffinity: %v", err)
	}

	score, err := s.CategoryAffinity(ctx, "u1", "sports")
	if err != nil {
		t.Fatalf("CategoryAffinity: %v", err)
	}
	if score != 0.75 {
		t.Errorf("score = %f, want 0.75", score)
	}

	_, err = s.CategoryAffinity(ctx, "u1", "kitchen")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPopularProducts(t *testing.T) {
	s := newTestStore(t)
	seedProducts(t, s)

	top, err := s.PopularProducts(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("PopularProducts: %v", err)
	}
	if len(top) != 2 || top[0].ProductID != "p1" || top[1].ProductID != "p4" {
		t.Fatalf("unexpected top products: %v", top)
	}

	sports, err := s.PopularProducts(context.Background(), "sports", 10)
	if err != nil {
		t.Fatalf("PopularProducts(sports): %v", err)
	}
	if len(sports) != 2 || sports[0].ProductID != "p1" {
		t.Fatalf("unexpected sports products: %v", sports)
	}
}

func TestUpsertProductReplacesIndexEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := ProductRow{ID: "p1", Title: "running shoes", Category: "sports", CreatedAt: time.Now()}
	if err := s.UpsertProduct(ctx, p); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
	p.Title = "espresso machine"
	if err := s.UpsertProduct(ctx, p); err != nil {
		t.Fatalf("UpsertProduct(update): %v", err)
	}

	if res, _ := s.SearchText(ctx, "running shoes", "", 10); len(res) != 0 {
		t.Errorf("stale index entry survived update: %v", res)
	}
	res, err := s.SearchText(ctx, "espresso machine", "", 10)
	if err != nil || len(res) != 1 {
		t.Fatalf("expected updated entry, got %v, %v", res, err)
	}
}

func TestGetProduct(t *testing.T) {
	s := newTestStore(t)
	seedProducts(t, s)

	p, err := s.GetProduct(context.Background(), "p3")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.Title != "leather office shoes" || p.Category != "fashion" {
		t.Errorf("unexpected row: %+v", p)
	}

	_, err = s.GetProduct(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
