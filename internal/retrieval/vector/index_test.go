package vector

import (
	"bytes"
	"testing"
)

func testEntries() []Entry {
	return []Entry{
		{ProductID: "p1", Vector: []float32{1, 0, 0}},
		{ProductID: "p2", Vector: []float32{0.9, 0.1, 0}},
		{ProductID: "p3", Vector: []float32{0, 1, 0}},
		{ProductID: "p4", Vector: []float32{-1, 0, 0}},
	}
}

func buildTestIndex(t *testing.T) *Index {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteIndex(&buf, 3, testEntries()); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	idx, err := ReadIndex(&buf)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	return idx
}

func TestIndexRoundTrip(t *testing.T) {
	idx := buildTestIndex(t)
	if idx.Dims() != 3 {
		t.Errorf("Dims = %d, want 3", idx.Dims())
	}
	if idx.Len() != 4 {
		t.Errorf("Len = %d, want 4", idx.Len())
	}
}

func TestIndexSearchRanksBySimilarity(t *testing.T) {
	idx := buildTestIndex(t)

	results, err := idx.Search([]float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ProductID != "p1" {
		t.Errorf("top result = %s, want p1", results[0].ProductID)
	}
	if results[1].ProductID != "p2" {
		t.Errorf("second result = %s, want p2", results[1].ProductID)
	}
	// Identical vector scores 1.0; opposite vector would score 0.0.
	if results[0].Score != 1.0 {
		t.Errorf("exact match score = %f, want 1.0", results[0].Score)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("results not sorted descending: %v", results)
		}
	}
}

func TestIndexSearchScoreBounds(t *testing.T) {
	idx := buildTestIndex(t)
	results, err := idx.Search([]float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("%s score %f out of [0,1]", r.ProductID, r.Score)
		}
	}
	// p4 points the opposite way: lowest possible score.
	last := results[len(results)-1]
	if last.ProductID != "p4" || last.Score != 0 {
		t.Errorf("expected p4 at score 0, got %s at %f", last.ProductID, last.Score)
	}
}

func TestIndexSearchDimensionMismatch(t *testing.T) {
	idx := buildTestIndex(t)
	if _, err := idx.Search([]float32{1, 0}, 3); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestReadIndexRejectsGarbage(t *testing.T) {
	if _, err := ReadIndex(bytes.NewReader([]byte("not an index"))); err == nil {
		t.Fatal("expected error on bad magic")
	}
}
