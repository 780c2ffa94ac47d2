package recommend

import (
	"bytes"
	"testing"
)

func buildModel(t *testing.T) *Model {
	t.Helper()
	users := []UserEntry{
		{UserID: "u-active", Interactions: 12, Factors: []float32{1, 0}},
		{UserID: "u-new", Interactions: 2, Factors: []float32{0, 1}},
	}
	items := []ItemEntry{
		{ProductID: "p1", Factors: []float32{1, 0}},
		{ProductID: "p2", Factors: []float32{0.5, 0}},
		{ProductID: "p3", Factors: []float32{-1, 0}},
	}
	var buf bytes.Buffer
	if err := WriteModel(&buf, 2, users, items); err != nil {
		t.Fatalf("WriteModel: %v", err)
	}
	m, err := ReadModel(&buf, 5)
	if err != nil {
		t.Fatalf("ReadModel: %v", err)
	}
	return m
}

func TestModelRoundTrip(t *testing.T) {
	m := buildModel(t)
	if m.Factors() != 2 {
		t.Errorf("Factors() = %d, want 2", m.Factors())
	}
	if m.Users() != 2 {
		t.Errorf("Users() = %d, want 2", m.Users())
	}
	if m.Items() != 3 {
		t.Errorf("Items() = %d, want 3", m.Items())
	}
}

func TestModelAffinityOrdering(t *testing.T) {
	m := buildModel(t)

	a1, ok := m.Affinity("u-active", "p1")
	if !ok {
		t.Fatal("expected affinity for known user and product")
	}
	a2, _ := m.Affinity("u-active", "p2")
	a3, _ := m.Affinity("u-active", "p3")

	if !(a1 > a2 && a2 > a3) {
		t.Errorf("affinity ordering broken: p1=%f p2=%f p3=%f", a1, a2, a3)
	}
	for _, a := range []float64{a1, a2, a3} {
		if a < 0 || a > 1 {
			t.Errorf("affinity %f outside [0,1]", a)
		}
	}
}

func TestModelColdStart(t *testing.T) {
	m := buildModel(t)

	if m.Knows("u-new") {
		t.Error("user below interaction floor should be cold-start")
	}
	if _, ok := m.Affinity("u-new", "p1"); ok {
		t.Error("cold-start user should have no affinity")
	}
	if _, ok := m.Affinity("u-missing", "p1"); ok {
		t.Error("unknown user should have no affinity")
	}
	if _, ok := m.Affinity("u-active", "p-missing"); ok {
		t.Error("unknown product should have no affinity")
	}
	if recs := m.Recommend("u-new", 5); recs != nil {
		t.Errorf("cold-start user got %d recommendations, want none", len(recs))
	}
}

func TestModelRecommend(t *testing.T) {
	m := buildModel(t)

	recs := m.Recommend("u-active", 2)
	if len(recs) != 2 {
		t.Fatalf("got %d recommendations, want 2", len(recs))
	}
	if recs[0].ProductID != "p1" || recs[1].ProductID != "p2" {
		t.Errorf("order = [%s %s], want [p1 p2]", recs[0].ProductID, recs[1].ProductID)
	}
}

func TestReadModelRejectsGarbage(t *testing.T) {
	if _, err := ReadModel(bytes.NewReader([]byte("not a model")), 5); err == nil {
		t.Fatal("expected error on garbage input")
	}
}
