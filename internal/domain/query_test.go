package domain

import "testing"

func TestNormalizeQuery(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Running Shoes", "running shoes"},
		{"punctuation", "running, shoes!", "running shoes"},
		{"collapse whitespace", "  running   shoes  ", "running shoes"},
		{"keeps hyphens", "T-Shirt", "t-shirt"},
		{"keeps digits", "iPhone 15 Pro", "iphone 15 pro"},
		{"empty", "", ""},
		{"only punctuation", "?!...", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeQuery(tc.in); got != tc.want {
				t.Errorf("NormalizeQuery(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWeightSetFor(t *testing.T) {
	ws := WeightSet{
		Global: DefaultWeights(),
		PerCategory: map[string]RankingWeights{
			"electronics": {Retrieval: 0.6, Popularity: 0.4},
		},
	}

	if w := ws.For("electronics"); w.Retrieval != 0.6 {
		t.Errorf("expected category weights, got %+v", w)
	}
	if w := ws.For("books"); w != ws.Global {
		t.Errorf("expected global weights for unknown category, got %+v", w)
	}
	if w := ws.For(""); w != ws.Global {
		t.Errorf("expected global weights for empty category, got %+v", w)
	}
}
