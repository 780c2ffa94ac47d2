package domain

// RankingWeights maps ranking signals to their weight in the final score.
// Immutable for the duration of a request.
type RankingWeights struct {
	Retrieval     float64 `json:"retrieval" yaml:"retrieval"`
	Popularity    float64 `json:"popularity" yaml:"popularity"`
	Freshness     float64 `json:"freshness" yaml:"freshness"`
	Affinity      float64 `json:"affinity" yaml:"affinity"`
	CategoryBoost float64 `json:"category_boost" yaml:"category_boost"`
}

// DefaultWeights returns the global ranking weights used when no configured
// set is available.
func DefaultWeights() RankingWeights {
	return RankingWeights{
		Retrieval:     0.4,
		Affinity:      0.3,
		Popularity:    0.2,
		Freshness:     0.1,
		CategoryBoost: 0.05,
	}
}

// WeightSet holds the global weights plus optional per-category overrides.
type WeightSet struct {
	Global      RankingWeights            `json:"global" yaml:"global"`
	PerCategory map[string]RankingWeights `json:"per_category" yaml:"per_category"`
}

// For selects the weights for a category, falling back to the global set.
func (ws WeightSet) For(category string) RankingWeights {
	if category != "" {
		if w, ok := ws.PerCategory[category]; ok {
			return w
		}
	}
	return ws.Global
}
