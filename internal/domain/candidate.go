package domain

// Feature names resolved by the feature fetcher and consumed by the ranker.
const (
	FeaturePopularity       = "popularity"
	FeatureFreshness        = "freshness"
	FeatureCategoryAffinity = "category_affinity"
	FeatureAffinity         = "affinity" // collaborative-filtering user-product affinity
)

// ScoredID is a single retrieval hit. Score is retriever-local, in [0,1].
type ScoredID struct {
	ProductID string
	Score     float64
}

// Candidate is one product in the candidate pool of a single request.
// MergedScore is always derived by the merger, never set directly.
type Candidate struct {
	ProductID     string
	Category      string   // resolved by enrichment; empty == unknown
	LexicalScore  *float64 // nil when the lexical retriever did not return it
	SemanticScore *float64 // nil when the vector retriever did not return it
	MergedScore   float64
	Features      map[string]float64 // populated by enrichment; missing key == absent
}

// Feature returns the named feature and whether it was resolved.
func (c *Candidate) Feature(name string) (float64, bool) {
	v, ok := c.Features[name]
	return v, ok
}

// SetFeature records a resolved feature value.
func (c *Candidate) SetFeature(name string, value float64) {
	if c.Features == nil {
		c.Features = make(map[string]float64, 4)
	}
	c.Features[name] = value
}

// Result is one entry of the final ranked response.
type Result struct {
	ProductID  string         `json:"product_id"`
	FinalScore float64        `json:"final_score"`
	Breakdown  ScoreBreakdown `json:"score_breakdown"`
}

// ScoreBreakdown exposes the weighted contribution of each signal for explainability.
type ScoreBreakdown struct {
	Retrieval     float64 `json:"retrieval"`
	Popularity    float64 `json:"popularity"`
	Freshness     float64 `json:"freshness"`
	Affinity      float64 `json:"affinity"`
	CategoryBoost float64 `json:"category_boost"`
}
