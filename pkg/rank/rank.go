// Package rank scores candidate nodes during retrieval. Scoring is a pure
// weighted sum over a candidate's signal bundle; no I/O happens here.
package rank

import (
	"context"

	"github.com/melokeo/graphmem/pkg/store"
)

// Weight keys accepted in the rank.weights config map.
const (
	WeightText       = "text"
	WeightRecency    = "recency"
	WeightEdge       = "edge"
	WeightCentrality = "centrality"
)

// DefaultWeights are used when rank.weights is absent or unreadable.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		WeightText:       1.0,
		WeightRecency:    0.6,
		WeightEdge:       0.5,
		WeightCentrality: 0.2,
	}
}

// Signals is the bundle of relevance inputs for one candidate node.
// DepthPenalty is 1/(1+depth) for the node's BFS discovery depth.
type Signals struct {
	TextScore    float64
	RecencyHours float64
	EdgeWeight   float64
	Centrality   float64
	DepthPenalty float64
}

// Ranker computes a composite relevance score from configured weights.
type Ranker struct {
	weights map[string]float64
}

// New creates a Ranker with the given weights; missing keys fall back to
// defaults.
func New(weights map[string]float64) *Ranker {
	merged := DefaultWeights()
	for k, v := range weights {
		merged[k] = v
	}
	return &Ranker{weights: merged}
}

// NewFromConfig creates a Ranker with weights loaded from the store's
// rank.weights key, falling back to defaults on any problem.
func NewFromConfig(ctx context.Context, s store.GraphStore) *Ranker {
	return New(store.ConfigFloatMap(ctx, s, "rank.weights", DefaultWeights()))
}

// Score computes the weighted sum for one candidate. Recency contributes
// 1/(1+hours/24), so a day-old node keeps half the recency weight. The depth
// penalty scales the whole sum so distant nodes need stronger signals to
// surface.
func (r *Ranker) Score(c Signals) float64 {
	s := 0.0
	s += r.weights[WeightText] * c.TextScore
	s += r.weights[WeightRecency] * (1.0 / (1.0 + c.RecencyHours/24.0))
	s += r.weights[WeightEdge] * c.EdgeWeight
	s += r.weights[WeightCentrality] * c.Centrality

	penalty := c.DepthPenalty
	if penalty <= 0 {
		penalty = 1.0
	}
	return s * penalty
}
