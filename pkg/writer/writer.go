// Package writer holds the mutation paths that change graph structure after
// linking: edge commits and confidence promotion. Node and alias creation
// stays in the linker; everything that strengthens or connects existing
// nodes goes through here.
package writer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/store"
)

const defaultPromoteThreshold = 0.8

// Writer applies structural updates to the graph.
type Writer struct {
	store store.GraphStore
}

// New creates a Writer on the given store.
func New(s store.GraphStore) *Writer {
	return &Writer{store: s}
}

// CommitEdge upserts a typed relation between two nodes. Re-committing the
// same (src, dst, type) updates weight and attributes in place, so repeated
// observations reinforce instead of duplicating.
func (w *Writer) CommitEdge(ctx context.Context, srcID, dstID, edgeType string, weight float64, attrs map[string]any) (common.Edge, error) {
	if srcID == "" || dstID == "" || edgeType == "" {
		return common.Edge{}, fmt.Errorf("commit edge: src, dst and type are required")
	}
	attrsJSON := ""
	if len(attrs) > 0 {
		raw, err := json.Marshal(attrs)
		if err != nil {
			return common.Edge{}, fmt.Errorf("commit edge: encode attrs: %w", err)
		}
		attrsJSON = string(raw)
	}
	edge := common.Edge{
		ID:        w.store.NewID("e_"),
		SrcID:     srcID,
		DstID:     dstID,
		Type:      edgeType,
		Weight:    weight,
		AttrsJSON: attrsJSON,
	}
	if err := w.store.InsertEdge(ctx, edge); err != nil {
		return common.Edge{}, fmt.Errorf("commit edge %s-[%s]->%s: %w", srcID, edgeType, dstID, err)
	}
	return edge, nil
}

// PromoteNode sets a node's confidence and flips it from provisional to
// promoted once confidence reaches the configured threshold
// (thresholds.promote, default 0.8). Confidence is clamped to [0, 1].
func (w *Writer) PromoteNode(ctx context.Context, nodeID string, confidence float64) error {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	threshold := store.ConfigFloat(ctx, w.store, "thresholds.promote", defaultPromoteThreshold)
	if err := w.store.PromoteNode(ctx, nodeID, confidence, threshold); err != nil {
		return fmt.Errorf("promote node %s: %w", nodeID, err)
	}
	return nil
}
