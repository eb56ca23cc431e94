package retrieve

import (
	"context"
	"testing"

	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/store"
	"github.com/melokeo/graphmem/pkg/store/memstore"
)

func addNode(t *testing.T, s *memstore.MemStore, id, title string) {
	t.Helper()
	err := s.InsertNode(context.Background(), common.Node{
		ID:         id,
		Type:       common.TypeTask,
		Title:      title,
		Confidence: 0.5,
		Status:     common.StatusProvisional,
	})
	if err != nil {
		t.Fatalf("insert node %s: %v", id, err)
	}
}

func addEdge(t *testing.T, s *memstore.MemStore, src, dst string) {
	t.Helper()
	err := s.InsertEdge(context.Background(), common.Edge{
		ID:     s.NewID("e_"),
		SrcID:  src,
		DstID:  dst,
		Type:   "related_to",
		Weight: 1.0,
	})
	if err != nil {
		t.Fatalf("insert edge %s->%s: %v", src, dst, err)
	}
}

func setLimit(t *testing.T, s *memstore.MemStore, key, value string) {
	t.Helper()
	if err := s.SetConfig(context.Background(), store.ConfigNS, key, value); err != nil {
		t.Fatalf("set config %s: %v", key, err)
	}
}

func nodeIDs(sg common.Subgraph) map[string]int {
	out := make(map[string]int, len(sg.Nodes))
	for _, n := range sg.Nodes {
		out[n.ID] = n.Depth
	}
	return out
}

func TestSubgraphEmptySeeds(t *testing.T) {
	s := memstore.New()
	addNode(t, s, "n_1", "alpha")

	sg, err := New(s).Subgraph(context.Background(), nil)
	if err != nil {
		t.Fatalf("subgraph failed: %v", err)
	}
	if len(sg.Nodes) != 0 || len(sg.Edges) != 0 {
		t.Fatalf("empty seeds must yield empty result, got %+v", sg)
	}
	if got := s.ReadCount(); got != 0 {
		t.Fatalf("empty seeds must not touch the store, got %d reads", got)
	}
}

func TestSubgraphHopBound(t *testing.T) {
	s := memstore.New()
	addNode(t, s, "n_a", "alpha")
	addNode(t, s, "n_b", "beta")
	addNode(t, s, "n_c", "gamma")
	addEdge(t, s, "n_a", "n_b")
	addEdge(t, s, "n_b", "n_c")

	sg, err := New(s).Subgraph(context.Background(), []string{"n_a"})
	if err != nil {
		t.Fatalf("subgraph failed: %v", err)
	}

	depths := nodeIDs(sg)
	if _, ok := depths["n_b"]; !ok {
		t.Fatalf("direct neighbor missing from result: %v", depths)
	}
	if _, ok := depths["n_c"]; ok {
		t.Fatalf("node beyond hop limit must be excluded: %v", depths)
	}
	if depths["n_a"] != 0 || depths["n_b"] != 1 {
		t.Fatalf("unexpected depths: %v", depths)
	}
}

func TestSubgraphConfiguredHop(t *testing.T) {
	s := memstore.New()
	addNode(t, s, "n_a", "alpha")
	addNode(t, s, "n_b", "beta")
	addNode(t, s, "n_c", "gamma")
	addEdge(t, s, "n_a", "n_b")
	addEdge(t, s, "n_b", "n_c")
	setLimit(t, s, "limits.hop", "2")

	sg, err := New(s).Subgraph(context.Background(), []string{"n_a"})
	if err != nil {
		t.Fatalf("subgraph failed: %v", err)
	}

	depths := nodeIDs(sg)
	if depths["n_c"] != 2 {
		t.Fatalf("hop 2 must reach the chain's end, got %v", depths)
	}
	// The A-B edge is seen from both frontiers and must appear once.
	if len(sg.Edges) != 2 {
		t.Fatalf("expected deduped edges, got %d: %+v", len(sg.Edges), sg.Edges)
	}
}

func TestSubgraphPerDepthCap(t *testing.T) {
	s := memstore.New()
	addNode(t, s, "n_seed", "hub")
	for _, id := range []string{"n_x1", "n_x2", "n_x3"} {
		addNode(t, s, id, "spoke "+id)
		addEdge(t, s, "n_seed", id)
	}
	setLimit(t, s, "limits.per_depth_cap", "1")

	sg, err := New(s).Subgraph(context.Background(), []string{"n_seed"})
	if err != nil {
		t.Fatalf("subgraph failed: %v", err)
	}

	neighbors := 0
	for _, n := range sg.Nodes {
		if n.Depth == 1 {
			neighbors++
		}
	}
	if neighbors != 1 {
		t.Fatalf("per-depth cap must truncate the frontier, got %d neighbors", neighbors)
	}
}

func TestSubgraphNodeCap(t *testing.T) {
	s := memstore.New()
	addNode(t, s, "n_seed", "hub")
	for _, id := range []string{"n_y1", "n_y2", "n_y3", "n_y4"} {
		addNode(t, s, id, "spoke "+id)
		addEdge(t, s, "n_seed", id)
	}
	setLimit(t, s, "limits.node_cap", "2")

	sg, err := New(s).Subgraph(context.Background(), []string{"n_seed"})
	if err != nil {
		t.Fatalf("subgraph failed: %v", err)
	}
	if len(sg.Nodes) != 2 {
		t.Fatalf("node cap must bound the result, got %d", len(sg.Nodes))
	}
	if sg.Nodes[0].ID != "n_seed" {
		t.Fatalf("seed should outrank its neighbors, got %s first", sg.Nodes[0].ID)
	}
}

func TestSubgraphBridgeNodes(t *testing.T) {
	s := memstore.New()
	// Two seeds joined through intermediates: a - x - c - y - b. With the
	// primary pass disabled, c is only reachable through the bridge pass.
	for _, n := range []struct{ id, title string }{
		{"n_a", "alpha"}, {"n_b", "beta"}, {"n_x", "left hop"},
		{"n_y", "right hop"}, {"n_c", "shared fact"},
	} {
		addNode(t, s, n.id, n.title)
	}
	addEdge(t, s, "n_a", "n_x")
	addEdge(t, s, "n_x", "n_c")
	addEdge(t, s, "n_b", "n_y")
	addEdge(t, s, "n_y", "n_c")
	setLimit(t, s, "limits.hop", "0")

	sg, err := New(s).Subgraph(context.Background(), []string{"n_a", "n_b"})
	if err != nil {
		t.Fatalf("subgraph failed: %v", err)
	}

	depths := nodeIDs(sg)
	d, ok := depths["n_c"]
	if !ok {
		t.Fatalf("bridge node missing: %v", depths)
	}
	if d != -1 {
		t.Fatalf("bridge node must carry depth -1, got %d", d)
	}
	if _, ok := depths["n_x"]; ok {
		t.Fatalf("single-seed intermediates are not bridges: %v", depths)
	}
}

func TestSubgraphNoBridgePassForSingleSeed(t *testing.T) {
	s := memstore.New()
	addNode(t, s, "n_a", "alpha")
	addNode(t, s, "n_b", "beta")
	addEdge(t, s, "n_a", "n_b")
	setLimit(t, s, "limits.hop", "0")

	sg, err := New(s).Subgraph(context.Background(), []string{"n_a"})
	if err != nil {
		t.Fatalf("subgraph failed: %v", err)
	}
	if len(sg.Nodes) != 1 {
		t.Fatalf("single seed with hop 0 expands nothing, got %v", nodeIDs(sg))
	}
}

func TestSubgraphScoresDescending(t *testing.T) {
	s := memstore.New()
	addNode(t, s, "n_seed", "release checklist")
	addNode(t, s, "n_n1", "release checklist draft")
	addNode(t, s, "n_n2", "unrelated topic")
	addEdge(t, s, "n_seed", "n_n1")
	addEdge(t, s, "n_seed", "n_n2")

	sg, err := New(s).Subgraph(context.Background(), []string{"n_seed"})
	if err != nil {
		t.Fatalf("subgraph failed: %v", err)
	}

	for i := 1; i < len(sg.Nodes); i++ {
		if sg.Nodes[i].Score > sg.Nodes[i-1].Score {
			t.Fatalf("nodes must be sorted by score descending: %+v", sg.Nodes)
		}
	}
	if sg.Nodes[0].ID != "n_seed" {
		t.Fatalf("seed should rank first, got %s", sg.Nodes[0].ID)
	}
}
