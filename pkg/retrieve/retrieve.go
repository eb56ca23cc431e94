// Package retrieve expands seed nodes into a capped, scored subgraph. The
// primary pass is a bounded breadth-first expansion; a second pass surfaces
// bridge nodes that connect two or more seeds, since a fact shared between
// seed entities is disproportionately relevant even when it sits outside the
// primary hop radius.
package retrieve

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/errgroup"

	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/rank"
	"github.com/melokeo/graphmem/pkg/store"
)

// Limits are the retrieval tunables, loaded per call from store config with
// these defaults.
type Limits struct {
	NodeCap     int
	Hop         int
	PerDepthCap int
	BridgeDepth int
	BridgeCap   int
}

// DefaultLimits returns the hardcoded fallbacks.
func DefaultLimits() Limits {
	return Limits{
		NodeCap:     100,
		Hop:         1,
		PerDepthCap: 500,
		BridgeDepth: 2,
		BridgeCap:   100,
	}
}

const bridgeParallel = 8

// Retrieval reads the graph around seed nodes and ranks the result.
type Retrieval struct {
	store store.GraphStore
	now   func() time.Time
}

// New creates a Retrieval on the given store.
func New(s store.GraphStore) *Retrieval {
	return &Retrieval{store: s, now: time.Now}
}

func loadLimits(ctx context.Context, s store.GraphStore) Limits {
	def := DefaultLimits()
	lim := Limits{
		NodeCap:     store.ConfigInt(ctx, s, "limits.node_cap", def.NodeCap),
		Hop:         store.ConfigInt(ctx, s, "limits.hop", def.Hop),
		PerDepthCap: store.ConfigInt(ctx, s, "limits.per_depth_cap", def.PerDepthCap),
		BridgeDepth: store.ConfigInt(ctx, s, "limits.bridge_depth", def.BridgeDepth),
		BridgeCap:   store.ConfigInt(ctx, s, "limits.bridge_cap", def.BridgeCap),
	}
	// Misconfigured values clamp instead of crashing the turn.
	if lim.NodeCap <= 0 {
		lim.NodeCap = def.NodeCap
	}
	if lim.Hop < 0 {
		lim.Hop = def.Hop
	}
	return lim
}

// Subgraph expands the seeds breadth-first up to the configured hop depth,
// merges bridge nodes, scores every candidate, and truncates to the node
// cap. An empty seed set returns an empty result without touching the store.
func (r *Retrieval) Subgraph(ctx context.Context, seedIDs []string) (common.Subgraph, error) {
	if len(seedIDs) == 0 {
		return common.Subgraph{Nodes: []common.ScoredNode{}, Edges: []common.Edge{}}, nil
	}

	limits := loadLimits(ctx, r.store)
	ranker := rank.NewFromConfig(ctx, r.store)

	visited := make(map[string]int, len(seedIDs))
	for _, id := range seedIDs {
		visited[id] = 0
	}

	nodes, err := r.store.GetNodes(ctx, seedIDs)
	if err != nil {
		return common.Subgraph{}, err
	}

	edges := make([]common.Edge, 0)
	frontier := append([]string(nil), seedIDs...)

	for depth := 1; depth <= limits.Hop && len(frontier) > 0; depth++ {
		batch, err := r.store.GetEdgesTouching(ctx, frontier)
		if err != nil {
			return common.Subgraph{}, err
		}
		edges = append(edges, batch...)

		// Collect unseen endpoints in encounter order so per-depth
		// truncation stays a stable prefix.
		next := make([]string, 0)
		nextSeen := make(map[string]struct{})
		for _, e := range batch {
			for _, id := range []string{e.SrcID, e.DstID} {
				if _, ok := visited[id]; ok {
					continue
				}
				if _, ok := nextSeen[id]; ok {
					continue
				}
				nextSeen[id] = struct{}{}
				next = append(next, id)
			}
		}
		if limits.PerDepthCap > 0 && len(next) > limits.PerDepthCap {
			next = next[:limits.PerDepthCap]
		}

		for _, id := range next {
			visited[id] = depth
		}
		if len(next) > 0 {
			batchNodes, err := r.store.GetNodes(ctx, next)
			if err != nil {
				return common.Subgraph{}, err
			}
			nodes = append(nodes, batchNodes...)
		}
		frontier = next
	}

	edges = dedupeEdges(edges)

	if len(seedIDs) >= 2 && limits.BridgeDepth >= 1 {
		bridges, err := r.bridgeNodes(ctx, seedIDs, limits.BridgeDepth, limits.BridgeCap)
		if err != nil {
			return common.Subgraph{}, err
		}
		extra := make([]string, 0, len(bridges))
		for _, id := range bridges {
			if _, ok := visited[id]; !ok {
				extra = append(extra, id)
				visited[id] = -1
			}
		}
		if len(extra) > 0 {
			extraNodes, err := r.store.GetNodes(ctx, extra)
			if err != nil {
				return common.Subgraph{}, err
			}
			nodes = append(nodes, extraNodes...)

			extraEdges, err := r.store.GetEdgesTouching(ctx, extra)
			if err != nil {
				return common.Subgraph{}, err
			}
			edges = dedupeEdges(append(edges, extraEdges...))
		}
	}

	scored := r.scoreNodes(nodes, edges, seedIDs, visited, ranker)

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > limits.NodeCap {
		scored = scored[:limits.NodeCap]
	}

	return common.Subgraph{Nodes: scored, Edges: edges}, nil
}

// bridgeNodes runs an independent BFS from each seed up to depth k and
// returns nodes reached from two or more distinct seeds, capped and ordered
// by id for determinism.
func (r *Retrieval) bridgeNodes(ctx context.Context, seedIDs []string, k, limit int) ([]string, error) {
	reached := make([]map[string]struct{}, len(seedIDs))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(bridgeParallel)
	for i, seed := range seedIDs {
		i, seed := i, seed
		eg.Go(func() error {
			reach := map[string]struct{}{seed: {}}
			frontier := []string{seed}
			for depth := 1; depth <= k && len(frontier) > 0; depth++ {
				batch, err := r.store.GetEdgesTouching(gCtx, frontier)
				if err != nil {
					return err
				}
				next := make([]string, 0)
				for _, e := range batch {
					for _, id := range []string{e.SrcID, e.DstID} {
						if _, ok := reach[id]; !ok {
							reach[id] = struct{}{}
							next = append(next, id)
						}
					}
				}
				frontier = next
			}
			reached[i] = reach
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, reach := range reached {
		for id := range reach {
			counts[id]++
		}
	}

	bridges := make([]string, 0)
	for id, n := range counts {
		if n >= 2 {
			bridges = append(bridges, id)
		}
	}
	sort.Strings(bridges)
	if limit > 0 && len(bridges) > limit {
		bridges = bridges[:limit]
	}
	return bridges, nil
}

// scoreNodes computes real ranking signals from the fetched neighborhood:
// title similarity against seed titles, recency from updated_ts, normalized
// incident edge weight, and normalized degree.
func (r *Retrieval) scoreNodes(nodes []common.Node, edges []common.Edge, seedIDs []string, visited map[string]int, ranker *rank.Ranker) []common.ScoredNode {
	incidentWeight := make(map[string]float64)
	degree := make(map[string]int)
	for _, e := range edges {
		incidentWeight[e.SrcID] += e.Weight
		incidentWeight[e.DstID] += e.Weight
		degree[e.SrcID]++
		degree[e.DstID]++
	}
	maxWeight, maxDegree := 0.0, 0
	for _, w := range incidentWeight {
		if w > maxWeight {
			maxWeight = w
		}
	}
	for _, d := range degree {
		if d > maxDegree {
			maxDegree = d
		}
	}

	seedSet := make(map[string]struct{}, len(seedIDs))
	for _, id := range seedIDs {
		seedSet[id] = struct{}{}
	}
	seedTitles := make([]string, 0, len(seedIDs))
	for _, n := range nodes {
		if _, ok := seedSet[n.ID]; ok {
			seedTitles = append(seedTitles, strings.ToLower(n.Title))
		}
	}

	now := r.now()
	seen := make(map[string]struct{}, len(nodes))
	scored := make([]common.ScoredNode, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}

		depth := visited[n.ID]
		effective := depth
		if effective < 0 {
			effective = 0
		}

		sig := rank.Signals{
			TextScore:    r.textScore(n, seedSet, seedTitles),
			RecencyHours: recencyHours(now, n.UpdatedTS),
			DepthPenalty: 1.0 / float64(1+effective),
		}
		if maxWeight > 0 {
			sig.EdgeWeight = incidentWeight[n.ID] / maxWeight
		}
		if maxDegree > 0 {
			sig.Centrality = float64(degree[n.ID]) / float64(maxDegree)
		}

		scored = append(scored, common.ScoredNode{
			Node:  n,
			Score: ranker.Score(sig),
			Depth: depth,
		})
	}
	return scored
}

func (r *Retrieval) textScore(n common.Node, seedSet map[string]struct{}, seedTitles []string) float64 {
	if _, ok := seedSet[n.ID]; ok {
		return 1.0
	}
	best := 0.0
	title := strings.ToLower(n.Title)
	for _, seedTitle := range seedTitles {
		if s := matchr.JaroWinkler(title, seedTitle, false); s > best {
			best = s
		}
	}
	return best
}

func recencyHours(now time.Time, updated time.Time) float64 {
	if updated.IsZero() {
		return 999
	}
	hours := now.Sub(updated).Hours()
	if hours < 0 {
		return 0
	}
	return hours
}

func dedupeEdges(edges []common.Edge) []common.Edge {
	seen := make(map[string]struct{}, len(edges))
	out := make([]common.Edge, 0, len(edges))
	for _, e := range edges {
		key := e.ID
		if key == "" {
			key = e.SrcID + ">" + e.Type + ">" + e.DstID
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
