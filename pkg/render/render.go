// Package render serializes a retrieved subgraph into the plain-text memory
// block injected into a model prompt. Rendering is pure and deterministic:
// the same subgraph always produces byte-identical output.
package render

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/melokeo/graphmem/pkg/common"
)

const (
	packHeader   = "[Memory v1]"
	maxFactLines = 60
	maxRelLines  = 30
)

// Pack renders the memory block. Seeds are listed by title in the order
// given; facts list the scored nodes in rank order; relations group by edge
// type, alphabetically, with endpoint titles resolved from the subgraph.
// Both sections truncate with a trailing "..." line when over their caps.
func Pack(sg common.Subgraph, seeds []string, windowDays, hop int) string {
	titles := make(map[string]string, len(sg.Nodes))
	for _, n := range sg.Nodes {
		titles[n.ID] = n.Title
	}

	var b strings.Builder
	b.WriteString(packHeader)
	b.WriteByte('\n')

	b.WriteString("Seeds: ")
	b.WriteString(seedLine(titles, seeds))
	b.WriteByte('\n')

	b.WriteString("Facts:\n")
	for i, n := range sg.Nodes {
		if i >= maxFactLines {
			b.WriteString("...\n")
			break
		}
		fmt.Fprintf(&b, "- %s %s (conf=%.2f)\n", n.Type, nodeLabel(n.ID, n.Title), n.Confidence)
	}

	b.WriteString("Relations:\n")
	edges := append([]common.Edge(nil), sg.Edges...)
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Type != edges[j].Type {
			return edges[i].Type < edges[j].Type
		}
		if edges[i].SrcID != edges[j].SrcID {
			return edges[i].SrcID < edges[j].SrcID
		}
		return edges[i].DstID < edges[j].DstID
	})
	groupType := ""
	for i, e := range edges {
		if i >= maxRelLines {
			b.WriteString("...\n")
			break
		}
		if e.Type != groupType {
			b.WriteString("- ")
			b.WriteString(e.Type)
			b.WriteString(":\n")
			groupType = e.Type
		}
		fmt.Fprintf(&b, "  • %s → %s (w=%s)\n",
			resolveLabel(titles, e.SrcID),
			resolveLabel(titles, e.DstID),
			formatWeight(e.Weight))
	}

	b.WriteString("Window ")
	b.WriteString(strconv.Itoa(windowDays))
	b.WriteString("d  Nodes ")
	b.WriteString(strconv.Itoa(len(sg.Nodes)))
	b.WriteString("  Hop ")
	b.WriteString(strconv.Itoa(hop))
	b.WriteByte('\n')
	return b.String()
}

// seedLine keeps every seed visible even when node-cap truncation dropped it
// from the node list; an unresolvable seed falls back to its id.
func seedLine(titles map[string]string, seeds []string) string {
	if len(seeds) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(seeds))
	for _, id := range seeds {
		names = append(names, nodeLabel(id, titles[id]))
	}
	return strings.Join(names, "; ")
}

func nodeLabel(id, title string) string {
	if strings.TrimSpace(title) == "" {
		return id
	}
	return title
}

func resolveLabel(titles map[string]string, id string) string {
	return nodeLabel(id, titles[id])
}

// formatWeight rounds to two decimals and drops trailing zeros, so 0.50
// renders as 0.5 and 1.00 as 1.
func formatWeight(w float64) string {
	return strconv.FormatFloat(math.Round(w*100)/100, 'f', -1, 64)
}
