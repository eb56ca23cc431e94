// Package link resolves detected entities against the graph's aliases and
// creates provisional nodes for the ones nobody has seen before. Every hit
// or creation records evidence tied to the originating message.
package link

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/melokeo/graphmem/internal/util"
	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/detect"
	"github.com/melokeo/graphmem/pkg/logger"
	"github.com/melokeo/graphmem/pkg/store"
)

// SourceSpan marks aliases created from a user utterance span; SourceAssistant
// marks aliases harvested from assistant replies.
const (
	SourceSpan      = "span"
	SourceAssistant = "assistant"
)

const (
	provisionalConfidence = 0.3
	maxTitleRunes         = 255
	fuzzyLimit            = 5
)

// Result summarizes one Link call. Seeds preserves first-seen order with
// duplicates removed.
type Result struct {
	Seeds   []string `json:"seeds"`
	Created int      `json:"created"`
	Matched int      `json:"matched"`
}

// Linker links detector entities to graph nodes.
type Linker struct {
	store store.GraphStore
}

// New creates a Linker on the given store.
func New(s store.GraphStore) *Linker {
	return &Linker{store: s}
}

// Link processes entities in input order. Each entity either matches an
// existing alias (exact first, fuzzy fallback) or gets a provisional node;
// the provisional (node, alias, evidence) triple commits as one transaction
// and a failed triple skips that entity without aborting the batch. Entities
// with an empty normalized text are filtered, not errors.
func (l *Linker) Link(ctx context.Context, sessionID string, msgID int64, entities []detect.Entity, source string) (Result, error) {
	if source == "" {
		source = SourceSpan
	}

	seeds := make([]string, 0, len(entities))
	seen := make(map[string]struct{}, len(entities))
	created := 0
	matched := 0

	addSeed := func(nodeID string) {
		if _, ok := seen[nodeID]; ok {
			return
		}
		seen[nodeID] = struct{}{}
		seeds = append(seeds, nodeID)
	}

	for _, ent := range entities {
		if ctx.Err() != nil {
			return Result{Seeds: seeds, Created: created, Matched: matched}, ctx.Err()
		}

		raw := strings.TrimSpace(ent.Norm)
		if raw == "" {
			raw = strings.TrimSpace(ent.Text)
		}
		if raw == "" {
			continue
		}

		hit, err := l.bestAliasHit(ctx, raw)
		if err != nil {
			logger.Warn("[Link] Alias lookup failed, skipping entity", "alias", raw, "err", err)
			continue
		}
		if hit != nil {
			matched++
			addSeed(hit.NodeID)
			ev := common.Evidence{
				ID:          l.store.NewID("v_"),
				SubjectKind: common.SubjectNode,
				SubjectID:   hit.NodeID,
				MsgID:       msgID,
				SpanJSON:    spanJSON(ent),
			}
			if err := l.store.InsertEvidence(ctx, ev); err != nil {
				logger.Warn("[Link] Evidence insert failed", "node_id", hit.NodeID, "err", err)
			}
			continue
		}

		nodeID, err := l.createProvisional(ctx, ent, raw, msgID, source)
		if err != nil {
			logger.Warn("[Link] Provisional creation rolled back, skipping entity", "alias", raw, "err", err)
			continue
		}
		created++
		addSeed(nodeID)
	}

	return Result{Seeds: seeds, Created: created, Matched: matched}, nil
}

// bestAliasHit prefers an exact match over any fuzzy candidate, regardless of
// the fuzzy candidates' weights.
func (l *Linker) bestAliasHit(ctx context.Context, query string) (*common.AliasHit, error) {
	hit, err := l.store.FindAliasExact(ctx, query)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		return hit, nil
	}

	candidates, err := l.store.FindAliases(ctx, query, fuzzyLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}

// createProvisional commits the node, its alias and its evidence as one
// transaction. Any failure rolls the whole triple back.
func (l *Linker) createProvisional(ctx context.Context, ent detect.Entity, raw string, msgID int64, source string) (string, error) {
	nodeID := l.store.NewID("n_")

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	typ := ent.Type
	if typ == "" {
		typ = common.TypeOther
	}
	node := common.Node{
		ID:         nodeID,
		Type:       typ,
		Title:      normalizeTitle(raw),
		Confidence: provisionalConfidence,
		Status:     common.StatusProvisional,
	}
	if err := tx.InsertNode(ctx, node); err != nil {
		return "", err
	}

	alias := common.Alias{
		ID:     l.store.NewID("a_"),
		NodeID: nodeID,
		Alias:  raw,
		Source: source,
		Weight: 1.0,
	}
	if err := tx.InsertAlias(ctx, alias); err != nil {
		return "", err
	}

	ev := common.Evidence{
		ID:          l.store.NewID("v_"),
		SubjectKind: common.SubjectNode,
		SubjectID:   nodeID,
		MsgID:       msgID,
		SpanJSON:    spanJSON(ent),
	}
	if err := tx.InsertEvidence(ctx, ev); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return nodeID, nil
}

func normalizeTitle(s string) string {
	return util.TruncateRunes(util.CollapseWhitespace(s), maxTitleRunes)
}

func spanJSON(ent detect.Entity) string {
	if ent.Span[0] == 0 && ent.Span[1] == 0 {
		return ""
	}
	raw, err := json.Marshal(map[string][2]int{"span": ent.Span})
	if err != nil {
		return ""
	}
	return string(raw)
}
