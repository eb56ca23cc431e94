package retrieve

import (
	"context"
	"strings"
	"unicode"

	"github.com/melokeo/graphmem/pkg/common"
)

const fuzzySeedLimit = 3

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"what": {}, "who": {}, "when": {}, "where": {}, "how": {}, "why": {},
	"about": {}, "did": {}, "does": {}, "was": {}, "are": {}, "you": {},
	"les": {}, "des": {}, "est": {}, "une": {}, "que": {}, "qui": {},
}

// SeedsFromText resolves query tokens to graph nodes for read-only
// retrieval. Each token tries an exact alias match first, then a fuzzy
// lookup; no nodes are ever created.
func (r *Retrieval) SeedsFromText(ctx context.Context, text string) ([]common.Node, error) {
	seen := make(map[string]struct{})
	ids := make([]string, 0)

	add := func(nodeID string) {
		if _, ok := seen[nodeID]; ok {
			return
		}
		seen[nodeID] = struct{}{}
		ids = append(ids, nodeID)
	}

	for _, tok := range Tokenize(text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hit, err := r.store.FindAliasExact(ctx, tok)
		if err != nil {
			return nil, err
		}
		if hit != nil {
			add(hit.NodeID)
			continue
		}
		hits, err := r.store.FindAliases(ctx, tok, fuzzySeedLimit)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			add(h.NodeID)
		}
	}
	if len(ids) == 0 {
		return []common.Node{}, nil
	}

	nodes, err := r.store.GetNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	// Preserve token resolution order regardless of store return order.
	byID := make(map[string]common.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	seeds := make([]common.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			seeds = append(seeds, n)
		}
	}
	return seeds, nil
}

// Tokenize splits free text into lookup tokens. CJK ideographs carry
// meaning per character and are emitted individually; other scripts are
// split on non-letter boundaries and kept when at least two runes long.
// Tokens are lowercased, stop words removed, order-preserving unique.
func Tokenize(text string) []string {
	tokens := make([]string, 0)
	seen := make(map[string]struct{})

	emit := func(tok string) {
		if tok == "" {
			return
		}
		if _, ok := stopWords[tok]; ok {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}

	var word strings.Builder
	flush := func() {
		if word.Len() == 0 {
			return
		}
		tok := strings.ToLower(word.String())
		word.Reset()
		if len([]rune(tok)) >= 2 {
			emit(tok)
		}
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			emit(string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		(r >= 0x3040 && r <= 0x30FF) // hiragana, katakana
}
