package detect

import (
	"regexp"
	"sort"
	"strings"

	"github.com/melokeo/graphmem/pkg/common"
)

// CatalogEntry is a known name with its spelling variants. Variants listed
// in WholeWord only match at word boundaries, so short handles like "mel"
// do not fire inside unrelated words.
type CatalogEntry struct {
	Norm      string
	Type      string
	Variants  []string
	WholeWord map[string]bool
}

// DefaultCatalog returns the built-in participant catalog.
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		{
			Norm:      "Mel",
			Type:      common.TypePerson,
			Variants:  []string{"mel xu", "@mel", "mel"},
			WholeWord: map[string]bool{"mel": true},
		},
		{
			Norm:      "Eunoia",
			Type:      common.TypePerson,
			Variants:  []string{"eunoia", "@euno", "euno"},
			WholeWord: map[string]bool{"euno": true},
		},
	}
}

type nameCandidate struct {
	span [2]int
	text string
}

// injectCustomNames adds at most one entity per catalog norm: the longest,
// earliest, non-overlapping span among all variant matches. Any provider
// entity carrying the same norm is dropped first so the catalog stays
// authoritative for its names.
func injectCustomNames(text string, entities []Entity, catalog []CatalogEntry) []Entity {
	occupied := make([][2]int, 0, len(entities))
	for _, e := range entities {
		occupied = append(occupied, e.Span)
	}

	for _, entry := range catalog {
		entities = dropByNorm(entities, entry.Norm)

		candidates := make([]nameCandidate, 0)
		for _, variant := range entry.Variants {
			whole := entry.WholeWord[strings.ToLower(variant)]
			for _, span := range findSpans(text, variant, whole) {
				candidates = append(candidates, nameCandidate{
					span: span,
					text: text[span[0]:span[1]],
				})
			}
		}
		if len(candidates) == 0 {
			continue
		}

		// Longest match first, then earliest offset.
		sort.SliceStable(candidates, func(i, j int) bool {
			li := candidates[i].span[1] - candidates[i].span[0]
			lj := candidates[j].span[1] - candidates[j].span[0]
			if li != lj {
				return li > lj
			}
			return candidates[i].span[0] < candidates[j].span[0]
		})

		var best *nameCandidate
		for i := range candidates {
			if !overlapsAny(candidates[i].span, occupied) {
				best = &candidates[i]
				break
			}
		}
		if best == nil {
			continue
		}

		entities = append(entities, Entity{
			Type:  entry.Type,
			Text:  best.text,
			Norm:  entry.Norm,
			Span:  best.span,
			Score: 0.9,
		})
		occupied = append(occupied, best.span)
	}

	return entities
}

func dropByNorm(entities []Entity, norm string) []Entity {
	n := strings.ToLower(norm)
	out := entities[:0]
	for _, e := range entities {
		if strings.ToLower(e.Norm) != n {
			out = append(out, e)
		}
	}
	return out
}

func overlaps(a, b [2]int) bool {
	return max(a[0], b[0]) < min(a[1], b[1])
}

func overlapsAny(span [2]int, occupied [][2]int) bool {
	for _, o := range occupied {
		if overlaps(span, o) {
			return true
		}
	}
	return false
}

// findSpans returns every case-insensitive occurrence of needle as byte
// spans. With wholeWord set, occurrences must not butt against letters,
// digits or underscores.
func findSpans(text, needle string, wholeWord bool) [][2]int {
	pattern := `(?i)` + regexp.QuoteMeta(needle)
	if wholeWord {
		pattern = `(?i)(?:^|[^\p{L}\p{N}_])(` + regexp.QuoteMeta(needle) + `)(?:[^\p{L}\p{N}_]|$)`
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}

	spans := make([][2]int, 0)
	if !wholeWord {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			spans = append(spans, [2]int{loc[0], loc[1]})
		}
		return spans
	}

	// Boundary characters are part of the match, so scan with overlap and
	// report only the capture group.
	offset := 0
	for offset <= len(text) {
		loc := re.FindStringSubmatchIndex(text[offset:])
		if loc == nil {
			break
		}
		start, end := offset+loc[2], offset+loc[3]
		spans = append(spans, [2]int{start, end})
		offset = end
	}
	return spans
}
