// Package detect turns a raw chat utterance into a typed detection result:
// an intent label, entity spans, and slot values. Intent classification is
// rule-based (weighted lexicons plus structural cues); entity extraction
// delegates to an external NER provider and layers local rules on top.
package detect

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/melokeo/graphmem/internal/util"
	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/logger"
)

// Version identifies the detector rule set persisted with each turn.
const Version = "v1"

// Intent labels.
const (
	IntentPlan       = "plan"
	IntentPreference = "preference"
	IntentAssign     = "assign"
	IntentSchedule   = "schedule"
	IntentQuery      = "query"
	IntentOther      = "other"
)

// Entity is a detected span in the source utterance. Span holds [start, end)
// byte offsets. Entities are transient; only the linker persists them.
type Entity struct {
	Type  string            `json:"type"`
	Text  string            `json:"text"`
	Norm  string            `json:"norm"`
	Span  [2]int            `json:"span"`
	Score float64           `json:"score"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Intent is the classified intent with its confidence.
type Intent struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Result is the full detector output for one utterance.
type Result struct {
	DetectorVersion string            `json:"detector_version"`
	Intent          Intent            `json:"intent"`
	Entities        []Entity          `json:"entities"`
	Slots           map[string]string `json:"slots"`
}

// EntityAnalyzer is the external NER capability the detector delegates
// span-level recognition to.
type EntityAnalyzer interface {
	AnalyzeEntities(ctx context.Context, text string) ([]ProviderEntity, error)
}

// Detector classifies intent and extracts entities and slots. It performs no
// graph writes; its only side effect is a best-effort audit line per call.
type Detector struct {
	ner     EntityAnalyzer
	catalog []CatalogEntry
	audit   io.Writer
}

// Params configures a Detector. Catalog defaults to DefaultCatalog when nil;
// Audit may be nil to disable the audit line.
type Params struct {
	NER     EntityAnalyzer
	Catalog []CatalogEntry
	Audit   io.Writer
}

// New creates a Detector.
func New(params Params) *Detector {
	catalog := params.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Detector{
		ner:     params.NER,
		catalog: catalog,
		audit:   params.Audit,
	}
}

// Detect runs intent classification and entity/slot extraction on the
// utterance. An NER failure is returned as-is; the detector does not retry.
func (d *Detector) Detect(ctx context.Context, utterance string) (Result, error) {
	text := Normalize(utterance)
	intent := d.inferIntent(text)

	entities, slots, err := d.extractEntitiesAndSlots(ctx, utterance)
	if err != nil {
		return Result{}, err
	}

	d.writeAudit(text, entities)

	return Result{
		DetectorVersion: Version,
		Intent:          intent,
		Entities:        entities,
		Slots:           slots,
	}, nil
}

// Normalize collapses whitespace, folds common CJK/fullwidth punctuation to
// ASCII equivalents, and lowercases.
func Normalize(text string) string {
	text = util.CollapseWhitespace(text)
	text = punctFolder.Replace(text)
	return strings.ToLower(text)
}

var punctFolder = strings.NewReplacer(
	"，", ",", "。", ".", "：", ":", "；", ";", "？", "?", "！", "!",
	"（", "(", "）", ")", "「", `"`, "」", `"`, "『", `"`, "』", `"`, "、", ",",
)

func (d *Detector) inferIntent(normText string) Intent {
	scores := intentScore(normText)

	max := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if max <= 0 {
		if isQuestion(normText) {
			return Intent{Label: IntentQuery, Score: 0.7}
		}
		return Intent{Label: IntentOther, Score: 0.7}
	}

	// Schedule wins a plan/schedule tie when a time expression is present.
	if scores[IntentSchedule] == max && scores[IntentSchedule] >= scores[IntentPlan] && hasTimeCue(normText) {
		return Intent{Label: IntentSchedule, Score: 0.7}
	}

	for _, label := range intentOrder {
		if scores[label] == max {
			return Intent{Label: label, Score: 0.7}
		}
	}
	return Intent{Label: IntentOther, Score: 0.7}
}

var intentOrder = []string{IntentPlan, IntentPreference, IntentAssign, IntentSchedule, IntentQuery}

var intentLexicon = map[string][]string{
	IntentPlan: {
		"plan", "todo", "to do", "finish", "complete", "deadline", "due", "by ",
		"截止", "到…之前", "期限",
		"finir", "terminer", "échéance", "d'ici", "avant ",
	},
	IntentPreference: {
		"prefer", "like", "dislike",
		"喜欢", "偏好", "更喜欢",
		"n'aime pas", "préfér",
	},
	IntentAssign: {
		"assign", "delegate", "owner", "responsible",
		"指派", "分配", "负责人",
		"assigner", "attribuer", "déléguer", "responsable",
	},
	IntentSchedule: {
		"meeting", "schedule", "call", "appoint", "rdv", "rendez",
		"会议", "安排", "预约",
		"réunion", "planifier", "programmer",
	},
	IntentQuery: {
		"who", "what", "when", "where", "why", "how",
		"谁", "什么", "什么时候", "哪里", "为何", "如何",
		"qui", "quoi", "quand", "où", "pourquoi", "comment",
	},
}

// Known misspellings per canonical term, used for typo-tolerant matching.
var fuzzyVariants = map[string][]string{
	"prefer":      {"preffer", "prefr", "prefered", "preffered", "preferr", "prefrer"},
	"like":        {"liek", "lke"},
	"dislike":     {"dislke", "disliek"},
	"assign":      {"assgin", "asign", "assigne"},
	"delegate":    {"deleagte", "delagate", "delegte"},
	"owner":       {"owenr"},
	"responsible": {"responsable", "repsonsible", "responisble"},
	"meeting":     {"meetng", "meting", "meetign"},
	"schedule":    {"scheduel", "schedual", "schedul"},
	"appoint":     {"appint", "apoint", "appointmnet"},
	"tomorrow":    {"tomorow", "tmrw", "tmr"},
	"deadline":    {"deadlne", "deadeline"},
	"complete":    {"compelete", "complet", "cmplete"},
	"finish":      {"finsh", "finsih"},
	"préfér":      {"preferer", "prefere", "préfere", "préfer", "prefferer"},
	"réunion":     {"reunion", "reuinion", "reunoin"},
	"planifier":   {"planifer", "planifir", "plannifier"},
	"terminer":    {"termnier", "ternimer"},
	"attribuer":   {"atribuer", "attrubuer"},
	"échéance":    {"echeance", "echéance", "écheace"},
	"avant ":      {"avnt ", "avan "},
}

func intentScore(l string) map[string]float64 {
	score := map[string]float64{
		IntentPlan: 0, IntentPreference: 0, IntentAssign: 0, IntentSchedule: 0, IntentQuery: 0,
	}

	for label, terms := range intentLexicon {
		if containsAnyFuzzy(l, terms) {
			score[label]++
		}
	}

	if hasTimeCue(l) {
		score[IntentSchedule]++
	}
	if looksImperative(l) {
		score[IntentPlan] += 0.7
		score[IntentAssign] += 0.5
	}
	if isQuestion(l) {
		score[IntentQuery]++
	}
	if deadlineCueRe.MatchString(l) {
		score[IntentPlan] += 0.5
	}
	if containsAnyFuzzy(l, []string{"prefer", "喜欢", "préfér"}) {
		score[IntentPreference] += 0.7
	}
	if hasNegation(l) {
		score[IntentPreference] += 0.3
		score[IntentPlan] += 0.1
	}

	return score
}

func containsAnyFuzzy(l string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(l, term) {
			return true
		}
		for _, variant := range fuzzyVariants[term] {
			if strings.Contains(l, variant) {
				return true
			}
		}
	}
	return false
}

var (
	negationRe    = regexp.MustCompile(`\b(no|not|don't|do not)\b|无|不要|别|不|ne\s+pas|\bpas\b`)
	timeCueRe     = regexp.MustCompile(`\b\d{1,2}(:\d{2})?\s*(am|pm)\b|\b\d{1,2}h(\d{2})?\b|\b(today|tomorrow|tmrw|tmr|next (week|month))\b|明天|今天|下周|下个月`)
	questionRe    = regexp.MustCompile(`\b(who|what|when|where|why|how|qui|quoi|quand|où|pourquoi|comment)\b|谁|什么|什么时候|哪里|为何|如何`)
	imperativeRe  = regexp.MustCompile(`^\s*(schedule|finish|complete|assign|plan|call|meet|安排|完成|指派|计划|预约|planifier|terminer|attribuer|rendez[-\s]?vous)\b`)
	deadlineCueRe = regexp.MustCompile(`\bby\b|之前|d'ici|\bavant\b`)
)

func hasNegation(l string) bool   { return negationRe.MatchString(l) }
func hasTimeCue(l string) bool    { return timeCueRe.MatchString(l) }
func looksImperative(l string) bool { return imperativeRe.MatchString(l) }

func isQuestion(t string) bool {
	return strings.Contains(t, "?") || questionRe.MatchString(t)
}

var (
	deadlineWordRe = regexp.MustCompile(`(?i)\bby\b`)
	preferClauseRe = regexp.MustCompile(`(?i)\bprefer(?:s|red)?\s+([^.;,]+)$`)
)

func (d *Detector) extractEntitiesAndSlots(ctx context.Context, text string) ([]Entity, map[string]string, error) {
	entities := make([]Entity, 0)
	slots := make(map[string]string)

	provided, err := d.ner.AnalyzeEntities(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("analyze entities: %w", err)
	}

	for _, pe := range provided {
		typ := MapProviderType(pe.Type)
		for _, mention := range pe.Mentions {
			mtxt := mention.Text
			if mtxt == "" {
				mtxt = pe.Name
			}
			norm := pe.Name
			if norm == "" {
				norm = mtxt
			}
			entities = append(entities, Entity{
				Type:  typ,
				Text:  mtxt,
				Norm:  norm,
				Span:  spanFromMention(text, mtxt),
				Score: pe.Salience,
			})
		}
	}

	// Deadline slot: "by" plus any Time entity from the provider.
	if deadlineWordRe.MatchString(text) {
		for _, e := range entities {
			if e.Type == common.TypeTime {
				slots["deadline"] = e.Norm
				break
			}
		}
	}

	// Preference clause: tail of "prefer ..." becomes both a slot and an entity.
	if m := preferClauseRe.FindStringSubmatchIndex(text); m != nil {
		pref := strings.TrimSpace(text[m[2]:m[3]])
		if pref != "" {
			slots["preference"] = pref
			entities = append(entities, Entity{
				Type:  common.TypePreference,
				Text:  pref,
				Norm:  pref,
				Span:  [2]int{m[2], m[2] + len(pref)},
				Score: 0.8,
			})
		}
	}

	entities = injectCustomNames(text, entities, d.catalog)

	return entities, slots, nil
}

// spanFromMention recovers byte offsets by re-locating the mention in the
// source text: case-insensitive regex match first, substring search fallback.
func spanFromMention(full, mention string) [2]int {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(mention))
	if err == nil {
		if loc := re.FindStringIndex(full); loc != nil {
			return [2]int{loc[0], loc[1]}
		}
	}
	if pos := strings.Index(strings.ToLower(full), strings.ToLower(mention)); pos >= 0 {
		return [2]int{pos, pos + len(mention)}
	}
	return [2]int{0, len(mention)}
}

func (d *Detector) writeAudit(normText string, entities []Entity) {
	if d.audit == nil {
		return
	}
	norms := make([]string, 0, len(entities))
	for _, e := range entities {
		norms = append(norms, e.Norm)
	}
	line := fmt.Sprintf("[%s] %s | entities: %s\n",
		time.Now().UTC().Format("2006-01-02 15:04:05"),
		strings.NewReplacer("\n", " ", "\r", " ").Replace(normText),
		strings.Join(norms, ", "),
	)
	if _, err := io.WriteString(d.audit, line); err != nil {
		logger.Debug("[Detect] Audit write failed", "err", err)
	}
}
