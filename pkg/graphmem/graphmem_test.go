package graphmem

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/detect"
	"github.com/melokeo/graphmem/pkg/link"
	"github.com/melokeo/graphmem/pkg/store"
	"github.com/melokeo/graphmem/pkg/store/memstore"
)

type fakeAnalyzer struct {
	entities []detect.ProviderEntity
	err      error
	lastText string
}

func (f *fakeAnalyzer) AnalyzeEntities(_ context.Context, text string) ([]detect.ProviderEntity, error) {
	f.lastText = text
	return f.entities, f.err
}

type fakePublisher struct {
	jobs  []ReinforceJob
	err   error
	calls int
}

func (f *fakePublisher) PublishReinforce(_ context.Context, job ReinforceJob) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func newTestMemory(ner detect.EntityAnalyzer, pub Publisher) (*Memory, *memstore.MemStore) {
	s := memstore.New()
	m := New(Params{
		Store:     s,
		Detector:  detect.New(detect.Params{NER: ner}),
		Publisher: pub,
	})
	return m, s
}

func TestInjectEndToEnd(t *testing.T) {
	ner := &fakeAnalyzer{entities: []detect.ProviderEntity{
		{
			Type:     "PERSON",
			Name:     "Alice",
			Salience: 0.7,
			Mentions: []detect.ProviderMention{{Text: "Alice"}},
		},
	}}
	m, s := newTestMemory(ner, nil)

	res, err := m.Inject(context.Background(), "sess-1", 1, "Alice will finish the report by friday")
	if err != nil {
		t.Fatalf("inject failed: %v", err)
	}

	if res.Created != 1 {
		t.Fatalf("unknown entity should create a provisional node, got %+v", res)
	}
	if len(res.SeedIDs) != 1 {
		t.Fatalf("expected one seed, got %v", res.SeedIDs)
	}
	if res.Detection.Intent.Label != detect.IntentPlan {
		t.Fatalf("unexpected intent: %s", res.Detection.Intent.Label)
	}
	if !strings.HasPrefix(res.Pack, "[Memory v1]\n") {
		t.Fatalf("pack must carry the version header:\n%s", res.Pack)
	}
	if !strings.Contains(res.Pack, "Alice") {
		t.Fatalf("pack should mention the seed:\n%s", res.Pack)
	}

	nodes := s.Nodes()
	if len(nodes) != 1 || nodes[0].Status != common.StatusProvisional {
		t.Fatalf("unexpected store state: %+v", nodes)
	}
}

func TestInjectSecondTurnMatchesExisting(t *testing.T) {
	ner := &fakeAnalyzer{entities: []detect.ProviderEntity{
		{
			Type:     "PERSON",
			Name:     "Alice",
			Mentions: []detect.ProviderMention{{Text: "Alice"}},
		},
	}}
	m, s := newTestMemory(ner, nil)

	first, err := m.Inject(context.Background(), "sess-1", 1, "Alice joined the project")
	if err != nil {
		t.Fatalf("first inject failed: %v", err)
	}
	second, err := m.Inject(context.Background(), "sess-1", 2, "remind Alice about it")
	if err != nil {
		t.Fatalf("second inject failed: %v", err)
	}

	if second.Created != 0 || second.Matched != 1 {
		t.Fatalf("second mention must match, not create: %+v", second)
	}
	if len(s.Nodes()) != 1 {
		t.Fatalf("no duplicate nodes allowed, got %d", len(s.Nodes()))
	}
	if first.SeedIDs[0] != second.SeedIDs[0] {
		t.Fatalf("both turns must resolve to the same node")
	}
}

func TestInjectDegradesOnDetectorFailure(t *testing.T) {
	ner := &fakeAnalyzer{err: errors.New("provider down")}
	m, s := newTestMemory(ner, nil)

	res, err := m.Inject(context.Background(), "sess-1", 3, "anything at all")
	if err != nil {
		t.Fatalf("detector failure must not fail the turn: %v", err)
	}
	if len(res.SeedIDs) != 0 || res.Created != 0 {
		t.Fatalf("degraded pass must be entity-free: %+v", res)
	}
	if res.Pack != "" {
		t.Fatalf("degraded pass must inject no memory block, got:\n%s", res.Pack)
	}
	if res.PackTokens != 0 {
		t.Fatalf("no pack means no tokens, got %d", res.PackTokens)
	}
	if len(s.Nodes()) != 0 {
		t.Fatalf("degraded pass must not write")
	}
}

func TestRetrieveTextIsReadOnly(t *testing.T) {
	m, s := newTestMemory(&fakeAnalyzer{}, nil)
	ctx := context.Background()

	if err := s.InsertNode(ctx, common.Node{ID: "n_1", Type: common.TypeProject, Title: "Atlas"}); err != nil {
		t.Fatalf("insert node: %v", err)
	}
	if err := s.InsertAlias(ctx, common.Alias{ID: "a_1", NodeID: "n_1", Alias: "atlas", Weight: 1.0}); err != nil {
		t.Fatalf("insert alias: %v", err)
	}

	pack, sg, err := m.RetrieveText(ctx, "what is the status of atlas?")
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(sg.Nodes) != 1 || sg.Nodes[0].ID != "n_1" {
		t.Fatalf("query should resolve the project: %+v", sg.Nodes)
	}
	if !strings.Contains(pack, "Atlas") {
		t.Fatalf("pack should render the node:\n%s", pack)
	}

	if len(s.Nodes()) != 1 {
		t.Fatalf("retrieval must not create nodes, got %d", len(s.Nodes()))
	}
	if len(s.Evidence()) != 0 {
		t.Fatalf("retrieval must not write evidence")
	}
}

func TestProcessAssistantMemoryStripsFences(t *testing.T) {
	ner := &fakeAnalyzer{}
	m, _ := newTestMemory(ner, nil)

	reply := "Bob owns the rollout now.\n```sql\nSELECT secret FROM plans;\n```\nPing him tomorrow."
	if _, err := m.ProcessAssistantMemory(context.Background(), "sess-1", 4, reply); err != nil {
		t.Fatalf("assistant memory failed: %v", err)
	}

	if strings.Contains(ner.lastText, "SELECT") {
		t.Fatalf("fenced content must not reach the detector: %q", ner.lastText)
	}
	if !strings.Contains(ner.lastText, "Bob owns the rollout") {
		t.Fatalf("prose must survive fence stripping: %q", ner.lastText)
	}
}

func TestProcessAssistantMemoryEmptyAfterStrip(t *testing.T) {
	m, s := newTestMemory(&fakeAnalyzer{}, nil)

	res, err := m.ProcessAssistantMemory(context.Background(), "sess-1", 5, "```\nonly code\n```")
	if err != nil {
		t.Fatalf("assistant memory failed: %v", err)
	}
	if len(res.Seeds) != 0 {
		t.Fatalf("all-fence reply yields no seeds: %+v", res)
	}
	if len(s.Nodes()) != 0 {
		t.Fatalf("all-fence reply must not write")
	}
}

func TestLogTurnPersistsAndPublishes(t *testing.T) {
	pub := &fakePublisher{}
	m, s := newTestMemory(&fakeAnalyzer{}, pub)

	detection := detect.Result{
		DetectorVersion: detect.Version,
		Intent:          detect.Intent{Label: detect.IntentPlan, Score: 0.7},
		Entities:        []detect.Entity{},
		Slots:           map[string]string{"deadline": "friday"},
	}
	assistantID := int64(8)
	turnID, err := m.LogTurn(context.Background(), "sess-1", 7, &assistantID, detection, []string{"n_1", "n_2"})
	if err != nil {
		t.Fatalf("log turn failed: %v", err)
	}
	if turnID == "" {
		t.Fatalf("log turn must return the turn id")
	}

	turns := s.Turns()
	if len(turns) != 1 {
		t.Fatalf("expected one turn record, got %d", len(turns))
	}
	turn := turns[0]
	if turn.ID != turnID {
		t.Fatalf("returned id %q must match the persisted record %q", turnID, turn.ID)
	}
	if turn.SessionID != "sess-1" || turn.UserMsgID != 7 {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if turn.AssistantMsgID == nil || *turn.AssistantMsgID != 8 {
		t.Fatalf("assistant msg id must persist: %+v", turn.AssistantMsgID)
	}
	if turn.IntentLabel != detect.IntentPlan || turn.DetectorVersion != detect.Version {
		t.Fatalf("detection fields must persist: %+v", turn)
	}
	if !strings.Contains(turn.SlotsJSON, "friday") {
		t.Fatalf("slots must serialize: %q", turn.SlotsJSON)
	}

	if len(pub.jobs) != 1 {
		t.Fatalf("expected one reinforce job, got %d", len(pub.jobs))
	}
	if len(pub.jobs[0].SeedIDs) != 2 || pub.jobs[0].MsgID != 7 {
		t.Fatalf("unexpected job: %+v", pub.jobs[0])
	}
}

func TestLogTurnSurvivesPublisherFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	m, s := newTestMemory(&fakeAnalyzer{}, pub)

	detection := detect.Result{DetectorVersion: detect.Version, Intent: detect.Intent{Label: detect.IntentOther}}
	turnID, err := m.LogTurn(context.Background(), "sess-1", 9, nil, detection, []string{"n_1"})
	if err != nil {
		t.Fatalf("publish failure must not fail turn logging: %v", err)
	}
	if turnID == "" {
		t.Fatalf("turn id must come back despite the broker outage")
	}
	if len(s.Turns()) != 1 {
		t.Fatalf("turn record must persist despite broker outage")
	}
	if pub.calls != 2 {
		t.Fatalf("publish should be attempted twice before giving up, got %d", pub.calls)
	}
}

func TestLogTurnHonorsReinforceToggle(t *testing.T) {
	pub := &fakePublisher{}
	m, s := newTestMemory(&fakeAnalyzer{}, pub)
	ctx := context.Background()

	if err := s.SetConfig(ctx, store.ConfigNS, "reinforce.enabled", "false"); err != nil {
		t.Fatalf("set config: %v", err)
	}

	detection := detect.Result{DetectorVersion: detect.Version, Intent: detect.Intent{Label: detect.IntentOther}}
	turnID, err := m.LogTurn(ctx, "sess-1", 11, nil, detection, []string{"n_1"})
	if err != nil {
		t.Fatalf("log turn failed: %v", err)
	}
	if turnID == "" {
		t.Fatalf("turn id must still come back")
	}
	if pub.calls != 0 {
		t.Fatalf("disabled reinforcement must not publish, got %d calls", pub.calls)
	}
	if len(s.Turns()) != 1 {
		t.Fatalf("turn record must still persist")
	}
}

func TestLinkSourceForAssistantPath(t *testing.T) {
	ner := &fakeAnalyzer{entities: []detect.ProviderEntity{
		{
			Type:     "PERSON",
			Name:     "Bob",
			Mentions: []detect.ProviderMention{{Text: "Bob"}},
		},
	}}
	m, s := newTestMemory(ner, nil)

	res, err := m.ProcessAssistantMemory(context.Background(), "sess-1", 10, "Bob owns the rollout")
	if err != nil {
		t.Fatalf("assistant memory failed: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("assistant facts should create nodes: %+v", res)
	}

	aliases := s.Aliases()
	if len(aliases) != 1 {
		t.Fatalf("expected one alias, got %d", len(aliases))
	}
	if aliases[0].Source != link.SourceAssistant {
		t.Fatalf("assistant-path aliases must carry the assistant source, got %q", aliases[0].Source)
	}
}
