package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/graphmem"
	"github.com/melokeo/graphmem/pkg/store"
	"github.com/melokeo/graphmem/pkg/store/memstore"
)

func reinforceMsg(t *testing.T, seedIDs []string) string {
	t.Helper()
	b, err := json.Marshal(graphmem.ReinforceJob{SessionID: "sess-1", MsgID: 1, SeedIDs: seedIDs})
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	return string(b)
}

func TestProcessReinforceMessage(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	err := s.InsertNode(ctx, common.Node{
		ID:         "n_1",
		Type:       common.TypePerson,
		Title:      "Alice",
		Confidence: 0.3,
		Status:     common.StatusProvisional,
	})
	if err != nil {
		t.Fatalf("insert node: %v", err)
	}

	if err := ProcessReinforceMessage(ctx, s, reinforceMsg(t, []string{"n_1"})); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	n := s.Nodes()[0]
	if n.Confidence != 0.35 {
		t.Fatalf("confidence must bump by 0.05, got %v", n.Confidence)
	}
	if n.Status != common.StatusProvisional {
		t.Fatalf("below threshold must stay provisional, got %q", n.Status)
	}
}

func TestProcessReinforceMessagePromotes(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	err := s.InsertNode(ctx, common.Node{
		ID:         "n_1",
		Type:       common.TypePerson,
		Title:      "Alice",
		Confidence: 0.78,
		Status:     common.StatusProvisional,
	})
	if err != nil {
		t.Fatalf("insert node: %v", err)
	}

	if err := ProcessReinforceMessage(ctx, s, reinforceMsg(t, []string{"n_1"})); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if got := s.Nodes()[0].Status; got != common.StatusPromoted {
		t.Fatalf("crossing the default threshold must promote, got %q", got)
	}
}

func TestProcessReinforceMessageCapsConfidence(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	err := s.InsertNode(ctx, common.Node{
		ID:         "n_1",
		Type:       common.TypePerson,
		Title:      "Alice",
		Confidence: 0.99,
		Status:     common.StatusPromoted,
	})
	if err != nil {
		t.Fatalf("insert node: %v", err)
	}

	if err := ProcessReinforceMessage(ctx, s, reinforceMsg(t, []string{"n_1"})); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if got := s.Nodes()[0].Confidence; got != 1.0 {
		t.Fatalf("confidence must cap at 1.0, got %v", got)
	}
}

func TestProcessReinforceMessageMissingSeeds(t *testing.T) {
	s := memstore.New()

	if err := ProcessReinforceMessage(context.Background(), s, reinforceMsg(t, []string{"n_gone"})); err != nil {
		t.Fatalf("unknown seeds are skipped, not errors: %v", err)
	}
	if err := ProcessReinforceMessage(context.Background(), s, reinforceMsg(t, nil)); err != nil {
		t.Fatalf("empty job is a no-op: %v", err)
	}
}

func TestProcessReinforceMessageBadPayload(t *testing.T) {
	var s store.GraphStore = memstore.New()
	if err := ProcessReinforceMessage(context.Background(), s, "{not json"); err == nil {
		t.Fatalf("malformed payload must error")
	}
}
