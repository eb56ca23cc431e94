package retrieve

import (
	"context"
	"reflect"
	"testing"

	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/store/memstore"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "lowercases and splits on punctuation",
			input: "Alice, meet Bob!",
			want:  []string{"alice", "meet", "bob"},
		},
		{
			name:  "drops stop words and single letters",
			input: "what about the launch and a demo",
			want:  []string{"launch", "demo"},
		},
		{
			name:  "cjk ideographs emit per character",
			input: "项目进度",
			want:  []string{"项", "目", "进", "度"},
		},
		{
			name:  "mixed scripts keep both token kinds",
			input: "check 项目 status",
			want:  []string{"check", "项", "目", "status"},
		},
		{
			name:  "duplicates collapse in order",
			input: "demo demo DEMO",
			want:  []string{"demo"},
		},
		{
			name:  "empty input",
			input: "   ",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("unexpected tokens: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeedsFromText(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	if err := s.InsertNode(ctx, common.Node{ID: "n_alice", Type: common.TypePerson, Title: "Alice"}); err != nil {
		t.Fatalf("insert node: %v", err)
	}
	if err := s.InsertAlias(ctx, common.Alias{ID: "a_1", NodeID: "n_alice", Alias: "alice", Weight: 1.0}); err != nil {
		t.Fatalf("insert alias: %v", err)
	}
	if err := s.InsertNode(ctx, common.Node{ID: "n_proj", Type: common.TypeProject, Title: "Atlas Migration"}); err != nil {
		t.Fatalf("insert node: %v", err)
	}
	if err := s.InsertAlias(ctx, common.Alias{ID: "a_2", NodeID: "n_proj", Alias: "atlas migration", Weight: 1.0}); err != nil {
		t.Fatalf("insert alias: %v", err)
	}

	r := New(s)

	t.Run("exact token match", func(t *testing.T) {
		seeds, err := r.SeedsFromText(ctx, "ping alice now")
		if err != nil {
			t.Fatalf("seeds failed: %v", err)
		}
		if len(seeds) != 1 || seeds[0].ID != "n_alice" {
			t.Fatalf("unexpected seeds: %+v", seeds)
		}
	})

	t.Run("fuzzy token fallback", func(t *testing.T) {
		seeds, err := r.SeedsFromText(ctx, "status of migration")
		if err != nil {
			t.Fatalf("seeds failed: %v", err)
		}
		if len(seeds) != 1 || seeds[0].ID != "n_proj" {
			t.Fatalf("fuzzy lookup should find the project: %+v", seeds)
		}
	})

	t.Run("dedup across tokens", func(t *testing.T) {
		seeds, err := r.SeedsFromText(ctx, "alice alice migration")
		if err != nil {
			t.Fatalf("seeds failed: %v", err)
		}
		if len(seeds) != 2 {
			t.Fatalf("expected two unique seeds, got %+v", seeds)
		}
		if seeds[0].ID != "n_alice" || seeds[1].ID != "n_proj" {
			t.Fatalf("seed order must follow token order: %+v", seeds)
		}
	})

	t.Run("no matches", func(t *testing.T) {
		seeds, err := r.SeedsFromText(ctx, "completely unknown words")
		if err != nil {
			t.Fatalf("seeds failed: %v", err)
		}
		if len(seeds) != 0 {
			t.Fatalf("expected no seeds, got %+v", seeds)
		}
	})
}
