// Package memstore provides an in-memory GraphStore used by tests and
// ephemeral deployments. It mirrors the PostgreSQL implementation's
// semantics: upsert edges, weight-ordered alias search with substring
// matching, and staged transactions for the provisional-node triple.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/store"
)

// MemStore is a mutex-guarded in-memory GraphStore.
type MemStore struct {
	mu       sync.Mutex
	seq      int64
	nodes    map[string]common.Node
	aliases  []common.Alias
	edges    map[string]common.Edge
	evidence []common.Evidence
	turns    []common.Turn
	config   map[string]string
	reads    int64
}

// New creates an empty MemStore.
func New() *MemStore {
	return &MemStore{
		nodes:  make(map[string]common.Node),
		edges:  make(map[string]common.Edge),
		config: make(map[string]string),
	}
}

// ReadCount reports how many read queries the store has served. Tests use it
// to assert that code paths avoid store access entirely.
func (m *MemStore) ReadCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Nodes returns a snapshot of all stored nodes.
func (m *MemStore) Nodes() []common.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]common.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Aliases returns a snapshot of all alias rows.
func (m *MemStore) Aliases() []common.Alias {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]common.Alias(nil), m.aliases...)
}

// Evidence returns a snapshot of all evidence records.
func (m *MemStore) Evidence() []common.Evidence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]common.Evidence(nil), m.evidence...)
}

// Turns returns a snapshot of all turn records.
func (m *MemStore) Turns() []common.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]common.Turn(nil), m.turns...)
}

func (m *MemStore) NewID(prefix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("%s%08d", prefix, m.seq)
}

func configKey(ns, key string) string { return ns + "\x00" + key }

func (m *MemStore) GetConfig(_ context.Context, ns, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.config[configKey(ns, key)]
	return v, ok, nil
}

func (m *MemStore) SetConfig(_ context.Context, ns, key, valueJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[configKey(ns, key)] = valueJSON
	return nil
}

func (m *MemStore) InsertNode(_ context.Context, node common.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertNodeLocked(node)
	return nil
}

func (m *MemStore) insertNodeLocked(node common.Node) {
	now := time.Now()
	if node.CreatedTS.IsZero() {
		node.CreatedTS = now
	}
	if node.UpdatedTS.IsZero() {
		node.UpdatedTS = now
	}
	m.nodes[node.ID] = node
}

func (m *MemStore) InsertAlias(_ context.Context, alias common.Alias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertAliasLocked(alias)
	return nil
}

func (m *MemStore) insertAliasLocked(alias common.Alias) {
	if alias.CreatedTS.IsZero() {
		alias.CreatedTS = time.Now()
	}
	m.aliases = append(m.aliases, alias)
}

func edgeKey(e common.Edge) string {
	return e.SrcID + ">" + e.Type + ">" + e.DstID
}

// InsertEdge upserts on (src, dst, type), refreshing weight and attributes.
func (m *MemStore) InsertEdge(_ context.Context, edge common.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := edgeKey(edge)
	now := time.Now()
	if existing, ok := m.edges[key]; ok {
		existing.Weight = edge.Weight
		existing.AttrsJSON = edge.AttrsJSON
		existing.UpdatedTS = now
		m.edges[key] = existing
		return nil
	}
	if edge.CreatedTS.IsZero() {
		edge.CreatedTS = now
	}
	edge.UpdatedTS = now
	m.edges[key] = edge
	return nil
}

func (m *MemStore) InsertEvidence(_ context.Context, ev common.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertEvidenceLocked(ev)
	return nil
}

func (m *MemStore) insertEvidenceLocked(ev common.Evidence) {
	if ev.CreatedTS.IsZero() {
		ev.CreatedTS = time.Now()
	}
	m.evidence = append(m.evidence, ev)
}

func (m *MemStore) InsertTurn(_ context.Context, turn common.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn.TS.IsZero() {
		turn.TS = time.Now()
	}
	m.turns = append(m.turns, turn)
	return nil
}

func (m *MemStore) FindAliasExact(_ context.Context, alias string) (*common.AliasHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	var best *common.AliasHit
	for _, a := range m.aliases {
		if a.Alias != alias {
			continue
		}
		if best == nil || a.Weight > best.Weight {
			best = &common.AliasHit{NodeID: a.NodeID, Alias: a.Alias, Weight: a.Weight}
		}
	}
	return best, nil
}

// FindAliases matches on case-insensitive substring, weight descending.
func (m *MemStore) FindAliases(_ context.Context, query string, limit int) ([]common.AliasHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	if limit <= 0 {
		limit = 20
	}
	q := strings.ToLower(query)
	hits := make([]common.AliasHit, 0)
	for _, a := range m.aliases {
		if strings.Contains(strings.ToLower(a.Alias), q) {
			hits = append(hits, common.AliasHit{NodeID: a.NodeID, Alias: a.Alias, Weight: a.Weight})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Weight > hits[j].Weight })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemStore) GetNodes(_ context.Context, ids []string) ([]common.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	nodes := make([]common.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := m.nodes[id]; ok {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func (m *MemStore) GetEdgesTouching(_ context.Context, ids []string) ([]common.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	keys := make([]string, 0, len(m.edges))
	for k := range m.edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	edges := make([]common.Edge, 0)
	for _, k := range keys {
		e := m.edges[k]
		if _, ok := idSet[e.SrcID]; ok {
			edges = append(edges, e)
			continue
		}
		if _, ok := idSet[e.DstID]; ok {
			edges = append(edges, e)
		}
	}
	return edges, nil
}

func (m *MemStore) PromoteNode(_ context.Context, nodeID string, confidence, threshold float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[nodeID]
	if !ok {
		return fmt.Errorf("promote node %s: not found", nodeID)
	}
	n.Confidence = confidence
	if confidence >= threshold {
		n.Status = common.StatusPromoted
	}
	n.UpdatedTS = time.Now()
	m.nodes[nodeID] = n
	return nil
}

// Begin returns a transaction that stages writes and applies them on Commit.
func (m *MemStore) Begin(_ context.Context) (store.Tx, error) {
	return &memTx{store: m}, nil
}

type memTx struct {
	store    *MemStore
	nodes    []common.Node
	aliases  []common.Alias
	evidence []common.Evidence
	done     bool
}

func (t *memTx) InsertNode(_ context.Context, node common.Node) error {
	t.nodes = append(t.nodes, node)
	return nil
}

func (t *memTx) InsertAlias(_ context.Context, alias common.Alias) error {
	t.aliases = append(t.aliases, alias)
	return nil
}

func (t *memTx) InsertEvidence(_ context.Context, ev common.Evidence) error {
	t.evidence = append(t.evidence, ev)
	return nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, n := range t.nodes {
		t.store.insertNodeLocked(n)
	}
	for _, a := range t.aliases {
		t.store.insertAliasLocked(a)
	}
	for _, ev := range t.evidence {
		t.store.insertEvidenceLocked(ev)
	}
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.done = true
	t.nodes, t.aliases, t.evidence = nil, nil, nil
	return nil
}
