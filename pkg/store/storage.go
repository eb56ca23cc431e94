package store

import (
	"context"

	"github.com/melokeo/graphmem/pkg/common"
)

// Tx is a transaction over the graph store's write path. The linker uses it
// to commit the (node, alias, evidence) triple for a provisional entity as a
// single unit. Rollback after Commit is a no-op.
type Tx interface {
	InsertNode(ctx context.Context, node common.Node) error
	InsertAlias(ctx context.Context, alias common.Alias) error
	InsertEvidence(ctx context.Context, ev common.Evidence) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// GraphStore defines the interface for persisting and querying the memory
// graph. It covers node/alias/edge/evidence writes (append or upsert, never
// hard-delete), alias lookup for linking, neighborhood reads for retrieval,
// turn records for analytics, and namespaced key/value configuration.
type GraphStore interface {
	// NewID returns a fresh prefixed identifier (e.g. "n_V1StGXR8_Z5jdHi6B").
	NewID(prefix string) string

	// GetConfig returns the raw JSON value for a namespaced config key.
	// Missing keys return ok=false with a nil error.
	GetConfig(ctx context.Context, ns, key string) (string, bool, error)
	SetConfig(ctx context.Context, ns, key, valueJSON string) error

	InsertNode(ctx context.Context, node common.Node) error
	InsertAlias(ctx context.Context, alias common.Alias) error
	// InsertEdge upserts on (src_id, dst_id, type): re-insertion updates
	// weight and attributes instead of creating a duplicate edge.
	InsertEdge(ctx context.Context, edge common.Edge) error
	InsertEvidence(ctx context.Context, ev common.Evidence) error
	InsertTurn(ctx context.Context, turn common.Turn) error

	// FindAliasExact returns the highest-weighted exact alias match, or nil.
	FindAliasExact(ctx context.Context, alias string) (*common.AliasHit, error)
	// FindAliases performs a fuzzy alias search, full-text preferred with a
	// substring fallback, ordered by weight descending.
	FindAliases(ctx context.Context, query string, limit int) ([]common.AliasHit, error)

	GetNodes(ctx context.Context, ids []string) ([]common.Node, error)
	// GetEdgesTouching returns every edge with src or dst in ids.
	GetEdgesTouching(ctx context.Context, ids []string) ([]common.Edge, error)

	// PromoteNode updates a node's confidence and flips its status to
	// promoted once confidence reaches threshold.
	PromoteNode(ctx context.Context, nodeID string, confidence, threshold float64) error

	Begin(ctx context.Context) (Tx, error)
}
