package pgx

import (
	"context"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/melokeo/graphmem/internal/util"
	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/logger"
	"github.com/melokeo/graphmem/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements the GraphStore interface on PostgreSQL. All SQL
// for the memory graph is centralized here; callers receive plain structs.
type GraphDBStorage struct {
	conn pgxIConn
}

// NewGraphDBStorage creates a GraphDBStorage on an existing connection or pool.
func NewGraphDBStorage(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

// NewID returns a prefixed nanoid.
func (s *GraphDBStorage) NewID(prefix string) string {
	return prefix + gonanoid.Must()
}

func (s *GraphDBStorage) GetConfig(ctx context.Context, ns, key string) (string, bool, error) {
	var value string
	err := s.conn.QueryRow(ctx,
		`SELECT value_json FROM graph_config_kv WHERE ns = $1 AND key = $2`,
		ns, key,
	).Scan(&value)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config %s.%s: %w", ns, key, err)
	}
	return value, true, nil
}

func (s *GraphDBStorage) SetConfig(ctx context.Context, ns, key, valueJSON string) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO graph_config_kv (ns, key, value_json, updated_ts)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (ns, key) DO UPDATE SET value_json = EXCLUDED.value_json, updated_ts = now()`,
		ns, key, valueJSON,
	)
	if err != nil {
		return fmt.Errorf("set config %s.%s: %w", ns, key, err)
	}
	return nil
}

func insertNode(ctx context.Context, conn pgxIConn, node common.Node) error {
	_, err := conn.Exec(ctx,
		`INSERT INTO graph_nodes (id, type, title, confidence, status, created_ts, updated_ts)
		 VALUES ($1, $2, $3, $4, $5, now(), now())`,
		node.ID, node.Type, util.SanitizeText(node.Title), node.Confidence, node.Status,
	)
	if err != nil {
		return fmt.Errorf("insert node %s: %w", node.ID, err)
	}
	return nil
}

func insertAlias(ctx context.Context, conn pgxIConn, alias common.Alias) error {
	_, err := conn.Exec(ctx,
		`INSERT INTO graph_node_aliases (id, node_id, alias, source, weight, created_ts)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		alias.ID, alias.NodeID, util.SanitizeText(alias.Alias), alias.Source, alias.Weight,
	)
	if err != nil {
		return fmt.Errorf("insert alias %s: %w", alias.ID, err)
	}
	return nil
}

func insertEvidence(ctx context.Context, conn pgxIConn, ev common.Evidence) error {
	var span any
	if ev.SpanJSON != "" {
		span = ev.SpanJSON
	}
	_, err := conn.Exec(ctx,
		`INSERT INTO graph_evidence (id, subject_kind, subject_id, msg_id, span_json, created_ts)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		ev.ID, ev.SubjectKind, ev.SubjectID, ev.MsgID, span,
	)
	if err != nil {
		return fmt.Errorf("insert evidence %s: %w", ev.ID, err)
	}
	return nil
}

func (s *GraphDBStorage) InsertNode(ctx context.Context, node common.Node) error {
	return insertNode(ctx, s.conn, node)
}

func (s *GraphDBStorage) InsertAlias(ctx context.Context, alias common.Alias) error {
	return insertAlias(ctx, s.conn, alias)
}

func (s *GraphDBStorage) InsertEvidence(ctx context.Context, ev common.Evidence) error {
	return insertEvidence(ctx, s.conn, ev)
}

// InsertEdge upserts on (src_id, dst_id, type); a conflict refreshes weight,
// attributes and updated_ts on the existing row.
func (s *GraphDBStorage) InsertEdge(ctx context.Context, edge common.Edge) error {
	var attrs any
	if edge.AttrsJSON != "" {
		attrs = edge.AttrsJSON
	}
	_, err := s.conn.Exec(ctx,
		`INSERT INTO graph_edges (id, src_id, dst_id, type, weight, attrs_json, created_ts, updated_ts)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 ON CONFLICT (src_id, dst_id, type)
		 DO UPDATE SET weight = EXCLUDED.weight, attrs_json = EXCLUDED.attrs_json, updated_ts = now()`,
		edge.ID, edge.SrcID, edge.DstID, edge.Type, edge.Weight, attrs,
	)
	if err != nil {
		return fmt.Errorf("insert edge %s>%s>%s: %w", edge.SrcID, edge.Type, edge.DstID, err)
	}
	return nil
}

func (s *GraphDBStorage) InsertTurn(ctx context.Context, turn common.Turn) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO graph_turns
		 (id, session_id, user_msg_id, assistant_msg_id, ts, intent, scores_json, detections_json, slots_json, detector_version)
		 VALUES ($1, $2, $3, $4, now(), $5, $6, $7, $8, $9)`,
		turn.ID, turn.SessionID, turn.UserMsgID, turn.AssistantMsgID,
		turn.IntentLabel, nullable(turn.IntentScoreJSON), nullable(turn.DetectionsJSON),
		nullable(turn.SlotsJSON), turn.DetectorVersion,
	)
	if err != nil {
		return fmt.Errorf("insert turn %s: %w", turn.ID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// FindAliasExact returns the highest-weighted exact match for the alias text.
func (s *GraphDBStorage) FindAliasExact(ctx context.Context, alias string) (*common.AliasHit, error) {
	var hit common.AliasHit
	err := s.conn.QueryRow(ctx,
		`SELECT node_id, alias, weight FROM graph_node_aliases
		 WHERE alias = $1 ORDER BY weight DESC LIMIT 1`,
		alias,
	).Scan(&hit.NodeID, &hit.Alias, &hit.Weight)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find alias exact: %w", err)
	}
	return &hit, nil
}

// FindAliases searches aliases with full text first, then falls back to a
// substring match when full text errors out or returns nothing.
func (s *GraphDBStorage) FindAliases(ctx context.Context, query string, limit int) ([]common.AliasHit, error) {
	if limit <= 0 {
		limit = 20
	}

	hits, err := s.scanAliasHits(ctx,
		`SELECT node_id, alias, weight FROM graph_node_aliases
		 WHERE to_tsvector('simple', alias) @@ websearch_to_tsquery('simple', $1)
		 ORDER BY weight DESC LIMIT $2`,
		query, limit,
	)
	if err != nil {
		// Full text can choke on operator-only input; fall through quietly.
		logger.Debug("[Store] Full-text alias search failed, using substring fallback", "err", err)
	}
	if len(hits) > 0 {
		return hits, nil
	}

	return s.scanAliasHits(ctx,
		`SELECT node_id, alias, weight FROM graph_node_aliases
		 WHERE alias ILIKE '%' || $1 || '%'
		 ORDER BY weight DESC LIMIT $2`,
		query, limit,
	)
}

func (s *GraphDBStorage) scanAliasHits(ctx context.Context, sql string, args ...any) ([]common.AliasHit, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]common.AliasHit, 0)
	for rows.Next() {
		var hit common.AliasHit
		if err := rows.Scan(&hit.NodeID, &hit.Alias, &hit.Weight); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *GraphDBStorage) GetNodes(ctx context.Context, ids []string) ([]common.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx,
		`SELECT id, type, title, confidence, status, created_ts, updated_ts
		 FROM graph_nodes WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("get nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]common.Node, 0, len(ids))
	for rows.Next() {
		var n common.Node
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Confidence, &n.Status, &n.CreatedTS, &n.UpdatedTS); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *GraphDBStorage) GetEdgesTouching(ctx context.Context, ids []string) ([]common.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx,
		`SELECT id, src_id, dst_id, type, weight, COALESCE(attrs_json::text, ''), created_ts, updated_ts
		 FROM graph_edges WHERE src_id = ANY($1) OR dst_id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("get edges touching: %w", err)
	}
	defer rows.Close()

	edges := make([]common.Edge, 0)
	for rows.Next() {
		var e common.Edge
		if err := rows.Scan(&e.ID, &e.SrcID, &e.DstID, &e.Type, &e.Weight, &e.AttrsJSON, &e.CreatedTS, &e.UpdatedTS); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// PromoteNode updates confidence and flips status to promoted once the new
// confidence reaches threshold. Demotion never happens here.
func (s *GraphDBStorage) PromoteNode(ctx context.Context, nodeID string, confidence, threshold float64) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE graph_nodes
		 SET confidence = $2,
		     status = CASE WHEN $2 >= $3 THEN 'promoted' ELSE status END,
		     updated_ts = now()
		 WHERE id = $1`,
		nodeID, confidence, threshold,
	)
	if err != nil {
		return fmt.Errorf("promote node %s: %w", nodeID, err)
	}
	return nil
}

// Begin opens a write transaction for the provisional-node triple.
func (s *GraphDBStorage) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &graphTx{tx: tx}, nil
}

type graphTx struct {
	tx pgxv5.Tx
}

func (t *graphTx) InsertNode(ctx context.Context, node common.Node) error {
	return insertNode(ctx, t.tx, node)
}

func (t *graphTx) InsertAlias(ctx context.Context, alias common.Alias) error {
	return insertAlias(ctx, t.tx, alias)
}

func (t *graphTx) InsertEvidence(ctx context.Context, ev common.Evidence) error {
	return insertEvidence(ctx, t.tx, ev)
}

func (t *graphTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *graphTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgxv5.ErrTxClosed) {
		return nil
	}
	return err
}
