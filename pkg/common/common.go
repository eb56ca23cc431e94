package common

import "time"

// Node statuses. Provisional nodes are auto-created from low-confidence
// detections; promoted nodes have crossed the configured confidence threshold.
const (
	StatusProvisional = "provisional"
	StatusPromoted    = "promoted"
)

// Evidence subject kinds.
const (
	SubjectNode = "node"
	SubjectEdge = "edge"
)

// Node types recognized by the graph. Unmapped detector types collapse
// into TypeOther.
const (
	TypePerson     = "Person"
	TypeProject    = "Project"
	TypeTask       = "Task"
	TypePreference = "Preference"
	TypeArtifact   = "Artifact"
	TypeTime       = "Time"
	TypeQuantity   = "Quantity"
	TypeLocation   = "Location"
	TypeOrg        = "Organization"
	TypeEvent      = "Event"
	TypeWork       = "Work"
	TypeItem       = "Item"
	TypeOther      = "Other"
	TypeEntity     = "Entity"
)

// Node is a persisted graph entity: a person, task, project, or any other
// concept mentioned in conversation. Nodes carry a confidence lifecycle
// (provisional until promoted) and are never deleted by the retrieval core.
type Node struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"`
	CreatedTS  time.Time `json:"created_ts"`
	UpdatedTS  time.Time `json:"updated_ts"`
}

// Alias is a text string known to resolve to a node. A node may have many
// aliases; alias text is the lookup key during linking.
type Alias struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	Alias     string    `json:"alias"`
	Source    string    `json:"source"`
	Weight    float64   `json:"weight"`
	CreatedTS time.Time `json:"created_ts"`
}

// AliasHit is a lookup result pairing an alias row with its node.
type AliasHit struct {
	NodeID string  `json:"node_id"`
	Alias  string  `json:"alias"`
	Weight float64 `json:"weight"`
}

// Edge is a directional, typed relation between two nodes. Edges are
// logically unique on (src, dst, type); re-insertion updates weight and
// attributes instead of duplicating.
type Edge struct {
	ID        string    `json:"id"`
	SrcID     string    `json:"src_id"`
	DstID     string    `json:"dst_id"`
	Type      string    `json:"type"`
	Weight    float64   `json:"weight"`
	AttrsJSON string    `json:"attrs_json,omitempty"`
	CreatedTS time.Time `json:"created_ts"`
	UpdatedTS time.Time `json:"updated_ts"`
}

// Evidence is an append-only record linking a graph element back to the
// message that produced or mentioned it, with an optional character span.
type Evidence struct {
	ID          string    `json:"id"`
	SubjectKind string    `json:"subject_kind"`
	SubjectID   string    `json:"subject_id"`
	MsgID       int64     `json:"msg_id"`
	SpanJSON    string    `json:"span_json,omitempty"`
	CreatedTS   time.Time `json:"created_ts"`
}

// ScoredNode is a node annotated with its retrieval score and the BFS depth
// at which it was first discovered. Depth -1 marks nodes merged in by the
// bridge pass outside the primary hop radius.
type ScoredNode struct {
	Node
	Score float64 `json:"score"`
	Depth int     `json:"depth"`
}

// Subgraph is the transient retrieval result: a capped, scored set of nodes
// plus the edges touching them.
type Subgraph struct {
	Nodes []ScoredNode `json:"nodes"`
	Edges []Edge       `json:"edges"`
}

// Turn is the persisted per-turn analytics record: the detector's intent,
// entities and slots serialized as JSON, tied to the message ids of the turn.
type Turn struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	UserMsgID       int64     `json:"user_msg_id"`
	AssistantMsgID  *int64    `json:"assistant_msg_id,omitempty"`
	TS              time.Time `json:"ts"`
	IntentLabel     string    `json:"intent_label"`
	IntentScoreJSON string    `json:"intent_score_json,omitempty"`
	DetectionsJSON  string    `json:"detections_json,omitempty"`
	SlotsJSON       string    `json:"slots_json,omitempty"`
	DetectorVersion string    `json:"detector_version"`
}
