// Package graphmem is the orchestration facade over the memory pipeline:
// detect, link, retrieve, render. Callers hand it raw conversation text and
// get back a rendered memory block; everything else (graph writes, turn
// records, reinforcement jobs) happens behind this API.
package graphmem

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/melokeo/graphmem/internal/util"
	"github.com/melokeo/graphmem/pkg/common"
	"github.com/melokeo/graphmem/pkg/detect"
	"github.com/melokeo/graphmem/pkg/link"
	"github.com/melokeo/graphmem/pkg/logger"
	"github.com/melokeo/graphmem/pkg/render"
	"github.com/melokeo/graphmem/pkg/retrieve"
	"github.com/melokeo/graphmem/pkg/store"
	"github.com/melokeo/graphmem/pkg/writer"
)

const (
	defaultWindowDays = 30
	packEncoding      = "cl100k_base"
	publishAttempts   = 2
)

// ReinforceJob is the payload queued after each logged turn. The worker
// nudges the confidence of the turn's seed nodes.
type ReinforceJob struct {
	SessionID string   `json:"session_id"`
	MsgID     int64    `json:"msg_id"`
	SeedIDs   []string `json:"seed_ids"`
}

// Publisher enqueues reinforcement jobs. Nil publishers are allowed; the
// pipeline then skips reinforcement entirely.
type Publisher interface {
	PublishReinforce(ctx context.Context, job ReinforceJob) error
}

// Memory wires the pipeline stages over a shared store.
type Memory struct {
	store     store.GraphStore
	detector  *detect.Detector
	linker    *link.Linker
	retrieval *retrieve.Retrieval
	writer    *writer.Writer
	publisher Publisher

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// Params configures a Memory. Store and Detector are required; Publisher
// may be nil.
type Params struct {
	Store     store.GraphStore
	Detector  *detect.Detector
	Publisher Publisher
}

// New creates the facade and its pipeline stages.
func New(params Params) *Memory {
	return &Memory{
		store:     params.Store,
		detector:  params.Detector,
		linker:    link.New(params.Store),
		retrieval: retrieve.New(params.Store),
		writer:    writer.New(params.Store),
		publisher: params.Publisher,
	}
}

// Writer exposes the structural write path for callers that commit edges or
// promote nodes outside the turn pipeline.
func (m *Memory) Writer() *writer.Writer { return m.writer }

// InjectResult is the outcome of one user-turn pass through the pipeline.
type InjectResult struct {
	Pack       string        `json:"pack"`
	PackTokens int           `json:"pack_tokens"`
	Detection  detect.Result `json:"detection"`
	SeedIDs    []string      `json:"seed_ids"`
	Created    int           `json:"created"`
	Matched    int           `json:"matched"`
	Nodes      int           `json:"nodes"`
	Edges      int           `json:"edges"`
}

// Inject runs the full pipeline for a user utterance: detect intent and
// entities, link them to graph nodes (creating provisional nodes for
// unknowns), retrieve the surrounding subgraph, and render the memory pack.
// A detector failure degrades to an empty pack instead of failing the turn;
// store failures during linking and retrieval are returned.
func (m *Memory) Inject(ctx context.Context, sessionID string, msgID int64, utterance string) (InjectResult, error) {
	detection, err := m.detector.Detect(ctx, utterance)
	if err != nil {
		logger.Warn("[Memory] Detection failed, degrading to no memory", "session", sessionID, "err", err)
		return InjectResult{
			Detection: detect.Result{
				DetectorVersion: detect.Version,
				Intent:          detect.Intent{Label: detect.IntentOther},
				Entities:        []detect.Entity{},
				Slots:           map[string]string{},
			},
			SeedIDs: []string{},
		}, nil
	}

	linked, err := m.linker.Link(ctx, sessionID, msgID, detection.Entities, link.SourceSpan)
	if err != nil {
		return InjectResult{}, err
	}

	sg, err := m.retrieval.Subgraph(ctx, linked.Seeds)
	if err != nil {
		return InjectResult{}, err
	}

	pack := m.renderPack(ctx, sg, linked.Seeds)
	return InjectResult{
		Pack:       pack,
		PackTokens: m.countTokens(pack),
		Detection:  detection,
		SeedIDs:    linked.Seeds,
		Created:    linked.Created,
		Matched:    linked.Matched,
		Nodes:      len(sg.Nodes),
		Edges:      len(sg.Edges),
	}, nil
}

// RetrieveText answers a free-text query read-only: tokens resolve to seed
// nodes through the alias table, then retrieval and rendering run as usual.
// No nodes, aliases, or evidence are ever written.
func (m *Memory) RetrieveText(ctx context.Context, query string) (string, common.Subgraph, error) {
	seeds, err := m.retrieval.SeedsFromText(ctx, query)
	if err != nil {
		return "", common.Subgraph{}, err
	}
	ids := make([]string, 0, len(seeds))
	for _, n := range seeds {
		ids = append(ids, n.ID)
	}
	sg, err := m.retrieval.Subgraph(ctx, ids)
	if err != nil {
		return "", common.Subgraph{}, err
	}
	return m.renderPack(ctx, sg, ids), sg, nil
}

// toolFenceRe matches fenced blocks in assistant output; tool call payloads
// and code snippets are not conversational memory.
var toolFenceRe = regexp.MustCompile("(?s)```.*?```")

// ProcessAssistantMemory extracts and links entities from an assistant
// reply so facts the assistant stated become part of the graph. Fenced
// blocks are stripped first. No retrieval happens on this path.
func (m *Memory) ProcessAssistantMemory(ctx context.Context, sessionID string, msgID int64, reply string) (link.Result, error) {
	cleaned := strings.TrimSpace(toolFenceRe.ReplaceAllString(reply, " "))
	if cleaned == "" {
		return link.Result{Seeds: []string{}}, nil
	}

	detection, err := m.detector.Detect(ctx, cleaned)
	if err != nil {
		logger.Warn("[Memory] Assistant detection failed, skipping", "session", sessionID, "err", err)
		return link.Result{Seeds: []string{}}, nil
	}
	return m.linker.Link(ctx, sessionID, msgID, detection.Entities, link.SourceAssistant)
}

// LogTurn persists the per-turn analytics record and returns its id.
// Reinforcement jobs for the turn's seeds are enqueued unless the
// reinforce.enabled tunable turns them off; the publish is best-effort with
// one retry, and a broker outage is logged while the turn record stands.
func (m *Memory) LogTurn(ctx context.Context, sessionID string, userMsgID int64, assistantMsgID *int64, detection detect.Result, seedIDs []string) (string, error) {
	turn := common.Turn{
		ID:              m.store.NewID("t_"),
		SessionID:       sessionID,
		UserMsgID:       userMsgID,
		AssistantMsgID:  assistantMsgID,
		IntentLabel:     detection.Intent.Label,
		IntentScoreJSON: mustJSON(map[string]float64{detection.Intent.Label: detection.Intent.Score}),
		DetectionsJSON:  mustJSON(detection.Entities),
		SlotsJSON:       mustJSON(detection.Slots),
		DetectorVersion: detection.DetectorVersion,
	}
	if err := m.store.InsertTurn(ctx, turn); err != nil {
		return "", err
	}

	if m.publisher != nil && len(seedIDs) > 0 &&
		store.ConfigBool(ctx, m.store, "reinforce.enabled", true) {
		job := ReinforceJob{SessionID: sessionID, MsgID: userMsgID, SeedIDs: seedIDs}
		err := util.RetryErrWithContext(ctx, publishAttempts, func(ctx context.Context) error {
			return m.publisher.PublishReinforce(ctx, job)
		})
		if err != nil {
			logger.Warn("[Memory] Reinforce publish failed", "session", sessionID, "err", err)
		}
	}
	return turn.ID, nil
}

func (m *Memory) renderPack(ctx context.Context, sg common.Subgraph, seedIDs []string) string {
	windowDays := store.ConfigInt(ctx, m.store, "limits.window_days", defaultWindowDays)
	hop := store.ConfigInt(ctx, m.store, "limits.hop", retrieve.DefaultLimits().Hop)
	return render.Pack(sg, seedIDs, windowDays, hop)
}

// countTokens reports the pack's token footprint for telemetry. Encoder
// setup can fail offline; that disables the count rather than the turn.
func (m *Memory) countTokens(pack string) int {
	m.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(packEncoding)
		if err != nil {
			logger.Debug("[Memory] Token encoder unavailable", "err", err)
			return
		}
		m.enc = enc
	})
	if m.enc == nil {
		return 0
	}
	return len(m.enc.Encode(pack, nil, nil))
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
