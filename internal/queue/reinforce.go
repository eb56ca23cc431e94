package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"github.com/melokeo/graphmem/pkg/graphmem"
	"github.com/melokeo/graphmem/pkg/logger"
	"github.com/melokeo/graphmem/pkg/store"
	"github.com/melokeo/graphmem/pkg/writer"
)

// reinforceDelta is the confidence bump a seed node receives each time it
// participates in a logged turn. Repeated mentions walk a provisional node
// toward the promotion threshold.
const reinforceDelta = 0.05

// ReinforcePublisher publishes graphmem reinforcement jobs over an AMQP
// channel. It satisfies graphmem.Publisher.
type ReinforcePublisher struct {
	ch *amqp091.Channel
}

func NewReinforcePublisher(ch *amqp091.Channel) *ReinforcePublisher {
	return &ReinforcePublisher{ch: ch}
}

func (p *ReinforcePublisher) PublishReinforce(_ context.Context, job graphmem.ReinforceJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return PublishFIFO(p.ch, ReinforceQueue, b)
}

// ProcessReinforceMessage handles one reinforcement job: each seed node's
// confidence is bumped by reinforceDelta (capped at 1.0), which also flips
// the node to promoted once it crosses the configured threshold. Missing
// nodes are skipped; a store failure returns the job for retry.
func ProcessReinforceMessage(
	ctx context.Context,
	s store.GraphStore,
	msg string,
) error {
	var job graphmem.ReinforceJob
	if err := json.Unmarshal([]byte(msg), &job); err != nil {
		return fmt.Errorf("decode reinforce job: %w", err)
	}
	if len(job.SeedIDs) == 0 {
		return nil
	}

	nodes, err := s.GetNodes(ctx, job.SeedIDs)
	if err != nil {
		return fmt.Errorf("load seeds for reinforce: %w", err)
	}
	if len(nodes) == 0 {
		logger.Debug("[Queue] Reinforce job had no resolvable seeds", "session", job.SessionID, "msg_id", job.MsgID)
		return nil
	}

	w := writer.New(s)
	for _, n := range nodes {
		conf := n.Confidence + reinforceDelta
		if conf > 1.0 {
			conf = 1.0
		}
		if err := w.PromoteNode(ctx, n.ID, conf); err != nil {
			return err
		}
	}

	logger.Info("[Queue] Reinforced seeds", "session", job.SessionID, "msg_id", job.MsgID, "count", len(nodes))
	return nil
}
