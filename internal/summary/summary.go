// Package summary implements the SummaryEngine: a
// synchronous placeholder followed by an asynchronous LLM fill.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"branchline/internal/graph"
	"branchline/internal/hub"
	"branchline/internal/llm"
)

// Job is the serialised payload of a background summarisation task. It
// carries everything needed to execute, so a dispatcher can hand it to any
// consumer in the group — including one on another server instance.
type Job struct {
	Kind         string   `json:"kind"`
	NodeID       string   `json:"node_id"`
	SourceIDs    []string `json:"source_node_ids,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

const (
	jobFill          = "summary_fill"
	jobParentSummary = "parent_summary"
)

// HubNotifier narrows internal/hub.Hub to the one broadcast summary needs.
type HubNotifier interface {
	Broadcast(sessionID string, eventType string, payload any, exclude hub.Sink)
}

// nodeStore and messageStore narrow graph.NodeRepo/MessageRepo to what the
// engine needs, so tests can substitute an in-memory double without a pool
// (the same seam internal/contextassembler uses).
type nodeStore interface {
	CreateSummary(ctx context.Context, sessionID string, sourceIDs []string, title, content string) (graph.Node, error)
	SetSummaryOutcome(ctx context.Context, nodeID, title, content string, summaryContent *string) (graph.Node, error)
	Update(ctx context.Context, nodeID string, patch graph.NodePatch) (graph.Node, error)
	Get(ctx context.Context, id string) (graph.Node, error)
}

type messageStore interface {
	ListByNode(ctx context.Context, nodeID string) ([]graph.Message, error)
}

// sessionStore narrows graph.SessionRepo to the summary rollup a completed
// fill needs to record.
type sessionStore interface {
	RecordSummary(ctx context.Context, sessionID, summary string, summarizedCount int) error
}

type Engine struct {
	nodes    nodeStore
	messages messageStore
	provider llm.Provider
	hub      HubNotifier
	sessions sessionStore
	dispatch func(payload []byte)
}

// New constructs a SummaryEngine. dispatch sends a marshalled Job for
// background execution; production wiring points it at
// internal/jobs.Dispatcher.Dispatch (with ExecuteJob as the consumer-side
// handler), and nil falls back to an in-process goroutine.
func New(nodes *graph.NodeRepo, messages *graph.MessageRepo, sessions *graph.SessionRepo, provider llm.Provider, hub HubNotifier, dispatch func(payload []byte)) *Engine {
	e := &Engine{nodes: nodes, messages: messages, sessions: sessions, provider: provider, hub: hub}
	if dispatch == nil {
		dispatch = func(payload []byte) { go e.ExecuteJob(context.Background(), payload) }
	}
	e.dispatch = dispatch
	return e
}

// SetDispatch replaces the dispatch function after construction. The
// broker-backed dispatcher needs ExecuteJob as its handler, so the engine
// exists first and is pointed at the dispatcher second.
func (e *Engine) SetDispatch(dispatch func(payload []byte)) {
	if dispatch != nil {
		e.dispatch = dispatch
	}
}

// ExecuteJob runs one dispatched summarisation task. It is the
// consumer-side entry point for internal/jobs: the payload is a marshalled
// Job, so any instance in the consumer group can execute it.
func (e *Engine) ExecuteJob(ctx context.Context, payload []byte) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		log.Warn().Err(err).Msg("summary: decode job failed")
		return
	}
	switch job.Kind {
	case jobFill:
		e.fill(ctx, job.NodeID, job.SourceIDs, job.Instructions)
	case jobParentSummary:
		e.fillParent(ctx, job.NodeID)
	default:
		log.Warn().Str("kind", job.Kind).Msg("summary: unknown job kind")
	}
}

func (e *Engine) dispatchJob(job Job) {
	payload, err := json.Marshal(job)
	if err != nil {
		log.Error().Err(err).Str("kind", job.Kind).Msg("summary: marshal job failed")
		return
	}
	e.dispatch(payload)
}

// CreateSummary creates a summary node with is_generating=true and a
// placeholder title/content, returning immediately; the fill happens in the
// background.
func (e *Engine) CreateSummary(ctx context.Context, sessionID string, sourceIDs []string, instructions string) (graph.Node, error) {
	node, err := e.nodes.CreateSummary(ctx, sessionID, sourceIDs, "Summary in progress…", "Generating summary...")
	if err != nil {
		return graph.Node{}, err
	}

	e.dispatchJob(Job{Kind: jobFill, NodeID: node.ID, SourceIDs: sourceIDs, Instructions: instructions})
	return node, nil
}

func (e *Engine) fill(ctx context.Context, nodeID string, sourceIDs []string, instructions string) {
	contents, err := e.collectContents(ctx, sourceIDs)
	if err != nil {
		e.fail(ctx, nodeID, err)
		return
	}

	result, err := e.provider.Summarise(ctx, contents, instructions)
	if err != nil {
		e.fail(ctx, nodeID, err)
		return
	}

	title := result.Title
	if len(title) > 20 {
		title = title[:20]
	}
	node, err := e.nodes.SetSummaryOutcome(ctx, nodeID, title, result.Summary, &result.Summary)
	if err != nil {
		log.Error().Err(err).Str("node_id", nodeID).Msg("summary fill: update node failed")
		return
	}
	if e.sessions != nil {
		if err := e.sessions.RecordSummary(ctx, node.SessionID, result.Summary, len(sourceIDs)); err != nil {
			log.Warn().Err(err).Str("session_id", node.SessionID).Msg("summary fill: session rollup failed")
		}
	}
	if e.hub != nil {
		e.hub.Broadcast(node.SessionID, "summary_completed", map[string]any{
			"node_id": nodeID,
			"title":   title,
			"summary": result.Summary,
		}, nil)
	}
}

// fail ensures the node never remains stuck in is_generating=true.
func (e *Engine) fail(ctx context.Context, nodeID string, cause error) {
	content := fmt.Sprintf("summary generation failed: %v", cause)
	if _, err := e.nodes.SetSummaryOutcome(ctx, nodeID, "Summary failed", content, nil); err != nil {
		log.Error().Err(err).Str("node_id", nodeID).Msg("summary fill: failure update failed")
	}
}

func (e *Engine) collectContents(ctx context.Context, sourceIDs []string) ([]string, error) {
	contents := make([]string, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		msgs, err := e.messages.ListByNode(ctx, id)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, m := range msgs {
			sb.WriteString(string(m.Role))
			sb.WriteString(": ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
		contents = append(contents, sb.String())
	}
	return contents, nil
}

// MaybeAutoSummarizeParent triggers a fire-and-forget summarisation of the
// parent's own messages when a child node is created, if the parent lacks a
// summary_content and has at least 2 messages. Failure is non-fatal.
func (e *Engine) MaybeAutoSummarizeParent(ctx context.Context, parentID string) (triggered bool) {
	parent, err := e.nodes.Get(ctx, parentID)
	if err != nil {
		return false
	}
	if parent.SummaryContent != nil && *parent.SummaryContent != "" {
		return false
	}
	msgs, err := e.messages.ListByNode(ctx, parentID)
	if err != nil || len(msgs) < 2 {
		return false
	}

	e.dispatchJob(Job{Kind: jobParentSummary, NodeID: parentID})
	return true
}

// fillParent summarises a parent node's own messages into its
// summary_content. The messages are re-read at execution time since the
// job may run on a different instance than the one that dispatched it.
func (e *Engine) fillParent(ctx context.Context, parentID string) {
	msgs, err := e.messages.ListByNode(ctx, parentID)
	if err != nil || len(msgs) < 2 {
		return
	}
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	result, err := e.provider.Summarise(ctx, []string{sb.String()}, "")
	if err != nil {
		log.Warn().Err(err).Str("node_id", parentID).Msg("parent auto-summary failed")
		return
	}
	if _, err := e.nodes.Update(ctx, parentID, graph.NodePatch{SummaryContent: &result.Summary}); err != nil {
		log.Warn().Err(err).Str("node_id", parentID).Msg("parent auto-summary: update failed")
	}
}
