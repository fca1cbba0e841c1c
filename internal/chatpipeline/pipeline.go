// Package chatpipeline implements the ChatPipeline: the
// turn algorithm persist→assemble→stream→persist→analyse, including the
// auto-reference rule and the token-budget/summarisation control loop.
package chatpipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"branchline/internal/branch"
	"branchline/internal/contextassembler"
	"branchline/internal/graph"
	"branchline/internal/llm"
	"branchline/internal/store"
	"branchline/internal/summary"
)

// TokenLimit is the default token budget beyond which the parent portion of
// the context is collapsed into a summary.
const TokenLimit = 4000

// SystemInstruction is prepended to every assembled context before the LLM
// call.
const SystemInstruction = "You are a helpful assistant participating in a branching conversation. Respond to the latest user message using the provided context."

// TurnRecord is emitted to internal/telemetry after every completed turn.
type TurnRecord struct {
	SessionID          string
	NodeID             string
	TokenEstimate      int
	Provider           string
	Model              string
	Summarised         bool
	AutoReferenced     bool
	BranchAnalysisRan  bool
	RecommendationsLen int
}

// Telemetry receives a TurnRecord after every completed turn. nil disables
// recording.
type Telemetry interface {
	RecordTurn(ctx context.Context, rec TurnRecord)
}

// nodeStore, messageStore, and sessionStore narrow graph.NodeRepo/
// MessageRepo/SessionRepo to what a turn needs, so tests can substitute an
// in-memory double without a pool (the same seam internal/contextassembler
// uses for nodeGetter/messageGetter).
type nodeStore interface {
	HasChildren(ctx context.Context, nodeID string) (bool, error)
	CreateReference(ctx context.Context, sessionID, parentID string, sourceIDs []string, title, content string) (graph.Node, error)
}

type messageStore interface {
	Create(ctx context.Context, nodeID string, role graph.Role, content string) (graph.Message, error)
}

type sessionStore interface {
	RecordMessagePreview(ctx context.Context, sessionID, preview string) error
}

type assembler interface {
	Assemble(ctx context.Context, targetNodeID string, includeAncestors bool) (contextassembler.ConversationHistory, error)
}

type summaryEngine interface {
	MaybeAutoSummarizeParent(ctx context.Context, parentID string) bool
}

type branchAnalyzer interface {
	Analyze(ctx context.Context, sessionID, nodeID, messageID string, exchange []llm.Message, temperature float64) ([]graph.Recommendation, error)
}

// Pipeline orchestrates a single chat turn.
type Pipeline struct {
	nodes       nodeStore
	messages    messageStore
	sessions    sessionStore
	assembler   assembler
	provider    llm.Provider
	providerTag string
	model       string
	summaries   summaryEngine
	analyzer    branchAnalyzer
	telemetry   Telemetry
}

func New(nodes *graph.NodeRepo, messages *graph.MessageRepo, sessions *graph.SessionRepo, asm *contextassembler.Assembler, provider llm.Provider, providerTag, model string, summaries *summary.Engine, analyzer *branch.Analyzer, telemetry Telemetry) *Pipeline {
	return &Pipeline{
		nodes: nodes, messages: messages, sessions: sessions, assembler: asm,
		provider: provider, providerTag: providerTag, model: model,
		summaries: summaries, analyzer: analyzer, telemetry: telemetry,
	}
}

// Input describes a single chat turn request.
type Input struct {
	SessionID  string
	NodeID     string
	Text       string
	AutoBranch bool
	Stream     bool
}

// Result is returned to the caller and also drives the emitted event
// sequence; internal/wsapi and internal/httpapi translate it into wire
// frames.
type Result struct {
	NodeID             string
	UserMessageID      string
	AssistantMessageID string
	FullResponse       string
	Recommendations    []graph.Recommendation
	StreamError        string
}

// Run executes the full turn algorithm. sink receives the ordered event
// sequence for this operation only — callers that also need fan-out to
// other session subscribers pass a sink backed by hub.Broadcast.
func (p *Pipeline) Run(ctx context.Context, in Input, sink func(eventType string, payload any)) (Result, error) {
	workingNodeID := in.NodeID
	autoReferenced := false

	if in.Stream {
		hasChildren, err := p.nodes.HasChildren(ctx, in.NodeID)
		if err != nil {
			return Result{}, err
		}
		if hasChildren {
			newNodeID, err := p.applyAutoReference(ctx, in.SessionID, in.NodeID, sink)
			if err != nil {
				return Result{}, err
			}
			workingNodeID = newNodeID
			autoReferenced = true
		}
	}

	userMsg, err := p.messages.Create(ctx, workingNodeID, graph.RoleUser, in.Text)
	if err != nil {
		// A failed user-message persist emits no events; the error goes
		// back to the caller.
		return Result{}, err
	}
	_ = p.sessions.RecordMessagePreview(ctx, in.SessionID, preview(in.Text))

	if in.Stream {
		sink("stream_start", map[string]any{"session_id": in.SessionID, "node_id": workingNodeID, "message_id": userMsg.ID})
	}

	history, err := p.assembler.Assemble(ctx, workingNodeID, true)
	if err != nil {
		return Result{}, err
	}

	messages, summarised, err := p.applyTokenBudget(ctx, history)
	if err != nil {
		return Result{}, err
	}

	llmMessages := append([]llm.Message{{Role: "system", Content: SystemInstruction}}, messages...)

	var fullResponse string
	var streamErr error
	if in.Stream {
		fullResponse, streamErr = p.provider.Stream(ctx, llmMessages, 0.7, func(chunk string) error {
			sink("stream_chunk", map[string]any{"node_id": workingNodeID, "chunk": chunk})
			return nil
		})
	} else {
		var chatResult llm.ChatResult
		chatResult, streamErr = p.provider.Chat(ctx, llmMessages, 0.7)
		fullResponse = chatResult.Content
	}

	if streamErr != nil {
		// stream_end carries an error payload; the assistant message is
		// not persisted for a partial reply.
		if in.Stream {
			sink("stream_end", map[string]any{"node_id": workingNodeID, "message_id": userMsg.ID, "error": streamErr.Error()})
		}
		return Result{NodeID: workingNodeID, UserMessageID: userMsg.ID, StreamError: streamErr.Error()}, nil
	}

	assistantMsg, err := p.messages.Create(ctx, workingNodeID, graph.RoleAssistant, fullResponse)
	if err != nil {
		return Result{}, err
	}
	_ = p.sessions.RecordMessagePreview(ctx, in.SessionID, preview(fullResponse))

	var recs []graph.Recommendation
	branchRan := false
	if in.AutoBranch {
		branchRan = true
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			analyzed, err := p.analyzer.Analyze(gctx, in.SessionID, workingNodeID, assistantMsg.ID, llmMessages, 0.5)
			if err != nil {
				// Branch-analysis failure yields an empty list; it never
				// fails the turn.
				return nil
			}
			recs = analyzed
			return nil
		})
		_ = g.Wait()
	}

	if in.Stream {
		sink("stream_end", map[string]any{
			"node_id": workingNodeID, "message_id": assistantMsg.ID,
			"full_response": fullResponse, "recommended_branches": recs,
		})
	} else {
		sink("chat_response", map[string]any{
			"node_id": workingNodeID, "message_id": assistantMsg.ID,
			"full_response": fullResponse, "recommended_branches": recs,
		})
	}

	if p.telemetry != nil {
		p.telemetry.RecordTurn(ctx, TurnRecord{
			SessionID: in.SessionID, NodeID: workingNodeID, TokenEstimate: history.TotalTokens,
			Provider: p.providerTag, Model: p.model, Summarised: summarised,
			AutoReferenced: autoReferenced, BranchAnalysisRan: branchRan, RecommendationsLen: len(recs),
		})
	}

	return Result{
		NodeID: workingNodeID, UserMessageID: userMsg.ID, AssistantMessageID: assistantMsg.ID,
		FullResponse: fullResponse, Recommendations: recs,
	}, nil
}

// applyAutoReference implements the auto-reference rule: a user
// cannot append to a parent node that already has children, so the
// pipeline transparently forks a reference node first.
func (p *Pipeline) applyAutoReference(ctx context.Context, sessionID, nodeID string, sink func(string, any)) (string, error) {
	sink("creating_reference_node", map[string]any{"node_id": nodeID})

	ref, err := p.nodes.CreateReference(ctx, sessionID, nodeID, []string{nodeID}, "Conversation continued", "")
	if err != nil {
		return "", err
	}
	sink("reference_node_created", map[string]any{
		"edge": map[string]any{"source": nodeID, "target": ref.ID, "label": "conversation continued"},
	})

	if p.summaries.MaybeAutoSummarizeParent(ctx, nodeID) {
		sink("generating_summary", map[string]any{"node_id": nodeID})
		sink("summary_generated", map[string]any{"node_id": nodeID})
	}

	return ref.ID, nil
}

// applyTokenBudget enforces the token budget: if the assembled context
// exceeds TokenLimit, collapse the parent portion into one synthesised
// system message and keep the current node's own messages intact.
func (p *Pipeline) applyTokenBudget(ctx context.Context, history contextassembler.ConversationHistory) ([]llm.Message, bool, error) {
	if history.TotalTokens <= TokenLimit {
		return toLLMMessages(history.Messages), false, nil
	}

	currentNodeID := ""
	if len(history.Messages) > 0 {
		currentNodeID = history.Messages[len(history.Messages)-1].NodeID
	}

	var parentMessages, currentMessages []graph.Message
	for _, m := range history.Messages {
		if m.NodeID == currentNodeID {
			currentMessages = append(currentMessages, m)
		} else {
			parentMessages = append(parentMessages, m)
		}
	}
	if len(parentMessages) == 0 {
		return toLLMMessages(history.Messages), false, nil
	}

	var contents []string
	for _, m := range parentMessages {
		contents = append(contents, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	result, err := p.provider.Summarise(ctx, []string{strings.Join(contents, "\n")}, "")
	if err != nil {
		if store.Is(err, store.KindUnavailable) {
			return nil, false, err
		}
		return toLLMMessages(history.Messages), false, nil
	}

	out := []llm.Message{{Role: "system", Content: "Earlier context summary: " + result.Summary}}
	out = append(out, toLLMMessages(currentMessages)...)
	return out, true, nil
}

func toLLMMessages(messages []graph.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func preview(text string) string {
	const maxLen = 160
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen]
}
