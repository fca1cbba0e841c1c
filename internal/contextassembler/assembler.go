// Package contextassembler implements the ContextAssembler: the
// graph walk that turns a target node into the ordered message list fed to
// the LLM, honouring summary and reference semantics.
package contextassembler

import (
	"context"
	"sort"
	"strings"

	"branchline/internal/graph"
	"branchline/internal/store"
)

// ConversationHistory is the assembled context.
type ConversationHistory struct {
	Messages     []graph.Message
	TotalTokens  int
	IsSummarized bool
}

// nodeGetter and messageGetter narrow graph.NodeRepo/MessageRepo to what the
// walk needs, so tests can substitute an in-memory double without a pool.
type nodeGetter interface {
	Get(ctx context.Context, id string) (graph.Node, error)
}

type messageGetter interface {
	ListByNode(ctx context.Context, nodeID string) ([]graph.Message, error)
	ListByNodes(ctx context.Context, nodeIDs []string) ([]graph.Message, error)
}

// Assembler implements the walk-and-truncate assembly over the node graph.
type Assembler struct {
	nodes    nodeGetter
	messages messageGetter
}

func New(nodes *graph.NodeRepo, messages *graph.MessageRepo) *Assembler {
	return &Assembler{nodes: nodes, messages: messages}
}

// Assemble produces the ordered message list for targetNodeID.
func (a *Assembler) Assemble(ctx context.Context, targetNodeID string, includeAncestors bool) (ConversationHistory, error) {
	target, err := a.nodes.Get(ctx, targetNodeID)
	if err != nil {
		return ConversationHistory{}, err
	}

	var messages []graph.Message
	var isSummarized bool

	switch {
	case target.Type == graph.NodeReference:
		messages, isSummarized, err = a.assembleReference(ctx, target)
	case includeAncestors:
		messages, isSummarized, err = a.assemblePath(ctx, targetNodeID)
	default:
		messages, err = a.messages.ListByNode(ctx, targetNodeID)
	}
	if err != nil {
		return ConversationHistory{}, err
	}

	messages = dedupeAndSort(messages)
	return ConversationHistory{
		Messages:     messages,
		TotalTokens:  totalTokens(messages),
		IsSummarized: isSummarized,
	}, nil
}

// assembleReference gathers a reference node's context: own messages, the parent's
// recursively-assembled context, and for each source id a partial ancestor
// path truncated at the first summary boundary.
func (a *Assembler) assembleReference(ctx context.Context, target graph.Node) ([]graph.Message, bool, error) {
	own, err := a.messages.ListByNode(ctx, target.ID)
	if err != nil {
		return nil, false, err
	}
	messages := append([]graph.Message{}, own...)
	isSummarized := false

	if target.ParentID != nil {
		parentHistory, err := a.Assemble(ctx, *target.ParentID, true)
		if err != nil {
			return nil, false, err
		}
		messages = append(messages, parentHistory.Messages...)
		isSummarized = isSummarized || parentHistory.IsSummarized
	}

	for _, sourceID := range target.SourceNodeIDs {
		path, hitSummary, err := a.walkUpToSummary(ctx, sourceID)
		if err != nil {
			return nil, false, err
		}
		pathMsgs, err := a.messages.ListByNodes(ctx, path)
		if err != nil {
			return nil, false, err
		}
		messages = append(messages, pathMsgs...)
		isSummarized = isSummarized || hitSummary
	}

	return messages, isSummarized, nil
}

// assemblePath walks ancestors root-ward,
// stopping (inclusive) at the first summary-typed ancestor.
func (a *Assembler) assemblePath(ctx context.Context, targetNodeID string) ([]graph.Message, bool, error) {
	path, hitSummary, err := a.walkUpToSummary(ctx, targetNodeID)
	if err != nil {
		return nil, false, err
	}
	messages, err := a.messages.ListByNodes(ctx, path)
	if err != nil {
		return nil, false, err
	}
	return messages, hitSummary, nil
}

// walkUpToSummary walks from nodeID toward the root, collecting node ids,
// and stops (inclusive) at the first node whose type is summary or whose
// is_summary flag is set. Returns false if the walk reaches the root
// without crossing a summary boundary.
func (a *Assembler) walkUpToSummary(ctx context.Context, nodeID string) ([]string, bool, error) {
	var path []string
	current, err := a.nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, false, err
	}
	for {
		path = append(path, current.ID)
		if current.Type == graph.NodeSummary || current.IsSummary {
			return path, true, nil
		}
		if current.ParentID == nil {
			return path, false, nil
		}
		current, err = a.nodes.Get(ctx, *current.ParentID)
		if err != nil {
			if store.Is(err, store.KindNotFound) {
				return path, false, nil
			}
			return nil, false, err
		}
	}
}

func dedupeAndSort(messages []graph.Message) []graph.Message {
	seen := map[string]bool{}
	out := make([]graph.Message, 0, len(messages))
	for _, m := range messages {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// totalTokens approximates Σ len(split(content))·1.5 across the assembled
// messages.
func totalTokens(messages []graph.Message) int {
	total := 0.0
	for _, m := range messages {
		total += float64(len(strings.Fields(m.Content))) * 1.5
	}
	return int(total)
}
