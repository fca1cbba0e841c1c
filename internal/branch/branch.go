// Package branch implements the BranchAnalyzer: the
// post-reply LLM call that yields ranked branch recommendations persisted
// as first-class entities.
package branch

import (
	"context"

	"branchline/internal/graph"
	"branchline/internal/llm"
)

// recommendationCreator narrows graph.RecommendationRepo to what Analyze
// needs, so tests can substitute an in-memory double without a pool (the
// same seam internal/contextassembler uses for nodeGetter/messageGetter).
type recommendationCreator interface {
	CreateBatch(ctx context.Context, recs []graph.Recommendation) ([]graph.Recommendation, error)
}

type Analyzer struct {
	recommendations recommendationCreator
	provider        llm.Provider
}

func New(recommendations *graph.RecommendationRepo, provider llm.Provider) *Analyzer {
	return &Analyzer{recommendations: recommendations, provider: provider}
}

// Analyze calls LLMAdapter.analyze_branches on the just-completed exchange,
// fills defaults for omitted fields, and persists the results as a
// RecommendationBatch tied to the assistant message and node.
func (a *Analyzer) Analyze(ctx context.Context, sessionID, nodeID, messageID string, exchange []llm.Message, temperature float64) ([]graph.Recommendation, error) {
	branches, err := a.provider.AnalyzeBranches(ctx, exchange, temperature)
	if err != nil {
		return nil, err
	}
	if len(branches) > 3 {
		branches = branches[:3]
	}

	recs := make([]graph.Recommendation, 0, len(branches))
	for i, b := range branches {
		priority := float64(8-i) / 10
		if b.Priority != nil {
			priority = *b.Priority
		}
		depth := 3
		if b.EstimatedDepth != nil {
			depth = *b.EstimatedDepth
		}
		edgeLabel := b.Title
		if len(edgeLabel) > 20 {
			edgeLabel = edgeLabel[:20]
		}

		recs = append(recs, graph.Recommendation{
			SessionID:      sessionID,
			NodeID:         nodeID,
			MessageID:      messageID,
			Title:          b.Title,
			Description:    b.Description,
			Type:           b.Type,
			Priority:       priority,
			EstimatedDepth: depth,
			EdgeLabel:      edgeLabel,
		})
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return a.recommendations.CreateBatch(ctx, recs)
}
