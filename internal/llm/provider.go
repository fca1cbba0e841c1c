// Package llm is the LLMAdapter external contract.
// Implementations may fall back to mock output when credentials are absent;
// the pipeline is oblivious to which provider is behind the interface.
package llm

import "context"

// Message is a single turn fed to or produced by a provider.
type Message struct {
	Role    string
	Content string
}

// ChatResult is a non-streaming completion result.
type ChatResult struct {
	Content      string
	FinishReason string
	Usage        *Usage
}

// Usage reports token accounting when the provider exposes it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// SummaryResult is the structured output of Summarise.
type SummaryResult struct {
	Title   string // ≤ 20 chars
	Summary string
}

// Branch is a single LLM-proposed recommendation.
type Branch struct {
	Title          string
	Description    string
	Type           string
	Priority       *float64
	EstimatedDepth *int
}

// StreamFunc receives each text chunk as it arrives. Returning an
// error aborts the stream.
type StreamFunc func(chunk string) error

// Provider is the polymorphic LLMAdapter contract.
type Provider interface {
	// Chat is a non-streaming completion.
	Chat(ctx context.Context, messages []Message, temperature float64) (ChatResult, error)
	// Stream invokes fn for each chunk of a streaming completion and
	// returns the full accumulated text.
	Stream(ctx context.Context, messages []Message, temperature float64, fn StreamFunc) (string, error)
	// Summarise produces a structured title+summary for the given
	// contents.
	Summarise(ctx context.Context, contents []string, instructions string) (SummaryResult, error)
	// AnalyzeBranches proposes 0-3 branch recommendations.
	AnalyzeBranches(ctx context.Context, messages []Message, temperature float64) ([]Branch, error)
}
