// Package mock is the credential-absent fallback LLM provider: a
// deterministic implementation behind the same interface as the real
// adapters, so the server boots and is testable without API keys.
package mock

import (
	"context"
	"strconv"
	"strings"

	"branchline/internal/llm"
)

type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Chat(_ context.Context, messages []llm.Message, _ float64) (llm.ChatResult, error) {
	return llm.ChatResult{Content: mockReply(messages), FinishReason: "stop"}, nil
}

func (p *Provider) Stream(_ context.Context, messages []llm.Message, _ float64, fn llm.StreamFunc) (string, error) {
	reply := mockReply(messages)
	for _, word := range strings.Fields(reply) {
		if err := fn(word + " "); err != nil {
			return "", err
		}
	}
	return reply, nil
}

func (p *Provider) Summarise(_ context.Context, contents []string, _ string) (llm.SummaryResult, error) {
	joined := strings.Join(contents, " ")
	title := joined
	if len(title) > 20 {
		title = title[:20]
	}
	return llm.SummaryResult{Title: title, Summary: "Summary of " + strconv.Itoa(len(contents)) + " node(s): " + truncate(joined, 200)}, nil
}

func (p *Provider) AnalyzeBranches(_ context.Context, _ []llm.Message, _ float64) ([]llm.Branch, error) {
	return []llm.Branch{
		{Title: "Explore alternatives", Description: "Consider a different approach to the last exchange.", Type: "exploration"},
	}, nil
}

func mockReply(messages []llm.Message) string {
	if len(messages) == 0 {
		return "(mock) no input provided."
	}
	last := messages[len(messages)-1]
	return "(mock) acknowledged: " + truncate(last.Content, 120)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
