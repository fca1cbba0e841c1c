// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// llm.Provider contract: one thin client package per provider.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"branchline/internal/llm"
	"branchline/internal/observability"
)

type Provider struct {
	client anthropic.Client
	model  string
}

// New constructs an Anthropic-backed provider. apiKey must be non-empty;
// callers fall back to mock.New() when it is absent.
func New(apiKey, model string) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic: api key required")
	}
	if model == "" {
		model = "claude-3-7-sonnet-latest"
	}
	return &Provider{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(observability.NewHTTPClient(nil)),
		),
		model: model,
	}, nil
}

func toAnthropicMessages(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func (p *Provider) Chat(ctx context.Context, messages []llm.Message, temperature float64) (llm.ChatResult, error) {
	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   4096,
		Temperature: anthropic.Float(temperature),
		Messages:    toAnthropicMessages(messages),
	})
	if err != nil {
		log.Error().Err(err).Str("model", p.model).Dur("duration", time.Since(start)).Msg("anthropic_chat_error")
		return llm.ChatResult{}, err
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	log.Debug().Str("model", p.model).Int("messages", len(messages)).
		Int64("input_tokens", resp.Usage.InputTokens).Int64("output_tokens", resp.Usage.OutputTokens).
		Dur("duration", time.Since(start)).Msg("anthropic_chat_ok")
	return llm.ChatResult{
		Content:      text.String(),
		FinishReason: string(resp.StopReason),
		Usage: &llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func (p *Provider) Stream(ctx context.Context, messages []llm.Message, temperature float64, fn llm.StreamFunc) (string, error) {
	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	stream := p.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   4096,
		Temperature: anthropic.Float(temperature),
		Messages:    toAnthropicMessages(messages),
	})
	var full strings.Builder
	for stream.Next() {
		event := stream.Current()
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta.Delta.Text != "" {
				full.WriteString(delta.Delta.Text)
				if err := fn(delta.Delta.Text); err != nil {
					return full.String(), err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		log.Error().Err(err).Str("model", p.model).Dur("duration", time.Since(start)).Msg("anthropic_stream_error")
		return full.String(), err
	}
	log.Debug().Str("model", p.model).Int("chars", full.Len()).Dur("duration", time.Since(start)).Msg("anthropic_stream_ok")
	return full.String(), nil
}

func (p *Provider) Summarise(ctx context.Context, contents []string, instructions string) (llm.SummaryResult, error) {
	prompt := "Summarise the following conversation nodes as JSON {\"title\":\"<=20 chars\",\"summary\":\"...\"}."
	if instructions != "" {
		prompt += " " + instructions
	}
	prompt += "\n\n" + strings.Join(contents, "\n---\n")

	resp, err := p.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, 0.2)
	if err != nil {
		return llm.SummaryResult{}, err
	}
	var result llm.SummaryResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil {
		observability.LoggerWithTrace(ctx).Debug().
			RawJSON("body", observability.RedactJSON([]byte(extractJSON(resp.Content)))).
			Msg("anthropic_summarise_parse_fallback")
		return llm.SummaryResult{Title: truncate(resp.Content, 20), Summary: resp.Content}, nil
	}
	return result, nil
}

func (p *Provider) AnalyzeBranches(ctx context.Context, messages []llm.Message, temperature float64) ([]llm.Branch, error) {
	prompt := "Given the conversation so far, propose at most 3 future branches as a JSON array of " +
		`{"title":"...","description":"...","type":"...","priority":0.0,"estimated_depth":3}.`
	full := append(append([]llm.Message{}, messages...), llm.Message{Role: "user", Content: prompt})

	resp, err := p.Chat(ctx, full, temperature)
	if err != nil {
		return nil, err
	}
	var branches []llm.Branch
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &branches); err != nil {
		observability.LoggerWithTrace(ctx).Debug().
			RawJSON("body", observability.RedactJSON([]byte(extractJSON(resp.Content)))).
			Msg("anthropic_analyze_branches_parse_fallback")
		return nil, nil
	}
	if len(branches) > 3 {
		branches = branches[:3]
	}
	return branches, nil
}

func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
