// Package openai adapts github.com/openai/openai-go/v2 to the llm.Provider
// contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"branchline/internal/llm"
	"branchline/internal/observability"
)

type Provider struct {
	client openai.Client
	model  string
}

func New(apiKey, model string) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(observability.NewHTTPClient(nil)),
	)
	return &Provider{client: client, model: model}, nil
}

func toOpenAIMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (p *Provider) Chat(ctx context.Context, messages []llm.Message, temperature float64) (llm.ChatResult, error) {
	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       p.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		log.Error().Err(err).Str("model", p.model).Dur("duration", time.Since(start)).Msg("openai_chat_error")
		return llm.ChatResult{}, err
	}
	if len(resp.Choices) == 0 {
		log.Error().Str("model", p.model).Dur("duration", time.Since(start)).Msg("openai_chat_empty_response")
		return llm.ChatResult{}, errors.New("openai: empty response")
	}
	choice := resp.Choices[0]
	log.Debug().Str("model", p.model).Int("messages", len(messages)).
		Int64("prompt_tokens", resp.Usage.PromptTokens).Int64("completion_tokens", resp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).Msg("openai_chat_ok")
	return llm.ChatResult{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (p *Provider) Stream(ctx context.Context, messages []llm.Message, temperature float64, fn llm.StreamFunc) (string, error) {
	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	stream := p.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:       p.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(temperature),
	})
	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := fn(delta); err != nil {
			return full.String(), err
		}
	}
	if err := stream.Err(); err != nil {
		log.Error().Err(err).Str("model", p.model).Dur("duration", time.Since(start)).Msg("openai_stream_error")
		return full.String(), err
	}
	log.Debug().Str("model", p.model).Int("chars", full.Len()).Dur("duration", time.Since(start)).Msg("openai_stream_ok")
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
			Msg("openai_summarise_parse_fallback")
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
			Msg("openai_analyze_branches_parse_fallback")
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
