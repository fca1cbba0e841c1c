// Package google adapts google.golang.org/genai to the llm.Provider
// contract.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"branchline/internal/llm"
	"branchline/internal/observability"
)

type Provider struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("google: api key required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: observability.NewHTTPClient(nil),
	})
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model}, nil
}

func toGenaiContents(messages []llm.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	return out
}

func (p *Provider) Chat(ctx context.Context, messages []llm.Message, temperature float64) (llm.ChatResult, error) {
	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	temp := float32(temperature)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, toGenaiContents(messages), &genai.GenerateContentConfig{Temperature: &temp})
	if err != nil {
		log.Error().Err(err).Str("model", p.model).Dur("duration", time.Since(start)).Msg("gemini_chat_error")
		return llm.ChatResult{}, err
	}
	log.Debug().Str("model", p.model).Int("messages", len(messages)).Dur("duration", time.Since(start)).Msg("gemini_chat_ok")
	return llm.ChatResult{Content: resp.Text(), FinishReason: "stop"}, nil
}

func (p *Provider) Stream(ctx context.Context, messages []llm.Message, temperature float64, fn llm.StreamFunc) (string, error) {
	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	temp := float32(temperature)
	var full strings.Builder
	for chunk, err := range p.client.Models.GenerateContentStream(ctx, p.model, toGenaiContents(messages), &genai.GenerateContentConfig{Temperature: &temp}) {
		if err != nil {
			log.Error().Err(err).Str("model", p.model).Dur("duration", time.Since(start)).Msg("gemini_stream_error")
			return full.String(), err
		}
		text := chunk.Text()
		if text == "" {
			continue
		}
		full.WriteString(text)
		if err := fn(text); err != nil {
			return full.String(), err
		}
	}
	log.Debug().Str("model", p.model).Int("chars", full.Len()).Dur("duration", time.Since(start)).Msg("gemini_stream_ok")
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
			Msg("gemini_summarise_parse_fallback")
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
			Msg("gemini_analyze_branches_parse_fallback")
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
