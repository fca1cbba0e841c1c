package chatpipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"branchline/internal/contextassembler"
	"branchline/internal/graph"
	"branchline/internal/llm"
)

type fakeNodes struct {
	hasChildren   bool
	hasChildrenOK bool
	refNode       graph.Node
}

func (f *fakeNodes) HasChildren(context.Context, string) (bool, error) {
	return f.hasChildren, nil
}
func (f *fakeNodes) CreateReference(context.Context, string, string, []string, string, string) (graph.Node, error) {
	return f.refNode, nil
}

type fakeMessages struct {
	created []graph.Message
}

func (f *fakeMessages) Create(_ context.Context, nodeID string, role graph.Role, content string) (graph.Message, error) {
	m := graph.Message{ID: fmt.Sprintf("msg-%d", len(f.created)), NodeID: nodeID, Role: role, Content: content}
	f.created = append(f.created, m)
	return m, nil
}

type fakeSessions struct {
	previews []string
}

func (f *fakeSessions) RecordMessagePreview(_ context.Context, _ string, preview string) error {
	f.previews = append(f.previews, preview)
	return nil
}

type fakeAssembler struct {
	history contextassembler.ConversationHistory
	err     error
}

func (f *fakeAssembler) Assemble(context.Context, string, bool) (contextassembler.ConversationHistory, error) {
	return f.history, f.err
}

type fakeSummaries struct {
	triggered bool
}

func (f *fakeSummaries) MaybeAutoSummarizeParent(context.Context, string) bool { return f.triggered }

type fakeAnalyzer struct {
	recs []graph.Recommendation
	err  error
}

func (f *fakeAnalyzer) Analyze(context.Context, string, string, string, []llm.Message, float64) ([]graph.Recommendation, error) {
	return f.recs, f.err
}

type fakeProvider struct {
	chatContent   string
	streamContent string
	summary       llm.SummaryResult
	streamErr     error
}

func (f *fakeProvider) Chat(context.Context, []llm.Message, float64) (llm.ChatResult, error) {
	return llm.ChatResult{Content: f.chatContent}, nil
}
func (f *fakeProvider) Stream(_ context.Context, _ []llm.Message, _ float64, fn llm.StreamFunc) (string, error) {
	if f.streamErr != nil {
		return "", f.streamErr
	}
	_ = fn(f.streamContent)
	return f.streamContent, nil
}
func (f *fakeProvider) Summarise(context.Context, []string, string) (llm.SummaryResult, error) {
	return f.summary, nil
}
func (f *fakeProvider) AnalyzeBranches(context.Context, []llm.Message, float64) ([]llm.Branch, error) {
	return nil, nil
}

type fakeTelemetry struct {
	records []TurnRecord
}

func (f *fakeTelemetry) RecordTurn(_ context.Context, rec TurnRecord) { f.records = append(f.records, rec) }

func newTestPipeline(nodes nodeStore, messages *fakeMessages, sessions *fakeSessions, asm assembler, provider llm.Provider, summaries summaryEngine, analyzer branchAnalyzer, tel Telemetry) *Pipeline {
	return &Pipeline{
		nodes: nodes, messages: messages, sessions: sessions, assembler: asm,
		provider: provider, providerTag: "mock", model: "test-model",
		summaries: summaries, analyzer: analyzer, telemetry: tel,
	}
}

func TestRun_NonStreamingHappyPath(t *testing.T) {
	messages := &fakeMessages{}
	sessions := &fakeSessions{}
	asm := &fakeAssembler{history: contextassembler.ConversationHistory{TotalTokens: 10}}
	provider := &fakeProvider{chatContent: "hello back"}
	p := newTestPipeline(&fakeNodes{}, messages, sessions, asm, provider, &fakeSummaries{}, &fakeAnalyzer{}, nil)

	var events []string
	result, err := p.Run(context.Background(), Input{SessionID: "s1", NodeID: "n1", Text: "hi"}, func(t string, _ any) {
		events = append(events, t)
	})
	require.NoError(t, err)
	require.Equal(t, "hello back", result.FullResponse)
	require.Equal(t, []string{"chat_response"}, events)
	require.Len(t, messages.created, 2)
	require.Equal(t, []string{"hi", "hello back"}, sessions.previews)
}

func TestRun_StreamingEmitsStartChunkEnd(t *testing.T) {
	messages := &fakeMessages{}
	sessions := &fakeSessions{}
	asm := &fakeAssembler{history: contextassembler.ConversationHistory{TotalTokens: 10}}
	provider := &fakeProvider{streamContent: "streamed"}
	p := newTestPipeline(&fakeNodes{}, messages, sessions, asm, provider, &fakeSummaries{}, &fakeAnalyzer{}, nil)

	var events []string
	result, err := p.Run(context.Background(), Input{SessionID: "s1", NodeID: "n1", Text: "hi", Stream: true}, func(t string, _ any) {
		events = append(events, t)
	})
	require.NoError(t, err)
	require.Equal(t, "streamed", result.FullResponse)
	require.Equal(t, []string{"stream_start", "stream_chunk", "stream_end"}, events)
}

func TestRun_AutoReferenceWhenTargetHasChildren(t *testing.T) {
	messages := &fakeMessages{}
	sessions := &fakeSessions{}
	asm := &fakeAssembler{history: contextassembler.ConversationHistory{TotalTokens: 10}}
	provider := &fakeProvider{streamContent: "ok"}
	nodes := &fakeNodes{hasChildren: true, refNode: graph.Node{ID: "ref-1"}}
	p := newTestPipeline(nodes, messages, sessions, asm, provider, &fakeSummaries{}, &fakeAnalyzer{}, nil)

	var events []string
	result, err := p.Run(context.Background(), Input{SessionID: "s1", NodeID: "n1", Text: "hi", Stream: true}, func(t string, _ any) {
		events = append(events, t)
	})
	require.NoError(t, err)
	require.Equal(t, "ref-1", result.NodeID)
	require.Contains(t, events, "creating_reference_node")
	require.Contains(t, events, "reference_node_created")
	require.Equal(t, "ref-1", messages.created[0].NodeID)
}

func TestRun_StreamErrorSkipsAssistantPersistAndRecsStreamErrorSet(t *testing.T) {
	messages := &fakeMessages{}
	sessions := &fakeSessions{}
	asm := &fakeAssembler{history: contextassembler.ConversationHistory{TotalTokens: 10}}
	provider := &fakeProvider{streamErr: errors.New("upstream exploded")}
	p := newTestPipeline(&fakeNodes{}, messages, sessions, asm, provider, &fakeSummaries{}, &fakeAnalyzer{}, nil)

	var events []string
	result, err := p.Run(context.Background(), Input{SessionID: "s1", NodeID: "n1", Text: "hi", Stream: true}, func(t string, _ any) {
		events = append(events, t)
	})
	require.NoError(t, err)
	require.Equal(t, "upstream exploded", result.StreamError)
	require.Empty(t, result.AssistantMessageID)
	require.Len(t, messages.created, 1) // only the user message
	require.Equal(t, []string{"stream_start", "stream_end"}, events)
}

func TestRun_AutoBranchRunsAnalyzerAndAttachesRecommendations(t *testing.T) {
	messages := &fakeMessages{}
	sessions := &fakeSessions{}
	asm := &fakeAssembler{history: contextassembler.ConversationHistory{TotalTokens: 10}}
	provider := &fakeProvider{chatContent: "reply"}
	recs := []graph.Recommendation{{Title: "branch one"}}
	p := newTestPipeline(&fakeNodes{}, messages, sessions, asm, provider, &fakeSummaries{}, &fakeAnalyzer{recs: recs}, nil)

	result, err := p.Run(context.Background(), Input{SessionID: "s1", NodeID: "n1", Text: "hi", AutoBranch: true}, func(string, any) {})
	require.NoError(t, err)
	require.Equal(t, recs, result.Recommendations)
}

func TestRun_BranchAnalysisFailureNeverFailsTurn(t *testing.T) {
	messages := &fakeMessages{}
	sessions := &fakeSessions{}
	asm := &fakeAssembler{history: contextassembler.ConversationHistory{TotalTokens: 10}}
	provider := &fakeProvider{chatContent: "reply"}
	p := newTestPipeline(&fakeNodes{}, messages, sessions, asm, provider, &fakeSummaries{}, &fakeAnalyzer{err: errors.New("llm down")}, nil)

	result, err := p.Run(context.Background(), Input{SessionID: "s1", NodeID: "n1", Text: "hi", AutoBranch: true}, func(string, any) {})
	require.NoError(t, err)
	require.Empty(t, result.Recommendations)
}

func TestRun_RecordsTelemetryAfterCompletedTurn(t *testing.T) {
	messages := &fakeMessages{}
	sessions := &fakeSessions{}
	asm := &fakeAssembler{history: contextassembler.ConversationHistory{TotalTokens: 42}}
	provider := &fakeProvider{chatContent: "reply"}
	tel := &fakeTelemetry{}
	p := newTestPipeline(&fakeNodes{}, messages, sessions, asm, provider, &fakeSummaries{}, &fakeAnalyzer{}, tel)

	_, err := p.Run(context.Background(), Input{SessionID: "s1", NodeID: "n1", Text: "hi"}, func(string, any) {})
	require.NoError(t, err)
	require.Len(t, tel.records, 1)
	require.Equal(t, 42, tel.records[0].TokenEstimate)
	require.Equal(t, "mock", tel.records[0].Provider)
}

func TestApplyTokenBudget_UnderLimitPassesThroughUnchanged(t *testing.T) {
	p := &Pipeline{}
	history := contextassembler.ConversationHistory{
		TotalTokens: TokenLimit - 1,
		Messages:    []graph.Message{{NodeID: "n1", Role: graph.RoleUser, Content: "hi"}},
	}
	out, summarised, err := p.applyTokenBudget(context.Background(), history)
	require.NoError(t, err)
	require.False(t, summarised)
	require.Len(t, out, 1)
}

func TestApplyTokenBudget_OverLimitCollapsesParentPortion(t *testing.T) {
	provider := &fakeProvider{summary: llm.SummaryResult{Summary: "condensed"}}
	p := &Pipeline{provider: provider}
	history := contextassembler.ConversationHistory{
		TotalTokens: TokenLimit + 1,
		Messages: []graph.Message{
			{NodeID: "parent", Role: graph.RoleUser, Content: "old stuff"},
			{NodeID: "current", Role: graph.RoleUser, Content: "latest"},
		},
	}
	out, summarised, err := p.applyTokenBudget(context.Background(), history)
	require.NoError(t, err)
	require.True(t, summarised)
	require.Len(t, out, 2)
	require.Equal(t, "system", out[0].Role)
	require.Contains(t, out[0].Content, "condensed")
	require.Equal(t, "latest", out[1].Content)
}

func TestPreview_TruncatesAt160Chars(t *testing.T) {
	short := "hello"
	require.Equal(t, short, preview(short))

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	require.Len(t, preview(string(long)), 160)
}
