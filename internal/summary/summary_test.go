package summary

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"branchline/internal/graph"
	"branchline/internal/hub"
	"branchline/internal/llm"
)

// syncDispatch routes dispatched jobs straight back into ExecuteJob so
// tests observe the fill synchronously.
func syncDispatch(e *Engine) {
	e.dispatch = func(payload []byte) { e.ExecuteJob(context.Background(), payload) }
}

type fakeNodes struct {
	mu      sync.Mutex
	nodes   map[string]graph.Node
	updated []graph.NodePatch
}

func newFakeNodes() *fakeNodes { return &fakeNodes{nodes: map[string]graph.Node{}} }

func (f *fakeNodes) CreateSummary(_ context.Context, sessionID string, sourceIDs []string, title, content string) (graph.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := graph.Node{ID: "summary-1", SessionID: sessionID, Type: graph.NodeSummary, Title: title, Content: content, IsGenerating: true}
	f.nodes[n.ID] = n
	return n, nil
}

func (f *fakeNodes) SetSummaryOutcome(_ context.Context, nodeID, title, content string, summaryContent *string) (graph.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.nodes[nodeID]
	n.Title = title
	n.Content = content
	if summaryContent != nil {
		n.SummaryContent = summaryContent
	}
	n.IsGenerating = false
	f.nodes[nodeID] = n
	return n, nil
}

func (f *fakeNodes) Update(_ context.Context, nodeID string, patch graph.NodePatch) (graph.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.nodes[nodeID]
	if patch.Title != nil {
		n.Title = *patch.Title
	}
	if patch.SummaryContent != nil {
		n.SummaryContent = patch.SummaryContent
	}
	if patch.IsGenerating != nil {
		n.IsGenerating = *patch.IsGenerating
	}
	f.nodes[nodeID] = n
	f.updated = append(f.updated, patch)
	return n, nil
}

func (f *fakeNodes) Get(_ context.Context, id string) (graph.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[id], nil
}

type fakeMessages struct {
	byNode map[string][]graph.Message
}

func (f *fakeMessages) ListByNode(_ context.Context, nodeID string) ([]graph.Message, error) {
	return f.byNode[nodeID], nil
}

type fakeProvider struct {
	summary llm.SummaryResult
	err     error
}

func (f *fakeProvider) Chat(context.Context, []llm.Message, float64) (llm.ChatResult, error) {
	return llm.ChatResult{}, nil
}
func (f *fakeProvider) Stream(context.Context, []llm.Message, float64, llm.StreamFunc) (string, error) {
	return "", nil
}
func (f *fakeProvider) Summarise(context.Context, []string, string) (llm.SummaryResult, error) {
	return f.summary, f.err
}
func (f *fakeProvider) AnalyzeBranches(context.Context, []llm.Message, float64) ([]llm.Branch, error) {
	return nil, nil
}

type fakeSessions struct {
	mu      sync.Mutex
	records []string
}

func (f *fakeSessions) RecordSummary(_ context.Context, sessionID, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, sessionID)
	return nil
}

type fakeHub struct {
	mu       sync.Mutex
	sessions []string
	events   []string
}

func (f *fakeHub) Broadcast(sessionID string, eventType string, _ any, _ hub.Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionID)
	f.events = append(f.events, eventType)
}

func TestCreateSummary_PlaceholderThenSynchronousFill(t *testing.T) {
	nodes := newFakeNodes()
	messages := &fakeMessages{byNode: map[string][]graph.Message{
		"src1": {{Role: graph.RoleUser, Content: "hello"}},
	}}
	provider := &fakeProvider{summary: llm.SummaryResult{Title: "a very long title over twenty", Summary: "the gist"}}
	h := &fakeHub{}
	sessions := &fakeSessions{}

	e := New(nil, nil, nil, provider, h, nil)
	e.nodes, e.messages, e.sessions = nodes, messages, sessions
	syncDispatch(e)

	node, err := e.CreateSummary(context.Background(), "session-1", []string{"src1"}, "")
	require.NoError(t, err)
	require.True(t, node.IsGenerating)

	filled := nodes.nodes[node.ID]
	require.False(t, filled.IsGenerating)
	require.Len(t, filled.Title, 20)
	require.Equal(t, "the gist", filled.Content)
	require.Equal(t, "the gist", *filled.SummaryContent)
	require.Equal(t, []string{"session-1"}, h.sessions)
	require.Equal(t, []string{"summary_completed"}, h.events)
	require.Equal(t, []string{"session-1"}, sessions.records)
}

func TestCreateSummary_ProviderFailure_NeverLeavesIsGeneratingTrue(t *testing.T) {
	nodes := newFakeNodes()
	messages := &fakeMessages{byNode: map[string][]graph.Message{}}
	provider := &fakeProvider{err: context.DeadlineExceeded}

	e := New(nil, nil, nil, provider, &fakeHub{}, nil)
	e.nodes, e.messages = nodes, messages
	syncDispatch(e)

	node, err := e.CreateSummary(context.Background(), "session-1", nil, "")
	require.NoError(t, err)

	filled := nodes.nodes[node.ID]
	require.False(t, filled.IsGenerating)
	require.Equal(t, "Summary failed", filled.Title)
}

func TestMaybeAutoSummarizeParent_SkipsWhenAlreadySummarized(t *testing.T) {
	nodes := newFakeNodes()
	existing := "already summarized"
	nodes.nodes["parent-1"] = graph.Node{ID: "parent-1", SummaryContent: &existing}
	messages := &fakeMessages{}

	e := New(nil, nil, nil, &fakeProvider{}, &fakeHub{}, nil)
	e.nodes, e.messages = nodes, messages
	syncDispatch(e)

	require.False(t, e.MaybeAutoSummarizeParent(context.Background(), "parent-1"))
}

func TestMaybeAutoSummarizeParent_SkipsWhenFewerThanTwoMessages(t *testing.T) {
	nodes := newFakeNodes()
	nodes.nodes["parent-1"] = graph.Node{ID: "parent-1"}
	messages := &fakeMessages{byNode: map[string][]graph.Message{
		"parent-1": {{Content: "only one"}},
	}}

	e := New(nil, nil, nil, &fakeProvider{}, &fakeHub{}, nil)
	e.nodes, e.messages = nodes, messages
	syncDispatch(e)

	require.False(t, e.MaybeAutoSummarizeParent(context.Background(), "parent-1"))
}

func TestExecuteJob_IgnoresMalformedAndUnknownPayloads(t *testing.T) {
	e := New(nil, nil, nil, &fakeProvider{}, &fakeHub{}, nil)
	e.nodes, e.messages = newFakeNodes(), &fakeMessages{}

	require.NotPanics(t, func() {
		e.ExecuteJob(context.Background(), []byte("not json"))
		e.ExecuteJob(context.Background(), []byte(`{"kind":"mystery","node_id":"n1"}`))
	})
}

func TestMaybeAutoSummarizeParent_TriggersFillWhenEligible(t *testing.T) {
	nodes := newFakeNodes()
	nodes.nodes["parent-1"] = graph.Node{ID: "parent-1"}
	messages := &fakeMessages{byNode: map[string][]graph.Message{
		"parent-1": {{Content: "one"}, {Content: "two"}},
	}}
	provider := &fakeProvider{summary: llm.SummaryResult{Summary: "parent gist"}}

	e := New(nil, nil, nil, provider, &fakeHub{}, nil)
	e.nodes, e.messages = nodes, messages
	syncDispatch(e)

	require.True(t, e.MaybeAutoSummarizeParent(context.Background(), "parent-1"))
	require.Equal(t, "parent gist", *nodes.nodes["parent-1"].SummaryContent)
}
