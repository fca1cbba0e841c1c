package contextassembler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"branchline/internal/graph"
	"branchline/internal/store"
)

type fakeNodes struct {
	byID map[string]graph.Node
}

func (f *fakeNodes) Get(_ context.Context, id string) (graph.Node, error) {
	n, ok := f.byID[id]
	if !ok {
		return graph.Node{}, store.NotFound("node.get", nil)
	}
	return n, nil
}

type fakeMessages struct {
	byNode map[string][]graph.Message
}

func (f *fakeMessages) ListByNode(_ context.Context, nodeID string) ([]graph.Message, error) {
	return f.byNode[nodeID], nil
}

func (f *fakeMessages) ListByNodes(_ context.Context, nodeIDs []string) ([]graph.Message, error) {
	var out []graph.Message
	for _, id := range nodeIDs {
		out = append(out, f.byNode[id]...)
	}
	return out, nil
}

func msg(id, nodeID, content string, ts time.Time) graph.Message {
	return graph.Message{ID: id, NodeID: nodeID, Role: graph.RoleUser, Content: content, Timestamp: ts}
}

func TestAssemble_WalksAncestorsAndStopsAtSummary(t *testing.T) {
	t0 := time.Now()
	nodes := &fakeNodes{byID: map[string]graph.Node{
		"root":  {ID: "root", Type: graph.NodeRoot},
		"mid":   {ID: "mid", Type: graph.NodeSummary, IsSummary: true, ParentID: strPtr("root")},
		"child": {ID: "child", Type: graph.NodeMain, ParentID: strPtr("mid")},
	}}
	messages := &fakeMessages{byNode: map[string][]graph.Message{
		"root":  {msg("m1", "root", "hello", t0)},
		"mid":   {msg("m2", "mid", "summary text", t0.Add(time.Minute))},
		"child": {msg("m3", "child", "latest", t0.Add(2 * time.Minute))},
	}}

	a := &Assembler{nodes: nodes, messages: messages}
	hist, err := a.Assemble(context.Background(), "child", true)
	require.NoError(t, err)
	require.True(t, hist.IsSummarized)

	var ids []string
	for _, m := range hist.Messages {
		ids = append(ids, m.ID)
	}
	// Walk stops (inclusive) at the summary node "mid"; "root" is never reached.
	require.ElementsMatch(t, []string{"m2", "m3"}, ids)
}

func TestAssemble_ReferenceNodeMergesParentAndSources(t *testing.T) {
	t0 := time.Now()
	nodes := &fakeNodes{byID: map[string]graph.Node{
		"root": {ID: "root", Type: graph.NodeRoot},
		"src":  {ID: "src", Type: graph.NodeMain, ParentID: strPtr("root")},
		"ref":  {ID: "ref", Type: graph.NodeReference, ParentID: strPtr("root"), SourceNodeIDs: []string{"src"}},
	}}
	messages := &fakeMessages{byNode: map[string][]graph.Message{
		"root": {msg("m1", "root", "root msg", t0)},
		"src":  {msg("m2", "src", "source msg", t0.Add(time.Minute))},
		"ref":  {msg("m3", "ref", "reference msg", t0.Add(2 * time.Minute))},
	}}

	a := &Assembler{nodes: nodes, messages: messages}
	hist, err := a.Assemble(context.Background(), "ref", true)
	require.NoError(t, err)

	var ids []string
	for _, m := range hist.Messages {
		ids = append(ids, m.ID)
	}
	require.ElementsMatch(t, []string{"m1", "m2", "m3"}, ids)
}

func TestAssemble_DedupesAndOrdersChronologically(t *testing.T) {
	t0 := time.Now()
	nodes := &fakeNodes{byID: map[string]graph.Node{
		"a": {ID: "a", Type: graph.NodeMain},
	}}
	messages := &fakeMessages{byNode: map[string][]graph.Message{
		"a": {msg("m2", "a", "second", t0.Add(time.Minute)), msg("m1", "a", "first", t0)},
	}}

	a := &Assembler{nodes: nodes, messages: messages}
	hist, err := a.Assemble(context.Background(), "a", false)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 2)
	require.Equal(t, "m1", hist.Messages[0].ID)
	require.Equal(t, "m2", hist.Messages[1].ID)
}

func TestTotalTokens_WordSplitHeuristic(t *testing.T) {
	messages := []graph.Message{{Content: "one two three four"}}
	require.Equal(t, 6, totalTokens(messages)) // 4 words * 1.5 = 6
}

func strPtr(s string) *string { return &s }
