package branch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"branchline/internal/graph"
	"branchline/internal/llm"
)

type fakeProvider struct {
	branches []llm.Branch
	err      error
}

func (f *fakeProvider) Chat(context.Context, []llm.Message, float64) (llm.ChatResult, error) {
	return llm.ChatResult{}, nil
}
func (f *fakeProvider) Stream(context.Context, []llm.Message, float64, llm.StreamFunc) (string, error) {
	return "", nil
}
func (f *fakeProvider) Summarise(context.Context, []string, string) (llm.SummaryResult, error) {
	return llm.SummaryResult{}, nil
}
func (f *fakeProvider) AnalyzeBranches(context.Context, []llm.Message, float64) ([]llm.Branch, error) {
	return f.branches, f.err
}

type fakeRecCreator struct {
	received []graph.Recommendation
}

func (f *fakeRecCreator) CreateBatch(_ context.Context, recs []graph.Recommendation) ([]graph.Recommendation, error) {
	f.received = recs
	return recs, nil
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestAnalyze_NoBranches_ReturnsNilWithoutTouchingStore(t *testing.T) {
	a := &Analyzer{recommendations: nil, provider: &fakeProvider{branches: nil}}
	recs, err := a.Analyze(context.Background(), "s1", "n1", "m1", nil, 0.7)
	require.NoError(t, err)
	require.Nil(t, recs)
}

func TestAnalyze_FillsDefaultsAndTruncatesToThree(t *testing.T) {
	creator := &fakeRecCreator{}
	a := &Analyzer{recommendations: creator, provider: &fakeProvider{branches: []llm.Branch{
		{Title: "this title is definitely over twenty characters", Description: "d1", Type: "topic"},
		{Title: "two", Description: "d2", Type: "topic", Priority: floatPtr(0.42), EstimatedDepth: intPtr(5)},
		{Title: "three", Description: "d3", Type: "topic"},
		{Title: "four", Description: "d4", Type: "topic"},
	}}}

	recs, err := a.Analyze(context.Background(), "s1", "n1", "m1", nil, 0.7)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	require.Equal(t, 0.8, recs[0].Priority)
	require.Equal(t, 3, recs[0].EstimatedDepth)
	require.Len(t, recs[0].EdgeLabel, 20)

	require.Equal(t, 0.42, recs[1].Priority)
	require.Equal(t, 5, recs[1].EstimatedDepth)

	require.Equal(t, 0.8-0.1*2, recs[2].Priority)
	require.Equal(t, creator.received, recs)
}

func TestAnalyze_ProviderError_Propagates(t *testing.T) {
	a := &Analyzer{recommendations: &fakeRecCreator{}, provider: &fakeProvider{err: context.DeadlineExceeded}}
	_, err := a.Analyze(context.Background(), "s1", "n1", "m1", nil, 0.7)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
