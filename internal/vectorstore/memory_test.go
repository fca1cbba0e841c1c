package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_SimilaritySearch_OrdersByDescendingScore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, "same", []float32{1, 0, 0}))
	require.NoError(t, m.Upsert(ctx, "opposite", []float32{-1, 0, 0}))
	require.NoError(t, m.Upsert(ctx, "orthogonal", []float32{0, 1, 0}))

	results, err := m.SimilaritySearch(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "same", results[0].ID)
	require.InDelta(t, 1.0, results[0].Score, 1e-9)
	require.Equal(t, "opposite", results[2].ID)
	require.InDelta(t, -1.0, results[2].Score, 1e-9)
}

func TestMemory_SimilaritySearch_RespectsK(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.Upsert(ctx, id, []float32{1, 0}))
	}

	results, err := m.SimilaritySearch(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestMemory_SimilaritySearch_DefaultsKWhenNonPositive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.Upsert(ctx, id, []float32{1, 0}))
	}

	results, err := m.SimilaritySearch(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestMemory_Delete_RemovesVector(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Upsert(ctx, "a", []float32{1, 0}))
	require.NoError(t, m.Delete(ctx, "a"))

	results, err := m.SimilaritySearch(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestMemory_SimilaritySearch_ZeroVectorScoresZero(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Upsert(ctx, "zero", []float32{0, 0, 0}))

	results, err := m.SimilaritySearch(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 0.0, results[0].Score)
}
