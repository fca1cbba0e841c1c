package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUUIDGen_NewID_ReturnsDistinctValues(t *testing.T) {
	g := UUIDGen{}
	a := g.NewID()
	b := g.NewID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}

func TestSystemClock_NowReturnsUTC(t *testing.T) {
	now := SystemClock{}.Now()
	require.Equal(t, time.UTC, now.Location())
}
