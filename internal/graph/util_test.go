package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlaceholder_BuildsAssignmentFragment(t *testing.T) {
	require.Equal(t, "title = $3", placeholder("title", 3))
}

func TestItoa(t *testing.T) {
	require.Equal(t, "42", itoa(42))
}
