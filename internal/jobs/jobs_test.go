package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDispatcher_NoBrokersErrors(t *testing.T) {
	d, err := NewDispatcher(context.Background(), nil, "group", func(context.Context, []byte) {})
	require.Error(t, err)
	require.Nil(t, d)
}

func TestNewDispatcher_NilHandlerErrors(t *testing.T) {
	d, err := NewDispatcher(context.Background(), []string{"localhost:9092"}, "group", nil)
	require.Error(t, err)
	require.Nil(t, d)
}
