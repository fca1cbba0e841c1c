package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"branchline/internal/chatpipeline"
	"branchline/internal/config"
)

func TestNewClickHouseSink_EmptyDSNDisablesRecording(t *testing.T) {
	sink, err := NewClickHouseSink(context.Background(), config.ClickHouseConfig{})
	require.NoError(t, err)
	require.Nil(t, sink)
}

func TestClickHouseSink_NilReceiverIsSafe(t *testing.T) {
	var sink *ClickHouseSink
	require.NotPanics(t, func() {
		sink.RecordTurn(context.Background(), chatpipeline.TurnRecord{SessionID: "s1"})
	})
	require.NoError(t, sink.Close())
}

func TestBoolToUint8(t *testing.T) {
	require.Equal(t, uint8(1), boolToUint8(true))
	require.Equal(t, uint8(0), boolToUint8(false))
}
