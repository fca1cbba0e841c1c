package wsapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"branchline/internal/hub"
)

func TestClientFrame_DecodesNestedData(t *testing.T) {
	raw := `{"type":"chat","data":{"node_id":"n1","message":"hi","stream":true,"auto_branch":false}}`
	var f clientFrame
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	require.Equal(t, "chat", f.Type)
	require.Equal(t, "n1", f.Data.NodeID)
	require.Equal(t, "hi", f.Data.Message)
	require.NotNil(t, f.Data.Stream)
	require.True(t, *f.Data.Stream)
	require.False(t, f.Data.AutoBranch)
}

func TestClientFrame_StreamDefaultsNilWhenAbsent(t *testing.T) {
	raw := `{"type":"chat","data":{"node_id":"n1","message":"hi"}}`
	var f clientFrame
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	require.Nil(t, f.Data.Stream)
}

func newTestSink(buf int) *connSink {
	return &connSink{id: "sink-1", out: make(chan hub.Event, buf), done: make(chan struct{})}
}

func TestConnSink_SendQueuesEvent(t *testing.T) {
	s := newTestSink(1)
	err := s.Send(hub.Event{Type: "stream_chunk"})
	require.NoError(t, err)
	require.Len(t, s.out, 1)
}

func TestConnSink_SendDropsWhenQueueSaturated(t *testing.T) {
	s := newTestSink(1)
	require.NoError(t, s.Send(hub.Event{Type: "first"}))
	err := s.Send(hub.Event{Type: "second"})
	require.Error(t, err)
}

func TestConnSink_SendAfterCloseErrors(t *testing.T) {
	s := newTestSink(4)
	s.closeOnce()
	err := s.Send(hub.Event{Type: "stream_chunk"})
	require.Error(t, err)
}

func TestConnSink_CloseOnceIsIdempotent(t *testing.T) {
	s := newTestSink(1)
	require.NotPanics(t, func() {
		s.closeOnce()
		s.closeOnce()
	})
}
