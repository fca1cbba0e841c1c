package hub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	id      string
	mu      sync.Mutex
	events  []Event
	failing bool
}

func (s *fakeSink) ID() string { return s.id }

func (s *fakeSink) Send(event Event) error {
	if s.failing {
		return errors.New("send failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event{}, s.events...)
}

func TestConnect_SendsConnectionEvent(t *testing.T) {
	h := New(nil)
	sink := &fakeSink{id: "a"}
	h.Connect("session-1", sink)

	events := sink.received()
	require.Len(t, events, 1)
	require.Equal(t, "connection", events[0].Type)
}

func TestBroadcast_ExcludesOriginatingSink(t *testing.T) {
	h := New(nil)
	a := &fakeSink{id: "a"}
	b := &fakeSink{id: "b"}
	h.Connect("session-1", a)
	h.Connect("session-1", b)

	h.Broadcast("session-1", "node_update", map[string]string{"node_id": "n1"}, a)

	// a only has its own connection event; b has its connection event plus the broadcast.
	require.Len(t, a.received(), 1)
	bEvents := b.received()
	require.Len(t, bEvents, 2)
	require.Equal(t, "node_update", bEvents[1].Type)
}

func TestBroadcast_EvictsDeadSinkOnSendFailure(t *testing.T) {
	h := New(nil)
	dead := &fakeSink{id: "dead", failing: true}
	alive := &fakeSink{id: "alive"}
	h.Connect("session-1", dead)
	h.Connect("session-1", alive)

	h.Broadcast("session-1", "ping", nil, nil)

	r := h.roomFor("session-1", false)
	require.NotNil(t, r)
	r.mu.RLock()
	_, stillThere := r.sinks["dead"]
	r.mu.RUnlock()
	require.False(t, stillThere, "a sink whose Send failed must be evicted")
}

func TestDisconnect_RemovesEmptyRoom(t *testing.T) {
	h := New(nil)
	sink := &fakeSink{id: "only"}
	h.Connect("session-1", sink)
	h.Disconnect("session-1", sink)

	require.Nil(t, h.roomFor("session-1", false))
}

func TestDisconnect_Idempotent(t *testing.T) {
	h := New(nil)
	sink := &fakeSink{id: "only"}
	h.Connect("session-1", sink)
	h.Disconnect("session-1", sink)
	require.NotPanics(t, func() { h.Disconnect("session-1", sink) })
}
