// Package hub implements the SessionHub: per-session fan-out of streaming
// tokens and graph-mutation events to every connected client, with a
// per-operation ordering guarantee. Delivery goes through per-connection
// writer goroutines so a slow client never blocks the rest of a room.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is a server→client frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Sink is a single connected client. internal/wsapi implements this over a
// *websocket.Conn; tests implement it over a channel.
type Sink interface {
	// Send enqueues event for delivery; it must not block the caller
	// longer than it takes to enqueue.
	Send(event Event) error
	ID() string
}

// room holds the sinks connected to one session. It has no queue of its
// own: a broadcast hands the event to each sink's Send in turn, and each
// sink's own outbound queue keeps the events it receives in order.
type room struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

func newRoom() *room {
	return &room{sinks: map[string]Sink{}}
}

// Hub is the per-process SessionHub. sessions is the only mutable shared
// state; all access goes through Hub's methods.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*room
	backend  Backend
}

// Backend fans events out to other instances of this server sharing a
// session. nil disables
// cross-instance fan-out; broadcasts still reach every locally-connected
// sink.
type Backend interface {
	Publish(sessionID string, event Event)
	Subscribe(deliver func(sessionID string, event Event)) error
}

func New(backend Backend) *Hub {
	h := &Hub{sessions: map[string]*room{}, backend: backend}
	if backend != nil {
		go func() {
			deliver := func(sessionID string, event Event) { h.deliverLocal(sessionID, event, nil) }
			if err := backend.Subscribe(deliver); err != nil {
				log.Error().Err(err).Msg("hub: redis subscribe failed, running single-instance")
			}
		}()
	}
	return h
}

func (h *Hub) roomFor(sessionID string, create bool) *room {
	h.mu.RLock()
	r, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if ok || !create {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.sessions[sessionID]; ok {
		return r
	}
	r = newRoom()
	h.sessions[sessionID] = r
	return r
}

// Connect registers sink in sessionID's room and sends it a connection
// confirmation event on that sink only.
func (h *Hub) Connect(sessionID string, sink Sink) {
	r := h.roomFor(sessionID, true)
	r.mu.Lock()
	r.sinks[sink.ID()] = sink
	r.mu.Unlock()

	_ = sink.Send(Event{Type: "connection", Data: map[string]any{"message": "connected", "session_id": sessionID}})
}

// Disconnect removes sink from sessionID's room; idempotent.
func (h *Hub) Disconnect(sessionID string, sink Sink) {
	r := h.roomFor(sessionID, false)
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.sinks, sink.ID())
	empty := len(r.sinks) == 0
	r.mu.Unlock()

	if empty {
		h.mu.Lock()
		if cur, ok := h.sessions[sessionID]; ok && cur == r {
			delete(h.sessions, sessionID)
		}
		h.mu.Unlock()
	}
}

// Broadcast serialises event to every sink in sessionID's room except
// exclude. A send failure removes the offending sink and continues with
// the rest.
func (h *Hub) Broadcast(sessionID string, eventType string, payload any, exclude Sink) {
	h.deliverLocal(sessionID, Event{Type: eventType, Data: jsonSerializable(payload)}, exclude)
	if h.backend != nil {
		h.backend.Publish(sessionID, Event{Type: eventType, Data: jsonSerializable(payload)})
	}
}

// deliverLocal fans event out to every locally-connected sink in
// sessionID's room except exclude (nil excludes nothing — used for events
// arriving from another instance via Backend.Subscribe, which have no
// local originating sink to skip).
func (h *Hub) deliverLocal(sessionID string, event Event, exclude Sink) {
	r := h.roomFor(sessionID, false)
	if r == nil {
		return
	}
	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		if exclude != nil && s.ID() == exclude.ID() {
			continue
		}
		sinks = append(sinks, s)
	}
	r.mu.RUnlock()

	var dead []string
	for _, s := range sinks {
		if err := s.Send(event); err != nil {
			dead = append(dead, s.ID())
		}
	}
	if len(dead) == 0 {
		return
	}
	r.mu.Lock()
	for _, id := range dead {
		delete(r.sinks, id)
	}
	r.mu.Unlock()
}

// Send delivers event to sink only.
func (h *Hub) Send(sink Sink, eventType string, payload any) {
	_ = sink.Send(Event{Type: eventType, Data: jsonSerializable(payload)})
}

// SendError delivers an error event to sink only.
func (h *Hub) SendError(sink Sink, message string) {
	_ = sink.Send(Event{Type: "error", Data: map[string]any{"message": message}})
}

// Pong answers a client ping on the same sink only.
func (h *Hub) Pong(sink Sink) {
	_ = sink.Send(Event{Type: "pong", Data: map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339Nano)}})
}

// jsonSerializable coerces payload through a JSON round trip so
// time.Time fields render as ISO-8601 the way connection_manager.py's
// json_serializable helper coerces datetimes, and so unexported struct
// fields never leak onto the wire.
func jsonSerializable(payload any) any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return payload
	}
	return out
}
