// Package wsapi implements the WebSocket surface: one connection per
// session, upgraded via gorilla/websocket, registered with internal/hub as
// a Sink, and driven by a reader loop dispatching client frames into
// internal/chatpipeline. Each connection splits into a reader loop and a
// writer goroutine draining a buffered outbound queue.
package wsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"branchline/internal/chatpipeline"
	"branchline/internal/graph"
	"branchline/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler serves /ws/session/{session_id}.
type Handler struct {
	Hub      *hub.Hub
	Pipeline *chatpipeline.Pipeline
	Nodes    *graph.NodeRepo
}

// connSink adapts a *websocket.Conn into hub.Sink, serialising writes
// through a single outbound queue so concurrent Broadcast/Send calls never
// interleave frames on the wire.
type connSink struct {
	id   string
	conn *websocket.Conn
	out  chan hub.Event
	once sync.Once
	done chan struct{}
}

func newConnSink(conn *websocket.Conn) *connSink {
	return &connSink{id: uuid.NewString(), conn: conn, out: make(chan hub.Event, 64), done: make(chan struct{})}
}

func (c *connSink) ID() string { return c.id }

func (c *connSink) Send(event hub.Event) error {
	// A closed sink refuses every event, even while its queue has room.
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.out <- event:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		// Drop rather than block when the sink's own queue is saturated;
		// one slow sink must not starve the rest of the room.
		return websocket.ErrCloseSent
	}
}

func (c *connSink) closeOnce() {
	c.once.Do(func() { close(c.done) })
}

func (c *connSink) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case event, ok := <-c.out:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/session/")
	sessionID = strings.Trim(sessionID, "/")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("wsapi: upgrade failed")
		return
	}

	sink := newConnSink(conn)
	h.Hub.Connect(sessionID, sink)
	go sink.writeLoop()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	h.readLoop(r.Context(), sessionID, sink)

	h.Hub.Disconnect(sessionID, sink)
	sink.closeOnce()
}

// clientFrame is a client→server frame: a top-level type with the payload
// nested under data.
type clientFrame struct {
	Type string `json:"type"`
	Data struct {
		NodeID     string          `json:"node_id"`
		Message    string          `json:"message"`
		Stream     *bool           `json:"stream"`
		AutoBranch bool            `json:"auto_branch"`
		Title      string          `json:"title"`
		Patch      json.RawMessage `json:"patch"`
	} `json:"data"`
}

func (h *Handler) readLoop(ctx context.Context, sessionID string, sink *connSink) {
	for {
		_, raw, err := sink.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("wsapi: read error")
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.Hub.SendError(sink, "Invalid message format")
			continue
		}

		switch frame.Type {
		case "chat":
			h.handleChat(ctx, sessionID, frame, sink, false)
		case "create_reference_and_chat":
			h.handleChat(ctx, sessionID, frame, sink, true)
		case "node_update":
			h.handleNodeUpdate(ctx, sessionID, frame, sink)
		case "ping":
			h.Hub.Pong(sink)
		default:
			h.Hub.SendError(sink, "Unknown message type: "+frame.Type)
		}
	}
}

// handleChat runs one ChatPipeline turn, broadcasting every emitted event
// to the whole room so multi-client sessions stay in sync.
// forceReference pre-creates a reference node before the turn when the
// client explicitly asked to branch off mid-conversation rather than
// relying on the pipeline's own has-children check.
func (h *Handler) handleChat(ctx context.Context, sessionID string, frame clientFrame, sink *connSink, forceReference bool) {
	// The turn runs on a context detached from the connection: a client
	// disconnect mid-stream must not abort persisting the assistant
	// message or the branch analysis.
	turnCtx := context.WithoutCancel(ctx)

	nodeID := frame.Data.NodeID
	if forceReference {
		ref, err := h.Nodes.CreateReference(turnCtx, sessionID, nodeID, []string{nodeID}, frame.Data.Title, "")
		if err != nil {
			h.Hub.SendError(sink, "failed to create reference node: "+err.Error())
			return
		}
		h.Hub.Broadcast(sessionID, "reference_node_created", map[string]any{
			"edge": map[string]any{"source": nodeID, "target": ref.ID},
		}, nil)
		nodeID = ref.ID
	}

	stream := true
	if frame.Data.Stream != nil {
		stream = *frame.Data.Stream
	}

	broadcastSink := func(eventType string, payload any) {
		h.Hub.Broadcast(sessionID, eventType, payload, nil)
	}

	if _, err := h.Pipeline.Run(turnCtx, chatpipeline.Input{
		SessionID: sessionID, NodeID: nodeID, Text: frame.Data.Message, AutoBranch: frame.Data.AutoBranch, Stream: stream,
	}, broadcastSink); err != nil {
		h.Hub.SendError(sink, err.Error())
	}
}

// handleNodeUpdate applies a patch to the node and broadcasts the updated
// node to the room so every client's view of the graph stays in sync.
func (h *Handler) handleNodeUpdate(ctx context.Context, sessionID string, frame clientFrame, sink *connSink) {
	var patch graph.NodePatch
	if len(frame.Data.Patch) > 0 {
		if err := json.Unmarshal(frame.Data.Patch, &patch); err != nil {
			h.Hub.SendError(sink, "Invalid message format")
			return
		}
	}
	node, err := h.Nodes.Update(ctx, frame.Data.NodeID, patch)
	if err != nil {
		h.Hub.SendError(sink, err.Error())
		return
	}
	h.Hub.Broadcast(sessionID, "node_updated", map[string]any{"node": node}, nil)
}
