package httpapi

import (
	"net/http"
	"strings"

	"branchline/internal/chatpipeline"
	"branchline/internal/graph"
)

func (s *Server) messagesCollection(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/messages":
		s.createMessage(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/messages/chat":
		s.chatTurn(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/messages/create-branches":
		s.createBranchesFromRecommendations(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID  string     `json:"node_id"`
		Role    graph.Role `json:"role"`
		Content string     `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg, err := s.Messages.Create(r.Context(), req.NodeID, req.Role, req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// chatTurn serves POST /api/v1/messages/chat: a non-streaming
// invocation of the ChatPipeline. The streaming variant is served over
// internal/wsapi instead, since HTTP responses here are not chunked.
func (s *Server) chatTurn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string `json:"session_id"`
		NodeID     string `json:"node_id"`
		Text       string `json:"text"`
		AutoBranch bool   `json:"auto_branch"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var events []map[string]any
	sink := func(eventType string, payload any) {
		events = append(events, map[string]any{"type": eventType, "data": payload})
	}

	result, err := s.Pipeline.Run(r.Context(), chatpipeline.Input{
		SessionID: req.SessionID, NodeID: req.NodeID, Text: req.Text, AutoBranch: req.AutoBranch, Stream: false,
	}, sink)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result, "events": events})
}

func (s *Server) createBranchesFromRecommendations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecommendationIDs []string `json:"recommendation_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var created []graph.Node
	for _, recID := range req.RecommendationIDs {
		rec, err := s.Recommendations.Get(r.Context(), recID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		node, err := s.Nodes.Create(r.Context(), rec.SessionID, &rec.NodeID, graph.NodeExploration, rec.Title, rec.Description, nil)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if _, err := s.Recommendations.MarkCreated(r.Context(), recID, node.ID); err != nil {
			writeStoreError(w, err)
			return
		}
		created = append(created, node)
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) messagesItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/messages/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")

	if len(segments) >= 2 && segments[0] == "node" {
		s.messagesByNode(w, r, segments[1], segments[2:])
		return
	}

	id := segments[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing message id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		msg, err := s.Messages.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)

	case http.MethodDelete:
		if err := s.Messages.Delete(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) messagesByNode(w http.ResponseWriter, r *http.Request, nodeID string, rest []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	messages, err := s.Messages.ListByNode(r.Context(), nodeID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = rest // "paginated"/"all" variants share the same underlying list
	writeJSON(w, http.StatusOK, messages)
}
