package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"branchline/internal/graph"
)

func (s *Server) nodesCollection(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/nodes":
		s.createNode(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/nodes/delete-multiple":
		s.deleteMultiple(w, r, false)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/nodes/delete-multiple/cascade":
		s.deleteMultiple(w, r, true)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/nodes/branch":
		s.createBranch(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/nodes/summary":
		s.createSummaryNode(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/nodes/reference":
		s.createReferenceNode(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string         `json:"session_id"`
		ParentID  *string        `json:"parent_id"`
		Type      graph.NodeType `json:"type"`
		Title     string         `json:"title"`
		Content   string         `json:"content"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	node, err := s.Nodes.Create(r.Context(), req.SessionID, req.ParentID, req.Type, req.Title, req.Content, req.Metadata)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.broadcast(node.SessionID, "node_created", map[string]any{"node": node})
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) deleteMultiple(w http.ResponseWriter, r *http.Request, cascade bool) {
	var req struct {
		NodeIDs []string `json:"node_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID := s.sessionOfNodes(r, req.NodeIDs)
	result, err := s.Nodes.Delete(r.Context(), req.NodeIDs, cascade)
	if err != nil && len(result.Deleted) == 0 {
		writeStoreError(w, err)
		return
	}
	if len(result.Deleted) > 0 {
		s.broadcast(sessionID, "nodes_deleted", result)
	}
	writeJSON(w, http.StatusOK, result)
}

// sessionOfNodes resolves the session owning nodeIDs before they are
// deleted, so the nodes_deleted broadcast can still be routed afterwards.
func (s *Server) sessionOfNodes(r *http.Request, nodeIDs []string) string {
	for _, id := range nodeIDs {
		if node, err := s.Nodes.Get(r.Context(), id); err == nil {
			return node.SessionID
		}
	}
	return ""
}

// createBranch serves POST /api/v1/nodes/branch: create one child node
// under parent_id and, when recommendation_id is given, mark that
// recommendation created with the new node's id.
func (s *Server) createBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecommendationID string         `json:"recommendation_id"`
		SessionID        string         `json:"session_id"`
		ParentID         string         `json:"parent_id"`
		Title            string         `json:"title"`
		Content          string         `json:"content"`
		Type             graph.NodeType `json:"type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = graph.NodeExploration
	}
	node, err := s.Nodes.Create(r.Context(), req.SessionID, &req.ParentID, req.Type, req.Title, req.Content, nil)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if req.RecommendationID != "" {
		if _, err := s.Recommendations.MarkCreated(r.Context(), req.RecommendationID, node.ID); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	s.broadcast(node.SessionID, "node_created", map[string]any{"node": node})
	writeJSON(w, http.StatusCreated, node)
}

// createSummaryNode goes through the SummaryEngine rather than the bare
// repository: the response carries the placeholder with is_generating=true
// and the LLM fill runs in the background.
func (s *Server) createSummaryNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID    string   `json:"session_id"`
		NodeIDs      []string `json:"node_ids"`
		SourceIDs    []string `json:"source_node_ids"`
		Instructions string   `json:"instructions"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sourceIDs := req.NodeIDs
	if len(sourceIDs) == 0 {
		sourceIDs = req.SourceIDs
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.sessionOfNodes(r, sourceIDs)
	}
	node, err := s.Summaries.CreateSummary(r.Context(), sessionID, sourceIDs, req.Instructions)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.broadcast(node.SessionID, "node_created", map[string]any{"node": node})
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) createReferenceNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string   `json:"session_id"`
		ParentID  string   `json:"parent_id"`
		SourceIDs []string `json:"source_node_ids"`
		Title     string   `json:"title"`
		Content   string   `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	node, err := s.Nodes.CreateReference(r.Context(), req.SessionID, req.ParentID, req.SourceIDs, req.Title, req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.broadcast(node.SessionID, "node_created", map[string]any{"node": node})
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) nodesItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/nodes/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	id := segments[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing node id")
		return
	}
	action := ""
	if len(segments) > 1 {
		action = segments[1]
	}

	switch action {
	case "":
		s.nodeRoot(w, r, id)
	case "cascade":
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.deleteOne(w, r, id, true)
	case "tree", "descendants":
		s.nodeDescendants(w, r, id, segments[2:])
	case "ancestors":
		s.writeList(w, r, func() (any, error) { return s.Nodes.Ancestors(r.Context(), id) })
	case "path":
		s.writeList(w, r, func() (any, error) { return s.Nodes.Path(r.Context(), id) })
	case "relations":
		s.writeList(w, r, func() (any, error) { return s.Nodes.Relations(r.Context(), id) })
	case "tokens":
		s.nodeTokens(w, r, id)
	case "with-messages":
		s.nodeWithMessages(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) nodeRoot(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		node, err := s.Nodes.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, node)

	case http.MethodPatch:
		var patch graph.NodePatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		node, err := s.Nodes.Update(r.Context(), id, patch)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		s.broadcast(node.SessionID, "node_updated", map[string]any{"node": node})
		writeJSON(w, http.StatusOK, node)

	case http.MethodDelete:
		s.deleteOne(w, r, id, false)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// deleteOne serves the single-node DELETE variants, which reply 204 on
// success; the batch delete-multiple endpoints return the full
// DeleteResult instead so partial success stays visible.
func (s *Server) deleteOne(w http.ResponseWriter, r *http.Request, id string, cascade bool) {
	sessionID := s.sessionOfNodes(r, []string{id})
	result, err := s.Nodes.Delete(r.Context(), []string{id}, cascade)
	if err != nil && len(result.Deleted) == 0 {
		writeStoreError(w, err)
		return
	}
	if len(result.Deleted) > 0 {
		s.broadcast(sessionID, "nodes_deleted", result)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) nodeDescendants(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	var maxDepth *int
	if len(rest) == 2 && rest[0] == "depth" {
		if d, err := strconv.Atoi(rest[1]); err == nil {
			maxDepth = &d
		}
	}
	nodes, err := s.Nodes.Descendants(r.Context(), id, maxDepth)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) nodeTokens(w http.ResponseWriter, r *http.Request, id string) {
	node, err := s.Nodes.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"token_count": node.TokenCount})
}

func (s *Server) nodeWithMessages(w http.ResponseWriter, r *http.Request, id string) {
	node, err := s.Nodes.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	messages, err := s.Messages.ListByNode(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": node, "messages": messages})
}

func (s *Server) writeList(w http.ResponseWriter, r *http.Request, fn func() (any, error)) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	result, err := fn()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
