package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"branchline/internal/graph"
)

type sessionWithRoot struct {
	graph.Session
	RootNode graph.Node `json:"root_node"`
}

func (s *Server) sessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var userID *string
		if v := r.URL.Query().Get("user_id"); v != "" {
			userID = &v
		}
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		sessions, err := s.Sessions.List(r.Context(), userID, skip, limit)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)

	case http.MethodPost:
		var req struct {
			Title    string         `json:"title"`
			UserID   *string        `json:"user_id"`
			Metadata map[string]any `json:"metadata"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		session, root, err := s.Sessions.Create(r.Context(), req.Title, req.UserID, req.Metadata)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionWithRoot{Session: session, RootNode: root})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) sessionsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	id := segments[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	if len(segments) == 2 && segments[1] == "with-nodes" {
		s.sessionWithNodes(w, r, id)
		return
	}
	if len(segments) == 2 && segments[1] == "nodes" {
		s.sessionNodes(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		session, err := s.Sessions.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)

	case http.MethodPatch, http.MethodPut:
		var patch graph.SessionPatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		session, err := s.Sessions.Update(r.Context(), id, patch)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)

	case http.MethodDelete:
		if err := s.Sessions.Delete(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) sessionWithNodes(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	session, err := s.Sessions.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	nodes, err := s.Nodes.Descendants(r.Context(), *session.RootNodeID, nil)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	root, err := s.Nodes.Get(r.Context(), *session.RootNodeID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"nodes":   append([]graph.Node{root}, nodes...),
	})
}

func (s *Server) sessionNodes(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		session, err := s.Sessions.Get(r.Context(), sessionID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		nodes, err := s.Nodes.Descendants(r.Context(), *session.RootNodeID, nil)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nodes)

	case http.MethodPost:
		var req struct {
			ParentID *string        `json:"parent_id"`
			Type     graph.NodeType `json:"type"`
			Title    string         `json:"title"`
			Content  string         `json:"content"`
			Metadata map[string]any `json:"metadata"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		node, err := s.Nodes.Create(r.Context(), sessionID, req.ParentID, req.Type, req.Title, req.Content, req.Metadata)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		s.broadcast(node.SessionID, "node_created", map[string]any{"node": node})
		writeJSON(w, http.StatusCreated, node)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
