package httpapi

import (
	"net/http"
	"strings"

	"branchline/internal/graph"
)

func (s *Server) recommendationsCollection(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/recommendations":
		s.createRecommendation(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/recommendations/batch":
		s.createRecommendationBatch(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) createRecommendation(w http.ResponseWriter, r *http.Request) {
	var rec graph.Recommendation
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.Recommendations.Create(r.Context(), rec)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) createRecommendationBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recommendations []graph.Recommendation `json:"recommendations"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.Recommendations.CreateBatch(r.Context(), req.Recommendations)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) recommendationsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/recommendations/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")

	if len(segments) >= 2 && segments[0] == "session" {
		s.recommendationsBySession(w, r, segments[1])
		return
	}
	if len(segments) >= 2 && segments[0] == "node" {
		s.recommendationsByNode(w, r, segments[1])
		return
	}
	if len(segments) >= 2 && segments[0] == "message" {
		s.recommendationsByMessage(w, r, segments[1])
		return
	}

	id := segments[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing recommendation id")
		return
	}

	if len(segments) == 2 && segments[1] == "dismiss" {
		s.dismissRecommendation(w, r, id)
		return
	}
	if len(segments) == 2 && segments[1] == "create-branch" {
		s.createBranchFromRecommendation(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.Recommendations.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) recommendationsBySession(w http.ResponseWriter, r *http.Request, sessionID string) {
	grouped, err := s.Recommendations.ListActiveBySession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grouped)
}

func (s *Server) recommendationsByNode(w http.ResponseWriter, r *http.Request, nodeID string) {
	var status *graph.RecStatus
	if v := r.URL.Query().Get("status"); v != "" {
		rs := graph.RecStatus(v)
		status = &rs
	}
	recs, err := s.Recommendations.ListByNode(r.Context(), nodeID, status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) recommendationsByMessage(w http.ResponseWriter, r *http.Request, messageID string) {
	recs, err := s.Recommendations.ListByMessage(r.Context(), messageID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// createBranchFromRecommendation serves POST
// /api/v1/recommendations/{id}/create-branch?created_branch_id=.
func (s *Server) createBranchFromRecommendation(w http.ResponseWriter, r *http.Request, id string) {
	branchID := r.URL.Query().Get("created_branch_id")
	if branchID == "" {
		writeError(w, http.StatusBadRequest, "created_branch_id query parameter required")
		return
	}
	rec, err := s.Recommendations.MarkCreated(r.Context(), id, branchID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) dismissRecommendation(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.Recommendations.MarkDismissed(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
