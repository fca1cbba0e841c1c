// Package httpapi implements the REST surface over net/http's ServeMux,
// with method dispatch inside one handler per resource.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"branchline/internal/authn"
	"branchline/internal/chatpipeline"
	"branchline/internal/graph"
	"branchline/internal/hub"
	"branchline/internal/store"
	"branchline/internal/summary"
)

// Server wires the graph repositories and the chat pipeline onto HTTP
// handlers. It has no package-level state; every dependency is an injected
// field, and the repositories are the concrete pgx-backed types.
type Server struct {
	Sessions        *graph.SessionRepo
	Nodes           *graph.NodeRepo
	Messages        *graph.MessageRepo
	Recommendations *graph.RecommendationRepo
	Pipeline        *chatpipeline.Pipeline
	Summaries       *summary.Engine
	Hub             *hub.Hub
	Auth            *authn.Verifier
}

// broadcast fans a graph-mutation event out to the session's connected
// clients. A nil hub disables fan-out, which keeps handler tests
// free of hub wiring.
func (s *Server) broadcast(sessionID, eventType string, payload any) {
	if s.Hub == nil || sessionID == "" {
		return
	}
	s.Hub.Broadcast(sessionID, eventType, payload, nil)
}

// Router builds the ServeMux for the full REST surface.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}) })

	mux.HandleFunc("/api/v1/sessions", s.withAuth(s.sessionsCollection))
	mux.HandleFunc("/api/v1/sessions/", s.withAuth(s.sessionsItem))

	mux.HandleFunc("/api/v1/nodes", s.withAuth(s.nodesCollection))
	mux.HandleFunc("/api/v1/nodes/", s.withAuth(s.nodesItem))

	mux.HandleFunc("/api/v1/messages", s.withAuth(s.messagesCollection))
	mux.HandleFunc("/api/v1/messages/", s.withAuth(s.messagesItem))

	mux.HandleFunc("/api/v1/recommendations", s.withAuth(s.recommendationsCollection))
	mux.HandleFunc("/api/v1/recommendations/", s.withAuth(s.recommendationsItem))

	return mux
}

// withAuth enforces the narrow JWT_SECRET bearer contract when auth is
// configured.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Auth != nil && s.Auth.Enabled() {
			if _, err := s.Auth.VerifyRequest(r); err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("httpapi: encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// storeStatus maps a *store.Error's Kind to its HTTP status.
func storeStatus(err error) int {
	switch {
	case store.Is(err, store.KindNotFound):
		return http.StatusNotFound
	case store.Is(err, store.KindConflict):
		return http.StatusConflict
	case store.Is(err, store.KindMalformed):
		return http.StatusBadRequest
	case store.Is(err, store.KindUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	writeError(w, storeStatus(err), err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
