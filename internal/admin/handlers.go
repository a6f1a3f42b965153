package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relaykit/relay/internal/history"
	"github.com/relaykit/relay/internal/stats"
)

// Server holds the dependencies needed by the admin handlers.
type Server struct {
	store    HistoryStore // nil when no archive backend is configured
	counters *stats.Counters
}

// NewServer creates a Server. store may be nil; the history endpoint then
// reports that no archive is configured.
func NewServer(store HistoryStore, counters *stats.Counters) *Server {
	return &Server{store: store, counters: counters}
}

// writeError writes a JSON error response with the given HTTP status code.
// The response body is {"error": "<message>"}.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes v as a JSON response body with HTTP 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealthz responds to GET /healthz.
//
// This endpoint does not require authentication and returns HTTP 200 with a
// simple JSON body so load balancers and orchestrators can verify liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleGetRoomMessages responds to GET /api/v1/rooms/{room}/messages.
//
// Supported query parameters:
//
//	limit – maximum number of messages (default 100, max 1000)
//
// Returns HTTP 400 on a malformed limit, HTTP 503 when no archive backend
// is configured, and HTTP 200 with a JSON array of messages (oldest first)
// on success.
func (s *Server) handleGetRoomMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no history backend configured")
		return
	}

	room := chi.URLParam(r, "room")

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	msgs, err := s.store.RecentMessages(r.Context(), room, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if msgs == nil {
		msgs = []history.Message{}
	}
	writeJSON(w, msgs)
}

// handleGetStats responds to GET /api/v1/stats with the live counters.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.counters.Snapshot())
}
