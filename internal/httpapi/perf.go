package httpapi

import (
	"net/http"

	"github.com/ent0n29/voicedesk/internal/observability"
)

type perfLatencyResponse struct {
	observability.TurnStageSnapshot
	ActiveSessions    int `json:"active_sessions"`
	LiveConversations int `json:"live_conversations"`
}

// handlePerfLatency reports the rolling per-stage turn latencies alongside
// the current load.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	live := len(s.live)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, perfLatencyResponse{
		TurnStageSnapshot: s.metrics.SnapshotTurnStages(),
		ActiveSessions:    s.sessions.ActiveCount(),
		LiveConversations: live,
	})
}
