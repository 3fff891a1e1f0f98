package proxy

import (
	"net/http"
	"time"

	"github.com/relayforge/switchboard/internal/breaker"
	"github.com/relayforge/switchboard/internal/conversation"
	"github.com/relayforge/switchboard/internal/limits"
)

type healthResponse struct {
	Status        string             `json:"status"`
	Environment   string             `json:"environment"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Providers     []breaker.Snapshot `json:"providers"`
	Conversations conversation.Stats `json:"conversations"`
	RateLimits    []limits.Snapshot  `json:"rate_limits,omitempty"`
}

// handleHealth reports liveness plus the operational state of every provider
// breaker, the conversation store, and the last seen upstream rate limits.
// Degraded means at least one provider is fast-failing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snaps := s.breakers.Snapshots()
	status := "ok"
	for _, snap := range snaps {
		if snap.State == "open" {
			status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Environment:   s.Config.Environment,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Providers:     snaps,
		Conversations: s.conversations.Stats(),
		RateLimits:    limits.Current(),
	})
}
