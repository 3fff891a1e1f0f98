package proxy

import (
	"io"
	"net/http"
	"strings"

	"github.com/relayforge/switchboard/internal/sse"
	"github.com/relayforge/switchboard/internal/types"
)

// handleAnthropicMessages serves POST /v1/messages.
func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	s.handleProxy(w, r, types.DialectAnthropic)
}

func (s *Server) streamAnthropic(w http.ResponseWriter, r *http.Request, proc *processed, body io.ReadCloser) sse.Result {
	writeSSEHeaders(w, http.StatusOK)
	return sse.TranslateAnthropic(r.Context(), w, body, sse.Options{
		Model:         s.publicModel(proc),
		CorrelationID: proc.CorrelationID,
	})
}

func isAnthropicRequest(r *http.Request) bool {
	return strings.TrimSpace(r.Header.Get("anthropic-version")) != "" ||
		strings.TrimSpace(r.Header.Get("anthropic-beta")) != ""
}

func (s *Server) handleListModelsAnthropic(w http.ResponseWriter, r *http.Request) {
	aliases := s.router.Aliases()
	data := make([]types.AnthropicModel, 0, len(aliases))
	for _, alias := range aliases {
		data = append(data, types.AnthropicModel{ID: alias, Type: "model", DisplayName: alias})
	}
	writeJSON(w, http.StatusOK, types.AnthropicModelListResponse{Data: data, HasMore: false})
}
