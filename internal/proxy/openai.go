package proxy

import (
	"io"
	"net/http"
	"time"

	"github.com/relayforge/switchboard/internal/sse"
	"github.com/relayforge/switchboard/internal/types"
)

// handleChatCompletions serves POST /v1/chat/completions.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.handleProxy(w, r, types.DialectChat)
}

// handleCompletions serves the legacy POST /v1/completions surface. The
// prompt is folded into a one-message chat request during normalization, so
// the rest of the pipeline is identical.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	s.handleProxy(w, r, types.DialectChat)
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, proc *processed, body io.ReadCloser) sse.Result {
	writeSSEHeaders(w, http.StatusOK)
	return sse.TranslateChat(r.Context(), w, body, sse.Options{
		Model:         proc.Normalized.Model(),
		Created:       time.Now().Unix(),
		CorrelationID: proc.CorrelationID,
		IncludeUsage:  includeUsage(proc.Normalized),
	})
}

func includeUsage(req *types.NormalizedRequest) bool {
	return req.Chat != nil && req.Chat.StreamOptions != nil && req.Chat.StreamOptions.IncludeUsage
}

// handleListModels serves GET /v1/models in the envelope the caller expects.
// Anthropic SDKs identify themselves with an anthropic-version header.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if isAnthropicRequest(r) {
		s.handleListModelsAnthropic(w, r)
		return
	}
	aliases := s.router.Aliases()
	data := make([]types.ModelObject, 0, len(aliases))
	for _, alias := range aliases {
		data = append(data, types.ModelObject{ID: alias, Object: "model", OwnedBy: "switchboard"})
	}
	writeJSON(w, http.StatusOK, types.ModelList{Object: "list", Data: data})
}
