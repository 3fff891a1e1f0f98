package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/relayforge/switchboard/internal/apierr"
	"github.com/relayforge/switchboard/internal/conversation"
	"github.com/relayforge/switchboard/internal/detect"
	"github.com/relayforge/switchboard/internal/normalize"
	"github.com/relayforge/switchboard/internal/reasoning"
	"github.com/relayforge/switchboard/internal/routing"
	"github.com/relayforge/switchboard/internal/sse"
	"github.com/relayforge/switchboard/internal/stream"
	"github.com/relayforge/switchboard/internal/transform"
	"github.com/relayforge/switchboard/internal/types"
	"github.com/relayforge/switchboard/internal/upstream"
)

// processed carries everything the pipeline derived from one request. Every
// proxying handler runs the same sequence; only response rendering differs
// per dialect.
type processed struct {
	CorrelationID string
	Dialect       types.Dialect
	Normalized    *types.NormalizedRequest
	Decision      routing.Decision
	Key           string
	Plan          conversation.Plan
	Effort        reasoning.Effort
	Upstream      *types.ResponsesRequest
}

// process runs detection, normalization, routing, conversation planning,
// effort analysis, and translation. On error the returned value still carries
// the best dialect guess so the caller can pick the right error envelope.
func (s *Server) process(r *http.Request, body []byte) (*processed, error) {
	proc := &processed{
		CorrelationID: correlationID(r.Context()),
		Dialect:       dialectForPath(r.URL.Path),
	}

	dialect, err := detect.Detect(body, r.URL.Path)
	if err != nil {
		return proc, err
	}
	proc.Dialect = dialect

	norm, err := normalize.Normalize(body, dialect, normalize.Options{
		MaxRequestSize:  s.Config.MaxRequestSize,
		ContentSecurity: s.Config.ContentSecurity,
	})
	if err != nil {
		return proc, err
	}
	proc.Normalized = norm

	decision, err := s.router.Route(norm.Model())
	if err != nil {
		return proc, err
	}
	proc.Decision = decision

	proc.Key = conversation.ExtractKey(r.Header, norm, proc.CorrelationID)
	proc.Plan = s.conversations.Process(norm, proc.Key, proc.CorrelationID)

	hist := &reasoning.History{Complexity: proc.Plan.Complexity}
	if metrics, ok := s.manager.MetricsFor(proc.Key); ok {
		hist.MessageCount = metrics.MessageCount
		hist.TotalTokens = metrics.TotalTokensUsed
	}
	proc.Effort = s.analyzer.Analyze(norm, hist)

	bc := transform.BuildContext{
		BackendModel:    decision.BackendModel,
		ReasoningEffort: proc.Effort,
		Stream:          norm.Stream(),
	}
	if proc.Plan.ShouldUsePrevious {
		bc.PreviousResponseID = proc.Plan.PreviousResponseID
	}
	upReq, err := transform.ToResponsesRequest(norm, bc)
	if err != nil {
		return proc, err
	}
	proc.Upstream = upReq

	slog.Info("request.processed",
		"correlation_id", proc.CorrelationID,
		"dialect", dialect.String(),
		"model", norm.Model(),
		"provider", decision.Provider,
		"backend_model", decision.BackendModel,
		"conversation_key", proc.Key,
		"complexity", proc.Plan.Complexity.String(),
		"effort", proc.Effort.String(),
		"stream", norm.Stream(),
	)
	return proc, nil
}

// handleProxy is the shared skeleton behind every proxying route. surface is
// the dialect implied by the route, used for errors raised before detection.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request, surface types.Dialect) {
	cid := correlationID(r.Context())

	body, err := readLimitedRequestBody(w, r, s.Config.MaxRequestSize)
	if err != nil {
		writeAPIError(w, surface, err, cid)
		return
	}

	proc, err := s.process(r, body)
	if err != nil {
		writeAPIError(w, proc.Dialect, err, cid)
		return
	}

	client, ok := s.upstreams[proc.Decision.Provider]
	if !ok {
		writeAPIError(w, proc.Dialect, apierr.Newf(apierr.Internal, "provider %q is not configured", proc.Decision.Provider), cid)
		return
	}

	if proc.Normalized.Stream() {
		s.respondStreaming(w, r, proc, client)
		return
	}
	s.respondUnary(w, r, proc, client)
}

func (s *Server) respondUnary(w http.ResponseWriter, r *http.Request, proc *processed, client upstreamDoer) {
	start := time.Now()
	upstreamResp, err := s.callUnary(r.Context(), proc, client)
	if err != nil {
		// A breaker rejection never reached the upstream, so it does not
		// count as a conversation turn.
		if apierr.KindOf(err) != apierr.CircuitOpen {
			s.conversations.RecordTurn(proc.Key, proc.Normalized, nil, time.Since(start), proc.CorrelationID)
		}
		writeAPIError(w, proc.Dialect, err, proc.CorrelationID)
		return
	}
	s.conversations.RecordTurn(proc.Key, proc.Normalized, upstreamResp, time.Since(start), proc.CorrelationID)

	switch proc.Dialect {
	case types.DialectAnthropic:
		writeJSON(w, http.StatusOK, transform.ResponsesToAnthropic(upstreamResp, s.publicModel(proc)))
	default:
		writeJSON(w, http.StatusOK, transform.ResponsesToChat(upstreamResp, proc.Normalized.Model()))
	}
}

func (s *Server) respondStreaming(w http.ResponseWriter, r *http.Request, proc *processed, client upstreamDoer) {
	start := time.Now()
	resp, err := s.fetchUpstream(r.Context(), proc, client)
	if err != nil {
		if apierr.KindOf(err) != apierr.CircuitOpen {
			s.conversations.RecordTurn(proc.Key, proc.Normalized, nil, time.Since(start), proc.CorrelationID)
		}
		writeAPIError(w, proc.Dialect, err, proc.CorrelationID)
		return
	}

	if !resp.IsStream {
		// Upstream ignored the stream flag. Degrade to a unary response
		// rather than inventing frames it never sent.
		slog.Warn("upstream.stream.downgraded",
			"correlation_id", proc.CorrelationID,
			"provider", client.Name(),
		)
		upstreamResp, err := s.collectUnary(resp)
		if err != nil {
			s.conversations.RecordTurn(proc.Key, proc.Normalized, nil, time.Since(start), proc.CorrelationID)
			writeAPIError(w, proc.Dialect, err, proc.CorrelationID)
			return
		}
		s.conversations.RecordTurn(proc.Key, proc.Normalized, upstreamResp, time.Since(start), proc.CorrelationID)
		switch proc.Dialect {
		case types.DialectAnthropic:
			writeJSON(w, http.StatusOK, transform.ResponsesToAnthropic(upstreamResp, s.publicModel(proc)))
		default:
			writeJSON(w, http.StatusOK, transform.ResponsesToChat(upstreamResp, proc.Normalized.Model()))
		}
		return
	}

	var result sse.Result
	switch proc.Dialect {
	case types.DialectAnthropic:
		result = s.streamAnthropic(w, r, proc, resp.Body)
	default:
		result = s.streamChat(w, r, proc, resp.Body)
	}

	s.recordStreamTurn(proc, result, time.Since(start))
}

// recordStreamTurn books a finished stream into the conversation. A stream
// that died without even an error frame is recorded as a failed turn.
func (s *Server) recordStreamTurn(proc *processed, result sse.Result, elapsed time.Duration) {
	turn := result.Response
	failed := result.Outcome == sse.OutcomeErrored || result.Outcome == sse.OutcomeInterrupted
	if failed && turn != nil && !turn.HasError() {
		turn = nil
	}
	s.conversations.RecordTurn(proc.Key, proc.Normalized, turn, elapsed, proc.CorrelationID)

	slog.Info("stream.finished",
		"correlation_id", proc.CorrelationID,
		"dialect", proc.Dialect.String(),
		"outcome", result.Outcome.String(),
		"duration_ms", elapsed.Milliseconds(),
	)
}

// callUnary runs the full exchange behind the provider's breaker so embedded
// upstream failures count toward its threshold like transport failures do.
func (s *Server) callUnary(ctx context.Context, proc *processed, client upstreamDoer) (*types.ResponsesResponse, error) {
	upReq := &upstream.Request{Payload: proc.Upstream, CorrelationID: proc.CorrelationID}

	var out *types.ResponsesResponse
	err := s.breakers.For(client.Name()).Execute(ctx, proc.CorrelationID, func(ctx context.Context) error {
		resp, callErr := client.DoWithRetry(ctx, upReq)
		if callErr != nil {
			return callErr
		}
		collected, collectErr := s.collectUnary(resp)
		if collectErr != nil {
			return collectErr
		}
		out = collected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fetchUpstream opens the upstream exchange behind the provider's breaker.
// Only connection establishment is guarded; what happens while relaying a
// stream to the client is not the upstream's failure to count.
func (s *Server) fetchUpstream(ctx context.Context, proc *processed, client upstreamDoer) (*upstream.Response, error) {
	upReq := &upstream.Request{Payload: proc.Upstream, CorrelationID: proc.CorrelationID}

	var resp *upstream.Response
	err := s.breakers.For(client.Name()).Execute(ctx, proc.CorrelationID, func(ctx context.Context) error {
		var callErr error
		resp, callErr = client.DoWithRetry(ctx, upReq)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// collectUnary turns an upstream response into a validated ResponsesResponse.
// Streamed bodies are collected chunk by chunk; JSON bodies are read whole,
// capped one byte over the response limit so the integrity check owns the
// size error.
func (s *Server) collectUnary(resp *upstream.Response) (*types.ResponsesResponse, error) {
	if resp.IsStream {
		collected := stream.Collect(resp.Body)
		if collected == nil {
			return nil, apierr.New(apierr.UpstreamServer, "upstream stream carried no usable response")
		}
		if err := upstreamEmbeddedError(collected); err != nil {
			return nil, err
		}
		if err := transform.CheckIntegrity(nil, collected, s.responseLimits()); err != nil {
			return nil, err
		}
		return collected, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.Config.MaxResponseSize+1))
	resp.Body.Close()
	if err != nil {
		return nil, apierr.Wrap(apierr.Network, err, "failed to read upstream response")
	}
	var parsed types.ResponsesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apierr.Wrap(apierr.UpstreamServer, err, "upstream returned malformed JSON")
	}
	if err := upstreamEmbeddedError(&parsed); err != nil {
		return nil, err
	}
	if err := transform.CheckIntegrity(raw, &parsed, s.responseLimits()); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// upstreamEmbeddedError maps an error carried inside an otherwise successful
// upstream response body.
func upstreamEmbeddedError(resp *types.ResponsesResponse) error {
	if !resp.HasError() {
		return nil
	}
	msg := resp.Error.Message
	if msg == "" {
		msg = "upstream response failed"
	}
	e := apierr.New(apierr.UpstreamServer, msg)
	e.UpstreamType = resp.Error.Type
	return e
}

func (s *Server) responseLimits() transform.Limits {
	return transform.Limits{
		MaxResponseSize:     s.Config.MaxResponseSize,
		MaxCompletionLength: s.Config.MaxCompletionLength,
		MaxChoicesCount:     s.Config.MaxChoicesCount,
	}
}

// publicModel is the label stamped on Messages API responses; chat responses
// always echo the requested alias.
func (s *Server) publicModel(proc *processed) string {
	if s.Config.PublicModelLabel != "" {
		return s.Config.PublicModelLabel
	}
	return proc.Normalized.Model()
}
