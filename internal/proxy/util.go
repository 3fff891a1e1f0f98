package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/relayforge/switchboard/internal/apierr"
	"github.com/relayforge/switchboard/internal/redact"
	"github.com/relayforge/switchboard/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeSSEHeaders(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(status)
}

// writeAPIError renders err in the envelope of the dialect the client speaks.
// Messages pass through redaction like any other outbound text.
func writeAPIError(w http.ResponseWriter, dialect types.Dialect, err error, correlationID string) {
	e := apierr.AsError(err)
	status := e.HTTPStatus()
	message := redact.Text(e.Message)
	timestamp := time.Now().UTC().Format(time.RFC3339)

	slog.Error("request.failed",
		"correlation_id", correlationID,
		"dialect", dialect.String(),
		"kind", string(e.Kind),
		"status", status,
		"error", message,
	)

	if !e.NextAttempt.IsZero() {
		if until := time.Until(e.NextAttempt); until > 0 {
			// Retry-After is whole seconds; round up so a short backoff
			// still tells the client to wait.
			secs := int((until + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}

	if dialect == types.DialectAnthropic {
		writeJSON(w, status, types.AnthropicErrorResponse{
			Type: "error",
			Error: types.AnthropicErrorBody{
				Type:          e.WireType(),
				Message:       message,
				CorrelationID: correlationID,
				Timestamp:     timestamp,
			},
		})
		return
	}
	writeJSON(w, status, types.ErrorResponse{
		Error: types.ErrorDetail{
			Type:          e.WireType(),
			Message:       message,
			CorrelationID: correlationID,
			Timestamp:     timestamp,
		},
	})
}

// readLimitedRequestBody reads the request body capped one byte above the
// configured maximum, so an oversized payload survives the read and fails the
// size check in normalize with the canonical error. Only bodies big enough to
// blow through even that cap are rejected here.
func readLimitedRequestBody(w http.ResponseWriter, r *http.Request, maxSize int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSize+1))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, apierr.Newf(apierr.InvalidRequest, "payload too large: request body exceeds the %d byte limit", maxSize)
		}
		return nil, apierr.Wrap(apierr.InvalidRequest, err, "failed to read request body")
	}
	return body, nil
}
