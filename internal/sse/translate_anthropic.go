package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relayforge/switchboard/internal/redact"
	"github.com/relayforge/switchboard/internal/stream"
	"github.com/relayforge/switchboard/internal/transform"
	"github.com/relayforge/switchboard/internal/types"
)

// TranslateAnthropic converts upstream response chunks into Messages API SSE.
// All streamed text flows through a single text block at index 0.
func TranslateAnthropic(ctx context.Context, w http.ResponseWriter, body io.ReadCloser, opts Options) Result {
	defer body.Close()

	t := &anthropicTranslator{w: w, opts: opts, messageID: "msg_stream"}
	if f, ok := w.(http.Flusher); ok {
		t.flusher = f
	}
	return t.run(ctx, body)
}

type anthropicTranslator struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opts    Options

	phase      phase
	messageID  string
	upstreamID string
	blockOpen  bool
	snapshot   strings.Builder
	usage      *types.ResponsesUsage
	stopHint   string
	failMsg    string
}

func (t *anthropicTranslator) run(ctx context.Context, body io.Reader) Result {
	if t.flusher == nil {
		return t.result(OutcomeInterrupted)
	}

	reader := stream.NewReader(body)
	for {
		data, err := reader.Next()
		if err != nil {
			break
		}
		chunk, err := stream.DecodeChunk(data)
		if err != nil {
			slog.Debug("sse.chunk.dropped",
				"correlation_id", t.opts.CorrelationID, "reason", err)
			continue
		}

		t.messageID = chunk.ID
		t.upstreamID = chunk.ID
		if chunk.Usage != nil {
			t.usage = stream.NormalizeUsage(chunk.Usage)
		}
		if chunk.StopReason != "" {
			t.stopHint = chunk.StopReason
		}

		if chunk.HasError() {
			t.fail(chunk.Error.Message)
			return t.result(OutcomeErrored)
		}
		if text := chunk.Text(); text != "" {
			t.delta(text)
		}
		if chunk.IsTerminal() {
			t.finish(phaseCompleted)
			return t.result(OutcomeCompleted)
		}
	}

	// The upstream body ended without a terminal chunk, or client
	// cancellation tore down the upstream read. Close out best-effort.
	outcome := OutcomeInterrupted
	to := phaseCompleted
	if ctx.Err() != nil {
		outcome = OutcomeCancelled
		to = phaseCancelled
	}
	slog.Debug("sse.stream.truncated",
		"correlation_id", t.opts.CorrelationID, "outcome", outcome.String())
	t.finish(to)
	return t.result(outcome)
}

// open emits message_start and content_block_start(0) once.
func (t *anthropicTranslator) open() {
	if t.phase != phaseInitial {
		return
	}
	t.phase = phaseOpened
	t.writeEvent("message_start", map[string]any{
		"type": "message_start",
		"message": types.AnthropicMessageResponse{
			ID:           t.messageID,
			Type:         "message",
			Role:         "assistant",
			Model:        t.opts.Model,
			Content:      []types.AnthropicContentOut{},
			StopReason:   nil,
			StopSequence: nil,
			Usage:        types.AnthropicUsage{},
		},
	})
	t.writeEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         0,
		"content_block": types.AnthropicContentOut{Type: "text", Text: ""},
	})
	t.blockOpen = true
}

func (t *anthropicTranslator) delta(text string) {
	t.open()
	if t.phase == phaseOpened {
		t.phase = phaseStreaming
	}
	clean := redact.Text(text)
	if t.snapshot.Len() < snapshotCap {
		t.snapshot.WriteString(clean)
	}
	t.writeEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]any{"type": "text_delta", "text": clean},
	})
}

func (t *anthropicTranslator) closeBlock() {
	if !t.blockOpen {
		return
	}
	t.blockOpen = false
	t.writeEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": 0,
	})
}

// finish closes the text block and emits message_delta plus the message_stop
// terminal frame.
func (t *anthropicTranslator) finish(to phase) {
	if t.phase.terminal() {
		return
	}
	t.open()
	t.closeBlock()
	var usage types.AnthropicUsage
	if t.usage != nil {
		usage = types.AnthropicUsage{
			InputTokens:  t.usage.PromptTokens,
			OutputTokens: t.usage.CompletionTokens,
		}
	}
	t.writeEvent("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   transform.AnthropicStopReason(t.stopHint),
			"stop_sequence": nil,
		},
		"usage": usage,
	})
	t.writeEvent("message_stop", map[string]any{"type": "message_stop"})
	t.phase = to
}

// fail closes the text block and emits the error event, which is the
// stream's terminal frame.
func (t *anthropicTranslator) fail(message string) {
	if t.phase.terminal() {
		return
	}
	t.open()
	t.closeBlock()
	message = strings.TrimSpace(message)
	if message == "" {
		message = "upstream stream failed"
	}
	t.failMsg = message
	t.writeEvent("error", types.AnthropicErrorResponse{
		Type: "error",
		Error: types.AnthropicErrorBody{
			Type:          "api_error",
			Message:       redact.Text(message),
			CorrelationID: t.opts.CorrelationID,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		},
	})
	t.phase = phaseErrored
}

func (t *anthropicTranslator) writeEvent(event string, payload any) {
	if t.phase.terminal() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(t.w, "event: %s\n", event)
	fmt.Fprintf(t.w, "data: %s\n\n", data)
	t.flusher.Flush()
}

func (t *anthropicTranslator) result(outcome Outcome) Result {
	resp := &types.ResponsesResponse{
		ID:         t.upstreamID,
		Object:     "response",
		Usage:      t.usage,
		StopReason: t.stopHint,
	}
	if t.snapshot.Len() > 0 {
		resp.Output = []types.ResponsesOutputItem{{Type: "text", Text: t.snapshot.String()}}
	}
	if t.failMsg != "" {
		resp.Error = &types.ResponsesError{Type: "api_error", Message: t.failMsg}
	}
	return Result{Outcome: outcome, Response: resp}
}
