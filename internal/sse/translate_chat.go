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

// TranslateChat converts upstream response chunks into chat-completions SSE.
func TranslateChat(ctx context.Context, w http.ResponseWriter, body io.ReadCloser, opts Options) Result {
	defer body.Close()

	if opts.Created == 0 {
		opts.Created = time.Now().Unix()
	}
	t := &chatTranslator{w: w, opts: opts, chunkID: "chatcmpl-stream"}
	if f, ok := w.(http.Flusher); ok {
		t.flusher = f
	}
	return t.run(ctx, body)
}

type chatTranslator struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opts    Options

	phase      phase
	chunkID    string
	upstreamID string
	snapshot   strings.Builder
	usage      *types.ResponsesUsage
	stopHint   string
	failMsg    string
}

func (t *chatTranslator) run(ctx context.Context, body io.Reader) Result {
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

		t.chunkID = chunk.ID
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

// open emits the role chunk once.
func (t *chatTranslator) open() {
	if t.phase != phaseInitial {
		return
	}
	t.phase = phaseOpened
	t.writeChunk(t.deltaChunk(types.ChatDelta{Role: "assistant"}, nil))
}

func (t *chatTranslator) delta(text string) {
	t.open()
	if t.phase == phaseOpened {
		t.phase = phaseStreaming
	}
	clean := redact.Text(text)
	if t.snapshot.Len() < snapshotCap {
		t.snapshot.WriteString(clean)
	}
	t.writeChunk(t.deltaChunk(types.ChatDelta{Content: clean}, nil))
}

// finish emits the closing finish_reason chunk, an optional usage chunk, and
// the [DONE] sentinel.
func (t *chatTranslator) finish(to phase) {
	if t.phase.terminal() {
		return
	}
	t.open()
	finish := transform.ChatFinishReason(t.stopHint)
	t.writeChunk(t.deltaChunk(types.ChatDelta{}, types.StringPtr(finish)))
	if t.opts.IncludeUsage && t.usage != nil {
		chunk := t.deltaChunk(types.ChatDelta{}, nil)
		chunk.Usage = &types.Usage{
			PromptTokens:     t.usage.PromptTokens,
			CompletionTokens: t.usage.CompletionTokens,
			TotalTokens:      t.usage.TotalTokens,
		}
		t.writeChunk(chunk)
	}
	fmt.Fprint(t.w, "data: [DONE]\n\n")
	t.flusher.Flush()
	t.phase = to
}

// fail emits the error frame, which is the stream's terminal frame. No
// [DONE] follows an error.
func (t *chatTranslator) fail(message string) {
	if t.phase.terminal() {
		return
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "upstream stream failed"
	}
	t.failMsg = message
	payload := types.ErrorResponse{
		Error: types.ErrorDetail{
			Type:          "api_error",
			Message:       redact.Text(message),
			CorrelationID: t.opts.CorrelationID,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		},
	}
	data, err := json.Marshal(payload)
	if err == nil {
		fmt.Fprintf(t.w, "data: %s\n\n", data)
		t.flusher.Flush()
	}
	t.phase = phaseErrored
}

func (t *chatTranslator) deltaChunk(delta types.ChatDelta, finish *string) types.ChatCompletionChunk {
	return types.ChatCompletionChunk{
		ID:      t.chunkID,
		Object:  "chat.completion.chunk",
		Created: t.opts.Created,
		Model:   t.opts.Model,
		Choices: []types.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func (t *chatTranslator) writeChunk(chunk types.ChatCompletionChunk) {
	if t.phase.terminal() {
		return
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(t.w, "data: %s\n\n", data)
	t.flusher.Flush()
}

func (t *chatTranslator) result(outcome Outcome) Result {
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
