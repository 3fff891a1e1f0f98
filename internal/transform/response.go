package transform

import (
	"time"

	"github.com/relayforge/switchboard/internal/apierr"
	"github.com/relayforge/switchboard/internal/redact"
	"github.com/relayforge/switchboard/internal/types"
)

// Limits bounds an upstream response before it is emitted to the client.
// Zero values disable the corresponding check.
type Limits struct {
	MaxResponseSize     int64
	MaxCompletionLength int
	MaxChoicesCount     int
}

// CheckIntegrity validates an upstream body against the configured limits.
// Violations surface to clients as api_error frames.
func CheckIntegrity(raw []byte, resp *types.ResponsesResponse, lim Limits) error {
	if lim.MaxResponseSize > 0 && int64(len(raw)) > lim.MaxResponseSize {
		return apierr.Newf(apierr.ResponseViolation,
			"upstream response is %d bytes, limit is %d", len(raw), lim.MaxResponseSize)
	}
	if lim.MaxCompletionLength > 0 && len(resp.Text()) > lim.MaxCompletionLength {
		return apierr.Newf(apierr.ResponseViolation,
			"completion is %d bytes, limit is %d", len(resp.Text()), lim.MaxCompletionLength)
	}
	if lim.MaxChoicesCount > 0 {
		choices := 0
		for _, item := range resp.Output {
			if item.Type == "text" {
				choices++
			}
		}
		if choices > lim.MaxChoicesCount {
			return apierr.Newf(apierr.ResponseViolation,
				"upstream returned %d completions, limit is %d", choices, lim.MaxChoicesCount)
		}
	}
	return nil
}

// AnthropicStopReason maps an upstream stop-reason hint to a Messages API
// stop_reason. A completed response with no hint ended its turn.
func AnthropicStopReason(hint string) string {
	switch hint {
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

// ChatFinishReason maps an upstream stop-reason hint to a chat-completions
// finish_reason.
func ChatFinishReason(hint string) string {
	switch hint {
	case "length":
		return "length"
	case "content_filter":
		return "content_filter"
	default:
		return "stop"
	}
}

// ResponsesToAnthropic converts a unary upstream response to the Messages
// API shape. Output text is always a single text block, empty when the
// upstream produced no text items.
func ResponsesToAnthropic(resp *types.ResponsesResponse, publicModel string) *types.AnthropicMessageResponse {
	var usage types.AnthropicUsage
	if resp.Usage != nil {
		usage = types.AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return &types.AnthropicMessageResponse{
		ID:           resp.ID,
		Type:         "message",
		Role:         "assistant",
		Model:        publicModel,
		Content:      []types.AnthropicContentOut{{Type: "text", Text: redact.Text(resp.Text())}},
		StopReason:   types.StringPtr(AnthropicStopReason(resp.StopReason)),
		StopSequence: nil,
		Usage:        usage,
	}
}

// ResponsesToChat converts a unary upstream response to the chat-completions
// shape with a single choice.
func ResponsesToChat(resp *types.ResponsesResponse, publicModel string) *types.ChatCompletionResponse {
	created := resp.Created
	if created == 0 {
		created = time.Now().Unix()
	}
	var usage *types.Usage
	if resp.Usage != nil {
		usage = &types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return &types.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: created,
		Model:   publicModel,
		Choices: []types.ChatChoice{{
			Index: 0,
			Message: types.ChatResponseMsg{
				Role:    "assistant",
				Content: redact.Text(resp.Text()),
			},
			FinishReason: types.StringPtr(ChatFinishReason(resp.StopReason)),
		}},
		Usage: usage,
	}
}
