// Package transform converts between the client dialects and the upstream
// responses-API wire format.
package transform

import (
	"encoding/json"
	"strings"

	"github.com/relayforge/switchboard/internal/apierr"
	"github.com/relayforge/switchboard/internal/reasoning"
	"github.com/relayforge/switchboard/internal/types"
)

// BuildContext carries the routing and continuity decisions that shape an
// upstream request.
type BuildContext struct {
	BackendModel       string
	ReasoningEffort    reasoning.Effort
	PreviousResponseID string
	Stream             bool
}

// ToResponsesRequest builds the upstream request for either client dialect.
func ToResponsesRequest(req *types.NormalizedRequest, bc BuildContext) (*types.ResponsesRequest, error) {
	switch req.Dialect {
	case types.DialectAnthropic:
		return anthropicToResponses(req.Anthropic, bc)
	case types.DialectChat:
		return chatToResponses(req.Chat, bc)
	}
	return nil, apierr.New(apierr.Internal, "unknown request dialect")
}

func anthropicToResponses(req *types.AnthropicMessagesRequest, bc BuildContext) (*types.ResponsesRequest, error) {
	out := &types.ResponsesRequest{
		Model:              bc.BackendModel,
		ReasoningEffort:    bc.ReasoningEffort.String(),
		PreviousResponseID: bc.PreviousResponseID,
		MaxOutputTokens:    req.MaxTokens,
		Temperature:        req.Temperature,
		TopP:               req.TopP,
		Stream:             bc.Stream,
	}

	system, err := types.ParseSystemText(req.System)
	if err != nil {
		return nil, apierr.New(apierr.InvalidRequest, "system must be a string").WithField("system")
	}
	if system != "" {
		out.Input = append(out.Input, types.ResponsesMessage{Role: "system", Content: system})
	}

	for i := range req.Messages {
		msg := &req.Messages[i]
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role == "" {
			continue
		}
		text := msg.TextContent()
		if text == "" {
			continue
		}
		out.Input = append(out.Input, types.ResponsesMessage{Role: role, Content: text})
	}

	out.Tools = anthropicTools(req.Tools)
	return out, nil
}

func chatToResponses(req *types.ChatCompletionRequest, bc BuildContext) (*types.ResponsesRequest, error) {
	out := &types.ResponsesRequest{
		Model:              bc.BackendModel,
		ReasoningEffort:    bc.ReasoningEffort.String(),
		PreviousResponseID: bc.PreviousResponseID,
		Temperature:        req.Temperature,
		TopP:               req.TopP,
		Stream:             bc.Stream,
	}

	// max_completion_tokens supersedes the deprecated max_tokens.
	switch {
	case req.MaxCompletionTokens != nil:
		out.MaxOutputTokens = req.MaxCompletionTokens
	case req.MaxTokens != nil:
		out.MaxOutputTokens = req.MaxTokens
	}

	for i := range req.Messages {
		msg := &req.Messages[i]
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role == "" {
			continue
		}
		text := msg.TextContent()
		if text == "" {
			continue
		}
		out.Input = append(out.Input, types.ResponsesMessage{Role: role, Content: text})
	}

	out.Tools = chatTools(req.Tools)
	return out, nil
}

// anthropicTools canonicalizes Messages API tools to responses-API function
// tools.
func anthropicTools(tools []types.AnthropicTool) []json.RawMessage {
	if len(tools) == 0 {
		return nil
	}
	out := make([]json.RawMessage, 0, len(tools))
	for _, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		raw, err := json.Marshal(map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.InputSchema,
		})
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// chatTools canonicalizes chat-completions tools to responses-API function
// tools.
func chatTools(tools []types.ChatTool) []json.RawMessage {
	if len(tools) == 0 {
		return nil
	}
	out := make([]json.RawMessage, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil || strings.TrimSpace(t.Function.Name) == "" {
			continue
		}
		raw, err := json.Marshal(map[string]any{
			"type":        "function",
			"name":        t.Function.Name,
			"description": t.Function.Description,
			"parameters":  t.Function.Parameters,
		})
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}
