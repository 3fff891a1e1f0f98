package types

import "encoding/json"

// ResponsesMessage is a single message in the upstream responses-API input array.
type ResponsesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponsesRequest is the payload sent to an upstream responses-API provider.
type ResponsesRequest struct {
	Model              string             `json:"model"`
	Input              []ResponsesMessage `json:"input"`
	ReasoningEffort    string             `json:"reasoning_effort,omitempty"`
	PreviousResponseID string             `json:"previous_response_id,omitempty"`
	MaxOutputTokens    *int               `json:"max_output_tokens,omitempty"`
	Temperature        *float64           `json:"temperature,omitempty"`
	TopP               *float64           `json:"top_p,omitempty"`
	Tools              []json.RawMessage  `json:"tools,omitempty"`
	Stream             bool               `json:"stream,omitempty"`
}

// ResponsesOutputItem is one item of a responses-API output array. Type is
// "text" or "reasoning"; reasoning items carry a completion status.
type ResponsesOutputItem struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Status string `json:"status,omitempty"`
}

// ResponsesUsage holds responses-API token usage.
type ResponsesUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
}

// ResponsesError is the error object embedded in a responses-API body or chunk.
type ResponsesError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// ResponsesResponse is an upstream responses-API body. Unary responses carry
// object "response"; stream frames carry object "response.chunk" with the
// same shape.
type ResponsesResponse struct {
	ID         string                `json:"id"`
	Object     string                `json:"object"`
	Created    int64                 `json:"created"`
	Model      string                `json:"model"`
	Output     []ResponsesOutputItem `json:"output"`
	Usage      *ResponsesUsage       `json:"usage,omitempty"`
	StopReason string                `json:"stop_reason,omitempty"`
	Error      *ResponsesError       `json:"error,omitempty"`
}

// Text concatenates all text output items in order.
func (r *ResponsesResponse) Text() string {
	var out string
	for _, item := range r.Output {
		if item.Type == "text" {
			out += item.Text
		}
	}
	return out
}

// IsTerminal reports whether a stream chunk signals stream completion: a
// reasoning output item with status "completed".
func (r *ResponsesResponse) IsTerminal() bool {
	for _, item := range r.Output {
		if item.Type == "reasoning" && item.Status == "completed" {
			return true
		}
	}
	return false
}

// HasError reports whether the body carries a non-empty error object.
func (r *ResponsesResponse) HasError() bool {
	return r.Error != nil && (r.Error.Message != "" || r.Error.Type != "")
}
