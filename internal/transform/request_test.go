package transform

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relayforge/switchboard/internal/reasoning"
	"github.com/relayforge/switchboard/internal/types"
)

func anthropicRequest(t *testing.T, body string) *types.NormalizedRequest {
	t.Helper()
	var req types.AnthropicMessagesRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal anthropic request: %v", err)
	}
	return &types.NormalizedRequest{Dialect: types.DialectAnthropic, Anthropic: &req}
}

func chatRequest(t *testing.T, body string) *types.NormalizedRequest {
	t.Helper()
	var req types.ChatCompletionRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal chat request: %v", err)
	}
	return &types.NormalizedRequest{Dialect: types.DialectChat, Chat: &req}
}

func TestAnthropicToResponsesInput(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantLen int
		check   func([]types.ResponsesMessage) bool
	}{
		{
			name:    "string content passes through",
			body:    `{"model":"m","messages":[{"role":"user","content":"Hello"}]}`,
			wantLen: 1,
			check: func(in []types.ResponsesMessage) bool {
				return in[0].Role == "user" && in[0].Content == "Hello"
			},
		},
		{
			name:    "system preamble becomes leading system message",
			body:    `{"model":"m","system":"You are terse.","messages":[{"role":"user","content":"Hi"}]}`,
			wantLen: 2,
			check: func(in []types.ResponsesMessage) bool {
				return in[0].Role == "system" && in[0].Content == "You are terse." &&
					in[1].Role == "user"
			},
		},
		{
			name:    "system block array joined",
			body:    `{"model":"m","system":[{"type":"text","text":"Rule one."},{"type":"text","text":"Rule two."}],"messages":[{"role":"user","content":"Hi"}]}`,
			wantLen: 2,
			check: func(in []types.ResponsesMessage) bool {
				return in[0].Role == "system" && in[0].Content == "Rule one.\n\nRule two."
			},
		},
		{
			name:    "text blocks joined with single spaces in order",
			body:    `{"model":"m","messages":[{"role":"user","content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}]}`,
			wantLen: 1,
			check: func(in []types.ResponsesMessage) bool {
				return in[0].Content == "first second"
			},
		},
		{
			name:    "non-text blocks ignored",
			body:    `{"model":"m","messages":[{"role":"user","content":[{"type":"image","text":"x"},{"type":"text","text":"keep"}]}]}`,
			wantLen: 1,
			check: func(in []types.ResponsesMessage) bool {
				return in[0].Content == "keep"
			},
		},
		{
			name:    "empty-text messages skipped",
			body:    `{"model":"m","messages":[{"role":"assistant","content":""},{"role":"user","content":"Hi"}]}`,
			wantLen: 1,
			check: func(in []types.ResponsesMessage) bool {
				return in[0].Role == "user"
			},
		},
		{
			name:    "message order preserved",
			body:    `{"model":"m","messages":[{"role":"user","content":"q1"},{"role":"assistant","content":"a1"},{"role":"user","content":"q2"}]}`,
			wantLen: 3,
			check: func(in []types.ResponsesMessage) bool {
				return in[0].Content == "q1" && in[1].Content == "a1" && in[2].Content == "q2"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := anthropicRequest(t, tt.body)
			out, err := ToResponsesRequest(req, BuildContext{BackendModel: "backend"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(out.Input) != tt.wantLen {
				t.Fatalf("input length = %d, want %d", len(out.Input), tt.wantLen)
			}
			if tt.check != nil && !tt.check(out.Input) {
				t.Errorf("check failed for input: %+v", out.Input)
			}
		})
	}
}

func TestAnthropicToResponsesParams(t *testing.T) {
	req := anthropicRequest(t, `{"model":"gpt-5-codex","messages":[{"role":"user","content":"Hi"}],"max_tokens":256,"temperature":0.5,"top_p":0.9}`)
	out, err := ToResponsesRequest(req, BuildContext{
		BackendModel:       "gpt-5.1-codex-max",
		ReasoningEffort:    reasoning.EffortHigh,
		PreviousResponseID: "resp-41",
		Stream:             true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Model != "gpt-5.1-codex-max" {
		t.Errorf("model = %q, want backend model", out.Model)
	}
	if out.MaxOutputTokens == nil || *out.MaxOutputTokens != 256 {
		t.Errorf("max_output_tokens = %v, want 256", out.MaxOutputTokens)
	}
	if out.Temperature == nil || *out.Temperature != 0.5 {
		t.Errorf("temperature = %v, want 0.5", out.Temperature)
	}
	if out.TopP == nil || *out.TopP != 0.9 {
		t.Errorf("top_p = %v, want 0.9", out.TopP)
	}
	if out.ReasoningEffort != "high" {
		t.Errorf("reasoning_effort = %q, want high", out.ReasoningEffort)
	}
	if out.PreviousResponseID != "resp-41" {
		t.Errorf("previous_response_id = %q, want resp-41", out.PreviousResponseID)
	}
	if !out.Stream {
		t.Error("stream flag not carried")
	}
}

func TestAnthropicToResponsesOmitsUnsetParams(t *testing.T) {
	req := anthropicRequest(t, `{"model":"m","messages":[{"role":"user","content":"Hi"}]}`)
	out, err := ToResponsesRequest(req, BuildContext{BackendModel: "backend", ReasoningEffort: reasoning.EffortMedium})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.MaxOutputTokens != nil || out.Temperature != nil || out.TopP != nil {
		t.Errorf("unset sampling params should stay nil: %+v", out)
	}
	if out.PreviousResponseID != "" {
		t.Errorf("previous_response_id = %q, want empty", out.PreviousResponseID)
	}
}

func TestAnthropicToolsCanonicalized(t *testing.T) {
	req := anthropicRequest(t, `{"model":"m","messages":[{"role":"user","content":"Hi"}],"tools":[{"name":"get_weather","description":"Weather lookup","input_schema":{"type":"object"}},{"name":""}]}`)
	out, err := ToResponsesRequest(req, BuildContext{BackendModel: "backend"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Tools) != 1 {
		t.Fatalf("tools length = %d, want 1 (nameless tool dropped)", len(out.Tools))
	}
	var tool map[string]any
	if err := json.Unmarshal(out.Tools[0], &tool); err != nil {
		t.Fatalf("unmarshal tool: %v", err)
	}
	if tool["type"] != "function" || tool["name"] != "get_weather" {
		t.Errorf("tool = %v, want function get_weather", tool)
	}
	if tool["description"] != "Weather lookup" {
		t.Errorf("description = %v", tool["description"])
	}
	if _, ok := tool["parameters"].(map[string]any); !ok {
		t.Errorf("parameters not carried: %v", tool["parameters"])
	}
}

func TestChatToResponsesInput(t *testing.T) {
	req := chatRequest(t, `{"model":"m","messages":[{"role":"system","content":"Be brief."},{"role":"user","content":"Hi"},{"role":"assistant","content":"Hello"}]}`)
	out, err := ToResponsesRequest(req, BuildContext{BackendModel: "backend"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Input) != 3 {
		t.Fatalf("input length = %d, want 3", len(out.Input))
	}
	if out.Input[0].Role != "system" || out.Input[0].Content != "Be brief." {
		t.Errorf("system message not preserved in place: %+v", out.Input[0])
	}
	if out.Input[2].Role != "assistant" || out.Input[2].Content != "Hello" {
		t.Errorf("assistant message mangled: %+v", out.Input[2])
	}
}

func TestChatTokenCapPreference(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{
			name: "max_completion_tokens preferred",
			body: `{"model":"m","messages":[{"role":"user","content":"Hi"}],"max_tokens":100,"max_completion_tokens":200}`,
			want: 200,
		},
		{
			name: "max_tokens fallback",
			body: `{"model":"m","messages":[{"role":"user","content":"Hi"}],"max_tokens":100}`,
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := chatRequest(t, tt.body)
			out, err := ToResponsesRequest(req, BuildContext{BackendModel: "backend"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.MaxOutputTokens == nil || *out.MaxOutputTokens != tt.want {
				t.Errorf("max_output_tokens = %v, want %d", out.MaxOutputTokens, tt.want)
			}
		})
	}
}

func TestChatToolsCanonicalized(t *testing.T) {
	req := chatRequest(t, `{"model":"m","messages":[{"role":"user","content":"Hi"}],"tools":[{"type":"function","function":{"name":"lookup","description":"d","parameters":{"type":"object"}}},{"type":"function"}]}`)
	out, err := ToResponsesRequest(req, BuildContext{BackendModel: "backend"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Tools) != 1 {
		t.Fatalf("tools length = %d, want 1 (functionless tool dropped)", len(out.Tools))
	}
	if !strings.Contains(string(out.Tools[0]), `"name":"lookup"`) {
		t.Errorf("tool payload missing name: %s", out.Tools[0])
	}
}

func TestChatMultimodalTextJoined(t *testing.T) {
	req := chatRequest(t, `{"model":"m","messages":[{"role":"user","content":[{"type":"text","text":"look at"},{"type":"image_url","image_url":{"url":"http://x"}},{"type":"text","text":"this"}]}]}`)
	out, err := ToResponsesRequest(req, BuildContext{BackendModel: "backend"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Input) != 1 || out.Input[0].Content != "look at this" {
		t.Errorf("multimodal text not joined: %+v", out.Input)
	}
}
