package types

import (
	"encoding/json"
	"testing"
)

func TestIntFromAnyHandlesAllNumericTypes(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int
	}{
		{"float64", float64(42), 42},
		{"int", int(99), 99},
		{"json.Number", json.Number("123456"), 123456},
		{"nil", nil, 0},
		{"string", "not a number", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IntFromAny(tt.val)
			if got != tt.want {
				t.Fatalf("IntFromAny(%v) = %d, want %d", tt.val, got, tt.want)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("EstimateTokens(empty) = %d, want 0", got)
	}
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Fatalf("EstimateTokens(8 chars) = %d, want 2", got)
	}
}

func TestChatMessageTextContent(t *testing.T) {
	m := ChatMessage{Role: "user", Content: "plain text"}
	if got := m.TextContent(); got != "plain text" {
		t.Fatalf("string content: got %q", got)
	}

	m = ChatMessage{Role: "user", Content: []any{
		map[string]any{"type": "text", "text": "part one"},
		map[string]any{"type": "image_url", "image_url": map[string]any{"url": "http://x"}},
		map[string]any{"type": "text", "text": "part two"},
	}}
	if got := m.TextContent(); got != "part one part two" {
		t.Fatalf("multimodal content: got %q", got)
	}

	m = ChatMessage{Role: "user", Content: nil}
	if got := m.TextContent(); got != "" {
		t.Fatalf("nil content: got %q", got)
	}
}
