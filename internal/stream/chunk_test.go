package stream

import (
	"testing"

	"github.com/relayforge/switchboard/internal/types"
)

func TestDecodeChunk(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		check   func(*types.ResponsesResponse) bool
	}{
		{
			name: "text chunk",
			data: `{"id":"r1","object":"response.chunk","output":[{"type":"text","text":"Hi"}]}`,
			check: func(c *types.ResponsesResponse) bool {
				return c.ID == "r1" && c.Text() == "Hi" && !c.IsTerminal()
			},
		},
		{
			name: "terminal chunk",
			data: `{"id":"r1","object":"response.chunk","output":[{"type":"reasoning","status":"completed"}],"usage":{"prompt_tokens":2,"completion_tokens":1,"total_tokens":3}}`,
			check: func(c *types.ResponsesResponse) bool {
				return c.IsTerminal() && c.Usage.TotalTokens == 3
			},
		},
		{
			name: "error chunk",
			data: `{"id":"r1","object":"response.chunk","error":{"type":"overloaded","message":"busy"}}`,
			check: func(c *types.ResponsesResponse) bool {
				return c.HasError() && c.Error.Message == "busy"
			},
		},
		{
			name:    "wrong object",
			data:    `{"id":"r1","object":"response","output":[]}`,
			wantErr: true,
		},
		{
			name:    "missing id",
			data:    `{"object":"response.chunk","output":[{"type":"text","text":"x"}]}`,
			wantErr: true,
		},
		{
			name:    "non-array output",
			data:    `{"id":"r1","object":"response.chunk","output":"oops"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			data:    `garbage`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, err := DecodeChunk([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected a decode error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil && !tt.check(chunk) {
				t.Errorf("check failed for chunk: %+v", chunk)
			}
		})
	}
}

func TestNormalizeUsage(t *testing.T) {
	u := NormalizeUsage(&types.ResponsesUsage{PromptTokens: 3, CompletionTokens: 4})
	if u.TotalTokens != 7 {
		t.Errorf("total = %d, want 7", u.TotalTokens)
	}

	u = NormalizeUsage(&types.ResponsesUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 9})
	if u.TotalTokens != 9 {
		t.Errorf("reported total overwritten: %d", u.TotalTokens)
	}

	if NormalizeUsage(nil) != nil {
		t.Error("nil usage should stay nil")
	}
}
