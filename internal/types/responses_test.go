package types

import (
	"encoding/json"
	"testing"
)

func TestResponsesResponseText(t *testing.T) {
	resp := &ResponsesResponse{
		Output: []ResponsesOutputItem{
			{Type: "reasoning", Text: "thinking", Status: "completed"},
			{Type: "text", Text: "Hello"},
			{Type: "text", Text: " world"},
		},
	}
	if got := resp.Text(); got != "Hello world" {
		t.Fatalf("Text() = %q, want %q", got, "Hello world")
	}
}

func TestResponsesResponseIsTerminal(t *testing.T) {
	chunk := &ResponsesResponse{
		Object: "response.chunk",
		Output: []ResponsesOutputItem{{Type: "text", Text: "hi"}},
	}
	if chunk.IsTerminal() {
		t.Fatal("text-only chunk must not be terminal")
	}

	chunk.Output = append(chunk.Output, ResponsesOutputItem{Type: "reasoning", Status: "completed"})
	if !chunk.IsTerminal() {
		t.Fatal("chunk with completed reasoning item must be terminal")
	}

	inProgress := &ResponsesResponse{
		Output: []ResponsesOutputItem{{Type: "reasoning", Status: "in_progress"}},
	}
	if inProgress.IsTerminal() {
		t.Fatal("in-progress reasoning item must not be terminal")
	}
}

func TestResponsesResponseHasError(t *testing.T) {
	resp := &ResponsesResponse{}
	if resp.HasError() {
		t.Fatal("nil error must not report an error")
	}
	resp.Error = &ResponsesError{}
	if resp.HasError() {
		t.Fatal("empty error object must not report an error")
	}
	resp.Error = &ResponsesError{Message: "boom"}
	if !resp.HasError() {
		t.Fatal("expected error to be reported")
	}
}

func TestResponsesRequestOmitsAbsentFields(t *testing.T) {
	req := ResponsesRequest{
		Model: "backend-1",
		Input: []ResponsesMessage{{Role: "user", Content: "Hi"}},
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, absent := range []string{"previous_response_id", "max_output_tokens", "temperature", "top_p", "tools"} {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			t.Fatalf("unmarshal probe: %v", err)
		}
		if _, ok := probe[absent]; ok {
			t.Fatalf("field %q should be omitted when unset; payload: %s", absent, raw)
		}
	}
}
