package stream

import (
	"encoding/json"
	"fmt"

	"github.com/relayforge/switchboard/internal/types"
)

// chunkObject is the object tag carried by every well-formed stream chunk.
const chunkObject = "response.chunk"

// DecodeChunk parses a single upstream stream frame. Frames with the wrong
// object tag, a missing id, or a non-array output are rejected; callers drop
// them without ending the stream.
func DecodeChunk(data []byte) (*types.ResponsesResponse, error) {
	var chunk types.ResponsesResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("malformed chunk: %w", err)
	}
	if chunk.Object != chunkObject {
		return nil, fmt.Errorf("unexpected chunk object %q", chunk.Object)
	}
	if chunk.ID == "" {
		return nil, fmt.Errorf("chunk missing id")
	}
	return &chunk, nil
}

// NormalizeUsage fills total_tokens when the upstream reports components
// without a sum.
func NormalizeUsage(u *types.ResponsesUsage) *types.ResponsesUsage {
	if u == nil {
		return nil
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}
