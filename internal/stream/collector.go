package stream

import (
	"io"
	"strings"

	"github.com/relayforge/switchboard/internal/types"
)

// Collect drains a chunked upstream body and assembles the equivalent unary
// response. Used when the upstream answers a non-streaming request over SSE.
func Collect(body io.ReadCloser) *types.ResponsesResponse {
	defer body.Close()

	out := &types.ResponsesResponse{Object: "response"}
	var text strings.Builder

	reader := NewReader(body)
	for {
		data, err := reader.Next()
		if err != nil {
			break
		}
		chunk, err := DecodeChunk(data)
		if err != nil {
			continue
		}

		out.ID = chunk.ID
		if chunk.Created != 0 {
			out.Created = chunk.Created
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if t := chunk.Text(); t != "" {
			text.WriteString(t)
		}
		if chunk.Usage != nil {
			out.Usage = NormalizeUsage(chunk.Usage)
		}
		if chunk.StopReason != "" {
			out.StopReason = chunk.StopReason
		}
		if chunk.HasError() {
			out.Error = chunk.Error
			break
		}
		if chunk.IsTerminal() {
			break
		}
	}

	if text.Len() > 0 {
		out.Output = []types.ResponsesOutputItem{{Type: "text", Text: text.String()}}
	}
	return out
}
