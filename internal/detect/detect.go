// Package detect classifies incoming request bodies as one of the two
// client dialects from shape signals and path hints.
package detect

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/relayforge/switchboard/internal/apierr"
	"github.com/relayforge/switchboard/internal/types"
)

// Detect classifies a JSON body. Path hints are authoritative when the path
// is one of the proxy's own endpoints; otherwise body-shape signals decide,
// with the documented default of the anthropic dialect when message content
// can be an array. The only hard failure is a body that is not a JSON object.
func Detect(body []byte, path string) (types.Dialect, error) {
	r := gjson.ParseBytes(body)
	if !r.IsObject() {
		return 0, apierr.New(apierr.InvalidRequest, "request body must be a JSON object")
	}

	lower := strings.ToLower(path)
	if strings.Contains(lower, "chat/completions") || strings.HasSuffix(lower, "/completions") {
		return types.DialectChat, nil
	}
	if strings.Contains(lower, "/messages") {
		return types.DialectAnthropic, nil
	}

	var chatScore, anthropicScore int

	if r.Get("response_format").Exists() {
		chatScore++
	}
	if r.Get("max_completion_tokens").Exists() {
		chatScore++
	}
	if tc := r.Get("tool_choice"); tc.IsObject() && tc.Get("function").Exists() {
		chatScore++
	}

	if sys := r.Get("system"); sys.Type == gjson.String {
		anthropicScore++
	}
	if hasBlockContent(r.Get("messages")) {
		anthropicScore++
	}
	if r.Get("max_tokens").Exists() && !r.Get("max_completion_tokens").Exists() {
		anthropicScore++
	}

	// Legacy prompt-only payloads synthesize a single user message later in
	// the pipeline; shape-wise they belong to the anthropic dialect.
	if !r.Get("messages").Exists() && r.Get("prompt").Exists() {
		anthropicScore++
	}

	switch {
	case chatScore > anthropicScore:
		return types.DialectChat, nil
	case anthropicScore > chatScore:
		return types.DialectAnthropic, nil
	}

	if contentCanBeArray(r.Get("messages")) {
		return types.DialectAnthropic, nil
	}
	return types.DialectChat, nil
}

// hasBlockContent reports whether any message content is an array of typed
// blocks containing a text block.
func hasBlockContent(messages gjson.Result) bool {
	if !messages.IsArray() {
		return false
	}
	found := false
	messages.ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				found = true
				return false
			}
			return true
		})
		return !found
	})
	return found
}

func contentCanBeArray(messages gjson.Result) bool {
	if !messages.IsArray() {
		return false
	}
	can := false
	messages.ForEach(func(_, msg gjson.Result) bool {
		if msg.Get("content").IsArray() {
			can = true
			return false
		}
		return true
	})
	return can
}
