// Package normalize validates and sanitizes incoming request bodies,
// producing the internal normalized request. The pipeline order is fixed:
// size check, legacy prompt fold, content-security screen, field and range
// checks, text sanitization.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/relayforge/switchboard/internal/apierr"
	"github.com/relayforge/switchboard/internal/types"
)

// Options holds the normalizer's configurable limits.
type Options struct {
	MaxRequestSize  int64
	ContentSecurity bool
}

const (
	minTokenCap = 1
	maxTokenCap = 131072
)

// Normalize runs the full pipeline over body for the detected dialect.
func Normalize(body []byte, dialect types.Dialect, opts Options) (*types.NormalizedRequest, error) {
	if opts.MaxRequestSize > 0 && int64(len(body)) > opts.MaxRequestSize {
		return nil, apierr.Newf(apierr.InvalidRequest, "payload too large: %d bytes exceeds the %d byte limit", len(body), opts.MaxRequestSize)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apierr.New(apierr.InvalidRequest, "invalid JSON body")
	}

	body, raw, err := foldLegacyPrompt(body, raw)
	if err != nil {
		return nil, err
	}

	if opts.ContentSecurity {
		if err := screenAll(raw); err != nil {
			return nil, err
		}
	}

	if err := checkFields(raw, dialect); err != nil {
		return nil, err
	}

	body, err = sanitizeBody(body)
	if err != nil {
		return nil, err
	}

	return decode(body, dialect)
}

// foldLegacyPrompt rewrites a prompt-only payload into a one-element user
// messages array. The prompt may be a string or an array of strings.
func foldLegacyPrompt(body []byte, raw map[string]any) ([]byte, map[string]any, error) {
	if msgs, ok := raw["messages"].([]any); ok && len(msgs) > 0 {
		return body, raw, nil
	}
	prompt := gjson.GetBytes(body, "prompt")
	if !prompt.Exists() {
		return body, raw, nil
	}

	var text string
	switch {
	case prompt.Type == gjson.String:
		text = prompt.String()
	case prompt.IsArray():
		var parts []string
		for _, p := range prompt.Array() {
			if p.Type == gjson.String {
				parts = append(parts, p.String())
			}
		}
		text = strings.Join(parts, "\n")
	default:
		return nil, nil, apierr.New(apierr.InvalidRequest, "prompt must be a string or an array of strings").WithField("prompt")
	}

	body, err := sjson.SetBytes(body, "messages", []map[string]any{{"role": "user", "content": text}})
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.Internal, err, "fold prompt")
	}
	body, err = sjson.DeleteBytes(body, "prompt")
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.Internal, err, "fold prompt")
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, apierr.New(apierr.InvalidRequest, "invalid JSON body")
	}
	return body, raw, nil
}

// checkFields enforces required fields and numeric ranges on the raw payload
// so that violations can name the offending field path.
func checkFields(raw map[string]any, dialect types.Dialect) error {
	model, _ := raw["model"].(string)
	if strings.TrimSpace(model) == "" {
		return apierr.New(apierr.InvalidRequest, "model is required and must be a non-empty string").WithField("model")
	}

	msgs, ok := raw["messages"].([]any)
	if !ok || len(msgs) == 0 {
		return apierr.New(apierr.InvalidRequest, "messages is required and must be a non-empty array").WithField("messages")
	}
	for i, m := range msgs {
		msg, ok := m.(map[string]any)
		if !ok {
			return apierr.Newf(apierr.InvalidRequest, "message %d must be an object", i).WithField(fmt.Sprintf("messages.%d", i))
		}
		role, _ := msg["role"].(string)
		switch role {
		case "user", "assistant", "system":
		default:
			return apierr.Newf(apierr.InvalidRequest, "message %d role must be user, assistant, or system", i).WithField(fmt.Sprintf("messages.%d.role", i))
		}
		switch msg["content"].(type) {
		case string, []any:
		default:
			return apierr.Newf(apierr.InvalidRequest, "message %d content must be a string or an array of blocks", i).WithField(fmt.Sprintf("messages.%d.content", i))
		}
	}

	if err := checkNumberRange(raw, "temperature", 0, 2); err != nil {
		return err
	}
	if err := checkNumberRange(raw, "top_p", 0, 1); err != nil {
		return err
	}
	if err := checkNumberRange(raw, "max_tokens", minTokenCap, maxTokenCap); err != nil {
		return err
	}
	if err := checkNumberRange(raw, "max_completion_tokens", minTokenCap, maxTokenCap); err != nil {
		return err
	}

	if v, present := raw["stream"]; present {
		if _, ok := v.(bool); !ok {
			return apierr.New(apierr.InvalidRequest, "stream must be a boolean").WithField("stream")
		}
	}
	if v, present := raw["tools"]; present {
		if _, ok := v.([]any); !ok {
			return apierr.New(apierr.InvalidRequest, "tools must be an array").WithField("tools")
		}
	}

	if dialect == types.DialectAnthropic {
		if v, present := raw["system"]; present {
			switch v.(type) {
			case string, []any:
			default:
				return apierr.New(apierr.InvalidRequest, "system must be a string").WithField("system")
			}
		}
	}
	return nil
}

func checkNumberRange(raw map[string]any, field string, min, max float64) error {
	v, present := raw[field]
	if !present || v == nil {
		return nil
	}
	n, ok := v.(float64)
	if !ok {
		return apierr.Newf(apierr.InvalidRequest, "%s must be a number", field).WithField(field)
	}
	if n < min || n > max {
		return apierr.Newf(apierr.InvalidRequest, "%s must be between %g and %g, got %g", field, min, max, n).WithField(field)
	}
	return nil
}

// sanitizeBody rewrites every user-visible text field in place, preserving
// unknown fields and payload layout.
func sanitizeBody(body []byte) ([]byte, error) {
	updated := body
	var err error

	set := func(path, cleaned string) {
		if err != nil {
			return
		}
		updated, err = sjson.SetBytes(updated, path, cleaned)
	}

	sys := gjson.GetBytes(body, "system")
	switch {
	case sys.Type == gjson.String:
		if cleaned := CleanText(sys.String()); cleaned != sys.String() {
			set("system", cleaned)
		}
	case sys.IsArray():
		sys.ForEach(func(i, block gjson.Result) bool {
			text := block.Get("text")
			if text.Type != gjson.String {
				return true
			}
			if cleaned := CleanText(text.String()); cleaned != text.String() {
				set(fmt.Sprintf("system.%d.text", i.Int()), cleaned)
			}
			return err == nil
		})
	}

	gjson.GetBytes(body, "messages").ForEach(func(i, msg gjson.Result) bool {
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			if cleaned := CleanText(content.String()); cleaned != content.String() {
				set(fmt.Sprintf("messages.%d.content", i.Int()), cleaned)
			}
		case content.IsArray():
			content.ForEach(func(j, block gjson.Result) bool {
				if t := block.Get("type").String(); t != "" && t != "text" {
					return true
				}
				text := block.Get("text")
				if text.Type != gjson.String {
					return true
				}
				if cleaned := CleanText(text.String()); cleaned != text.String() {
					set(fmt.Sprintf("messages.%d.content.%d.text", i.Int(), j.Int()), cleaned)
				}
				return true
			})
		}
		return err == nil
	})

	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "sanitize body")
	}
	return updated, nil
}

func decode(body []byte, dialect types.Dialect) (*types.NormalizedRequest, error) {
	switch dialect {
	case types.DialectAnthropic:
		var req types.AnthropicMessagesRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apierr.New(apierr.InvalidRequest, "invalid JSON body")
		}
		return &types.NormalizedRequest{Dialect: dialect, Anthropic: &req}, nil
	case types.DialectChat:
		var req types.ChatCompletionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apierr.New(apierr.InvalidRequest, "invalid JSON body")
		}
		return &types.NormalizedRequest{Dialect: dialect, Chat: &req}, nil
	}
	return nil, apierr.New(apierr.Internal, "unknown dialect")
}
