package types

import "strings"

// Dialect identifies the client-facing wire format of a request.
type Dialect int

const (
	DialectAnthropic Dialect = iota
	DialectChat
)

// String returns the dialect name used in logs and processor metadata.
func (d Dialect) String() string {
	switch d {
	case DialectAnthropic:
		return "anthropic"
	case DialectChat:
		return "chat"
	}
	return "unknown"
}

// NormalizedRequest is the validated, sanitized internal representation of a
// client request. Exactly one of Anthropic or Chat is set, matching Dialect.
type NormalizedRequest struct {
	Dialect   Dialect
	Anthropic *AnthropicMessagesRequest
	Chat      *ChatCompletionRequest
}

// Model returns the requested model alias.
func (r *NormalizedRequest) Model() string {
	switch r.Dialect {
	case DialectAnthropic:
		return r.Anthropic.Model
	case DialectChat:
		return r.Chat.Model
	}
	return ""
}

// Stream reports whether the client requested a streamed response.
func (r *NormalizedRequest) Stream() bool {
	switch r.Dialect {
	case DialectAnthropic:
		return r.Anthropic.Stream
	case DialectChat:
		return r.Chat.Stream
	}
	return false
}

// MessageCount returns the number of messages in the request.
func (r *NormalizedRequest) MessageCount() int {
	switch r.Dialect {
	case DialectAnthropic:
		return len(r.Anthropic.Messages)
	case DialectChat:
		return len(r.Chat.Messages)
	}
	return 0
}

// HasTools reports whether the request carries a non-empty tools list.
func (r *NormalizedRequest) HasTools() bool {
	switch r.Dialect {
	case DialectAnthropic:
		return len(r.Anthropic.Tools) > 0
	case DialectChat:
		return len(r.Chat.Tools) > 0
	}
	return false
}

// UserText concatenates the text of all user messages, space-joined in order.
// Used by the reasoning analyzer and complexity estimators.
func (r *NormalizedRequest) UserText() string {
	var parts []string
	switch r.Dialect {
	case DialectAnthropic:
		for i := range r.Anthropic.Messages {
			m := &r.Anthropic.Messages[i]
			if m.Role != "user" {
				continue
			}
			if txt := m.TextContent(); txt != "" {
				parts = append(parts, txt)
			}
		}
	case DialectChat:
		for i := range r.Chat.Messages {
			m := &r.Chat.Messages[i]
			if m.Role != "user" {
				continue
			}
			if txt := m.TextContent(); txt != "" {
				parts = append(parts, txt)
			}
		}
	}
	return strings.Join(parts, " ")
}

// FirstUserText returns the text of the earliest user message, or "" when
// the request has none.
func (r *NormalizedRequest) FirstUserText() string {
	switch r.Dialect {
	case DialectAnthropic:
		for i := range r.Anthropic.Messages {
			m := &r.Anthropic.Messages[i]
			if m.Role == "user" {
				if txt := m.TextContent(); txt != "" {
					return txt
				}
			}
		}
	case DialectChat:
		for i := range r.Chat.Messages {
			m := &r.Chat.Messages[i]
			if m.Role == "user" {
				if txt := m.TextContent(); txt != "" {
					return txt
				}
			}
		}
	}
	return ""
}

// AllText concatenates the text of every message plus the system preamble.
// Used for request token estimation.
func (r *NormalizedRequest) AllText() string {
	var parts []string
	switch r.Dialect {
	case DialectAnthropic:
		if sys, err := ParseSystemText(r.Anthropic.System); err == nil && sys != "" {
			parts = append(parts, sys)
		}
		for i := range r.Anthropic.Messages {
			if txt := r.Anthropic.Messages[i].TextContent(); txt != "" {
				parts = append(parts, txt)
			}
		}
	case DialectChat:
		for i := range r.Chat.Messages {
			if txt := r.Chat.Messages[i].TextContent(); txt != "" {
				parts = append(parts, txt)
			}
		}
	}
	return strings.Join(parts, " ")
}
