package normalize

import (
	"errors"
	"strings"
	"testing"

	"github.com/relayforge/switchboard/internal/apierr"
	"github.com/relayforge/switchboard/internal/types"
)

func TestSecurityScreenBlocksPatterns(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"script block", `check <script>alert(1)</script> this`},
		{"unclosed script tag", `payload <script src=x.js`},
		{"javascript uri", `click javascript:void(0) now`},
		{"data uri", `see data:text/html;base64,PHNjcmlwdD4 here`},
		{"onclick handler", `<img onclick=steal()>`},
		{"onerror handler", `<img src=x onerror=alert(1)>`},
		{"template constructor", `{{constructor.constructor('return this')()}}`},
		{"template proto", `{{__proto__.polluted}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]any{
				"model": "m",
				"messages": []any{
					map[string]any{"role": "user", "content": tt.content},
				},
			}
			err := screenAll(raw)
			if err == nil {
				t.Fatal("expected security rejection")
			}
			if apierr.KindOf(err) != apierr.InvalidRequest {
				t.Errorf("kind = %v, want invalid_request", apierr.KindOf(err))
			}
		})
	}
}

func TestSecurityScreenAllowsBenignContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"plain text", "explain transcription factors"},
		{"mentions javascript", "how do I write javascript functions"},
		{"data word", "load the data: text files first"},
		{"harmless braces", "{{user.name}} template syntax"},
		{"code sample", "for (let i = 0; i < n; i++) {}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]any{
				"model": "m",
				"messages": []any{
					map[string]any{"role": "user", "content": tt.content},
				},
			}
			if err := screenAll(raw); err != nil {
				t.Errorf("screenAll rejected benign content: %v", err)
			}
		})
	}
}

func TestSecurityScreenChecksNestedBlocks(t *testing.T) {
	raw := map[string]any{
		"model": "m",
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": "fine"},
					map[string]any{"type": "text", "text": "bad <script>x</script>"},
				},
			},
		},
	}

	err := screenAll(raw)
	if err == nil {
		t.Fatal("expected rejection for nested block content")
	}
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected apierr.Error, got %T", err)
	}
	if ae.Field != "messages.0.content.1.text" {
		t.Errorf("field = %q, want messages.0.content.1.text", ae.Field)
	}
}

func TestSecurityScreenErrorOmitsContent(t *testing.T) {
	raw := map[string]any{
		"model": "m",
		"messages": []any{
			map[string]any{"role": "user", "content": "secret-payload <script>exfil()</script>"},
		},
	}

	err := screenAll(raw)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if msg := err.Error(); strings.Contains(msg, "secret-payload") || strings.Contains(msg, "exfil") {
		t.Errorf("error message leaks blocked content: %q", msg)
	}
}

func TestNormalizeSkipsScreenWhenDisabled(t *testing.T) {
	body := []byte(`{"model":"m","messages":[{"role":"user","content":"inline javascript: sample"}]}`)

	if _, err := Normalize(body, types.DialectChat, Options{ContentSecurity: false}); err != nil {
		t.Fatalf("Normalize with screen disabled returned error: %v", err)
	}
	if _, err := Normalize(body, types.DialectChat, Options{ContentSecurity: true}); err == nil {
		t.Fatal("Normalize with screen enabled should reject javascript URI")
	}
}
