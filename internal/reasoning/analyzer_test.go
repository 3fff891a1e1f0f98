package reasoning

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relayforge/switchboard/internal/types"
)

func chatReq(content string, withTools bool) *types.NormalizedRequest {
	req := &types.ChatCompletionRequest{
		Model: "m",
		Messages: []types.ChatMessage{
			{Role: "user", Content: content},
		},
	}
	if withTools {
		req.Tools = []types.ChatTool{
			{Type: "function", Function: &types.FunctionDef{Name: "lookup"}},
		}
	}
	return &types.NormalizedRequest{Dialect: types.DialectChat, Chat: req}
}

func TestAnalyzeDefaultsWithoutHistory(t *testing.T) {
	a := NewAnalyzer(EffortMedium, nil)

	if got := a.Analyze(chatReq("hello there", false), nil); got != EffortMedium {
		t.Errorf("effort = %v, want medium", got)
	}
}

func TestAnalyzeBaseFromComplexity(t *testing.T) {
	a := NewAnalyzer(EffortLow, nil)

	tests := []struct {
		name       string
		complexity Complexity
		want       Effort
	}{
		{"simple keeps default", ComplexitySimple, EffortLow},
		{"medium", ComplexityMedium, EffortMedium},
		{"complex", ComplexityComplex, EffortHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist := &History{MessageCount: 2, TotalTokens: 100, Complexity: tt.complexity}
			if got := a.Analyze(chatReq("hi", false), hist); got != tt.want {
				t.Errorf("effort = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeHistorySignals(t *testing.T) {
	a := NewAnalyzer(EffortMinimal, nil)

	tests := []struct {
		name string
		hist History
		want Effort
	}{
		{"ten messages adds one", History{MessageCount: 10}, EffortLow},
		{"eight thousand tokens adds one", History{TotalTokens: 8000}, EffortLow},
		{"twenty messages adds two", History{MessageCount: 20}, EffortMedium},
		{"heavy tokens adds two", History{TotalTokens: 25000}, EffortMedium},
		{"big signal does not stack with small", History{MessageCount: 20, TotalTokens: 8000}, EffortMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Analyze(chatReq("hi", false), &tt.hist); got != tt.want {
				t.Errorf("effort = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeRequestSignals(t *testing.T) {
	a := NewAnalyzer(EffortMinimal, nil)

	if got := a.Analyze(chatReq("hi", true), nil); got != EffortLow {
		t.Errorf("tools: effort = %v, want low", got)
	}

	long := strings.Repeat("词x", 2100)
	if got := a.Analyze(chatReq(long, false), nil); got != EffortLow {
		t.Errorf("long content: effort = %v, want low", got)
	}

	fenced := "review this\n```go\nfunc main() {}\n```\nplease"
	if got := a.Analyze(chatReq(fenced, false), nil); got != EffortLow {
		t.Errorf("code fence: effort = %v, want low", got)
	}

	if got := a.Analyze(chatReq("help me debug this crash", false), nil); got != EffortLow {
		t.Errorf("keyword: effort = %v, want low", got)
	}
}

func TestAnalyzeLoneFenceMarkerIgnored(t *testing.T) {
	a := NewAnalyzer(EffortMinimal, nil)

	if got := a.Analyze(chatReq("type ``` to open a block", false), nil); got != EffortMinimal {
		t.Errorf("effort = %v, want minimal", got)
	}
}

func TestAnalyzeSaturatesAtHigh(t *testing.T) {
	a := NewAnalyzer(EffortMedium, nil)

	fenced := strings.Repeat("design the distributed architecture ", 200) + "\n```\ncode\n```"
	hist := &History{MessageCount: 30, TotalTokens: 50000, Complexity: ComplexityComplex}
	if got := a.Analyze(chatReq(fenced, true), hist); got != EffortHigh {
		t.Errorf("effort = %v, want high", got)
	}
}

func TestAnalyzeDomainBoost(t *testing.T) {
	a := NewAnalyzer(EffortMedium, []string{"SwiftUI", "kotlin"})

	if got := a.Analyze(chatReq("build a swiftui view", false), nil); got != EffortHigh {
		t.Errorf("boosted medium: effort = %v, want high", got)
	}

	low := NewAnalyzer(EffortLow, []string{"swiftui"})
	if got := low.Analyze(chatReq("build a swiftui view", false), nil); got != EffortLow {
		t.Errorf("boost leaves low unchanged: effort = %v", got)
	}

	minimal := NewAnalyzer(EffortMinimal, []string{"swiftui"})
	if got := minimal.Analyze(chatReq("build a swiftui view", false), nil); got != EffortLow {
		t.Errorf("boosted minimal: effort = %v, want low", got)
	}

	off := NewAnalyzer(EffortMedium, nil)
	if got := off.Analyze(chatReq("build a swiftui view", false), nil); got != EffortMedium {
		t.Errorf("boost disabled: effort = %v, want medium", got)
	}
}

func TestAnalyzeAnthropicSystemCountsForKeywords(t *testing.T) {
	a := NewAnalyzer(EffortMinimal, nil)

	req := &types.AnthropicMessagesRequest{
		Model:  "m",
		System: json.RawMessage(`"you are an algorithm tutor"`),
		Messages: []types.AnthropicMessage{
			{Role: "user", Content: json.RawMessage(`"hi"`)},
		},
	}
	norm := &types.NormalizedRequest{Dialect: types.DialectAnthropic, Anthropic: req}
	if got := a.Analyze(norm, nil); got != EffortLow {
		t.Errorf("effort = %v, want low from system keyword", got)
	}
}

func TestHasComplexKeywords(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"plan the Event Sourcing rollout", true},
		{"CQRS read models", true},
		{"what is for dinner", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasComplexKeywords(tt.text); got != tt.want {
			t.Errorf("HasComplexKeywords(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
