package reasoning

import (
	"strings"

	"github.com/relayforge/switchboard/internal/types"
)

// Complexity grades a conversation for effort selection.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityMedium
	ComplexityComplex
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityComplex:
		return "complex"
	default:
		return "medium"
	}
}

// complexDomainKeywords flag requests that usually need deeper reasoning.
var complexDomainKeywords = []string{
	"architecture",
	"distributed",
	"event sourcing",
	"cqrs",
	"algorithm",
	"debug",
}

// HasComplexKeywords reports whether text mentions a complex-domain topic.
// Matching is case-insensitive.
func HasComplexKeywords(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range complexDomainKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

const (
	historyBumpMessages = 10
	historyBumpTokens   = 8000
	historyBigMessages  = 20
	historyBigTokens    = 25000
	longContentChars    = 4000
	codeFenceMarker     = "```"
)

// History carries the conversation signals the analyzer weighs. A nil
// History means the conversation is new.
type History struct {
	MessageCount int
	TotalTokens  int
	Complexity   Complexity
}

// Analyzer computes the effort tier for each upstream call.
type Analyzer struct {
	defaultEffort Effort
	domainBoost   []string
}

// NewAnalyzer builds an analyzer. domainBoost keywords, when non-empty,
// enable the tier boost for matching requests.
func NewAnalyzer(defaultEffort Effort, domainBoost []string) *Analyzer {
	boost := make([]string, 0, len(domainBoost))
	for _, kw := range domainBoost {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			boost = append(boost, kw)
		}
	}
	return &Analyzer{defaultEffort: defaultEffort, domainBoost: boost}
}

// Analyze picks the tier for a request. The base tier comes from the
// conversation's complexity grade; simple conversations keep the configured
// default rather than dropping below it. Request signals then add tiers,
// saturating at high.
func (a *Analyzer) Analyze(req *types.NormalizedRequest, hist *History) Effort {
	base := a.defaultEffort
	if hist != nil {
		switch hist.Complexity {
		case ComplexityMedium:
			base = EffortMedium
		case ComplexityComplex:
			base = EffortHigh
		}
	}

	tiers := 0
	if hist != nil {
		switch {
		case hist.MessageCount >= historyBigMessages || hist.TotalTokens >= historyBigTokens:
			tiers += 2
		case hist.MessageCount >= historyBumpMessages || hist.TotalTokens >= historyBumpTokens:
			tiers++
		}
	}
	if req.HasTools() {
		tiers++
	}

	userText := req.UserText()
	if len(userText) > longContentChars {
		tiers++
	}
	if strings.Count(userText, codeFenceMarker) >= 2 {
		tiers++
	}

	allText := req.AllText()
	if HasComplexKeywords(allText) {
		tiers++
	}

	effort := base.bump(tiers)

	if a.boosted(allText) {
		switch effort {
		case EffortMinimal:
			effort = EffortLow
		case EffortMedium:
			effort = EffortHigh
		}
	}
	return effort
}

func (a *Analyzer) boosted(text string) bool {
	if len(a.domainBoost) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range a.domainBoost {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
