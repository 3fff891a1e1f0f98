// Package reasoning selects the reasoning effort tier attached to upstream
// calls, weighing request shape and conversation history.
package reasoning

// Effort is an ordered reasoning tier. Higher values request more upstream
// reasoning and cost more.
type Effort int

const (
	EffortMinimal Effort = iota
	EffortLow
	EffortMedium
	EffortHigh
)

var effortNames = map[Effort]string{
	EffortMinimal: "minimal",
	EffortLow:     "low",
	EffortMedium:  "medium",
	EffortHigh:    "high",
}

// String returns the wire value sent upstream.
func (e Effort) String() string {
	if name, ok := effortNames[e]; ok {
		return name
	}
	return "medium"
}

// ParseEffort maps a wire value back to a tier.
func ParseEffort(s string) (Effort, bool) {
	for tier, name := range effortNames {
		if name == s {
			return tier, true
		}
	}
	return EffortMedium, false
}

// bump raises the tier by n, clamping to the valid range.
func (e Effort) bump(n int) Effort {
	v := int(e) + n
	if v > int(EffortHigh) {
		return EffortHigh
	}
	if v < int(EffortMinimal) {
		return EffortMinimal
	}
	return Effort(v)
}
