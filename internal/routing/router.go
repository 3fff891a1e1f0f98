// Package routing maps public model aliases to upstream providers and
// backend model names.
package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/relayforge/switchboard/internal/apierr"
	"github.com/relayforge/switchboard/internal/config"
)

// Decision names the provider and backend model chosen for one request.
type Decision struct {
	Provider     string
	BackendModel string
}

// Router resolves model aliases. The alias table is built once at startup
// and never mutated, so lookups need no locking.
type Router struct {
	byAlias map[string]Decision
	aliases []string
}

// New builds a router from ordered routing rules. Aliases are matched
// case-insensitively; when two rules claim the same alias the earlier rule
// wins. Each rule's backend model name is registered as an implicit alias
// for itself.
func New(rules []config.RouteRule) (*Router, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("routing: no rules configured")
	}

	byAlias := make(map[string]Decision, len(rules)*2)
	register := func(alias string, d Decision) {
		key := strings.ToLower(strings.TrimSpace(alias))
		if key == "" {
			return
		}
		if _, taken := byAlias[key]; taken {
			return
		}
		byAlias[key] = d
	}

	for _, rule := range rules {
		decision := Decision{Provider: rule.Provider, BackendModel: rule.Model}
		register(rule.Model, decision)
		for _, alias := range rule.Aliases {
			register(alias, decision)
		}
	}

	aliases := make([]string, 0, len(byAlias))
	for alias := range byAlias {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	return &Router{byAlias: byAlias, aliases: aliases}, nil
}

// Route resolves a model alias to a decision. Unknown aliases fail closed;
// the error lists every supported alias so clients can self-correct.
func (r *Router) Route(modelAlias string) (Decision, error) {
	key := strings.ToLower(strings.TrimSpace(modelAlias))
	if d, ok := r.byAlias[key]; ok {
		return d, nil
	}
	return Decision{}, apierr.Newf(apierr.UnsupportedModel,
		"model %q is not supported; supported models: %s",
		modelAlias, strings.Join(r.aliases, ", ")).WithField("model")
}

// Aliases returns the sorted list of every routable alias.
func (r *Router) Aliases() []string {
	out := make([]string, len(r.aliases))
	copy(out, r.aliases)
	return out
}
