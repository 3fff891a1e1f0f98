package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// RouteRule maps client-visible aliases to a backend model on a provider.
// Rule order matters: on alias collisions the first rule wins.
type RouteRule struct {
	Provider string   `yaml:"provider"`
	Model    string   `yaml:"model"`
	Aliases  []string `yaml:"aliases"`
}

type routingFile struct {
	Routes []RouteRule `yaml:"routes"`
}

// LoadRoutingFile parses a YAML routing table:
//
//	routes:
//	  - provider: primary
//	    model: backend-large
//	    aliases: [claude-sonnet-4, gpt-5]
func LoadRoutingFile(path string) ([]RouteRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed routingFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("no routes defined")
	}
	for i := range parsed.Routes {
		if parsed.Routes[i].Provider == "" {
			parsed.Routes[i].Provider = ProviderPrimary
		}
	}
	return parsed.Routes, nil
}
