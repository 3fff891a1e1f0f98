package normalize

import (
	"fmt"
	"regexp"

	"github.com/relayforge/switchboard/internal/apierr"
)

// securityRule pairs a detection pattern with the label reported on match.
type securityRule struct {
	label   string
	pattern *regexp.Regexp
}

var securityRules = []securityRule{
	{"script tag", regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)},
	{"script tag", regexp.MustCompile(`(?i)<script\b`)},
	{"javascript URI", regexp.MustCompile(`(?i)(^|[\s"'=(])javascript:`)},
	{"data URI", regexp.MustCompile(`(?i)(^|[\s"'=(])data:text/`)},
	{"event handler", regexp.MustCompile(`(?i)\son(click|load|error|focus|blur|change|submit|keydown|keyup|mouseover|mouseout)\s*=`)},
	{"template injection", regexp.MustCompile(`\{\{[^}]*(constructor|__proto__|prototype|eval|Function|require|import|process|global)[^}]*\}\}`)},
}

// screenAll walks every string value in the payload and rejects the request
// on the first security rule hit. The error names the field path and rule
// but never echoes the matched content.
func screenAll(raw map[string]any) error {
	return walkStrings(raw, "", func(path, value string) error {
		for _, rule := range securityRules {
			if rule.pattern.MatchString(value) {
				return apierr.Newf(apierr.InvalidRequest, "content blocked by security policy: %s detected", rule.label).WithField(path)
			}
		}
		return nil
	})
}

// walkStrings visits every string in a decoded JSON value, reporting each
// with its dotted path.
func walkStrings(v any, path string, visit func(path, value string) error) error {
	switch t := v.(type) {
	case string:
		return visit(path, t)
	case map[string]any:
		for k, child := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if err := walkStrings(child, childPath, visit); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range t {
			childPath := fmt.Sprintf("%s.%d", path, i)
			if path == "" {
				childPath = fmt.Sprintf("%d", i)
			}
			if err := walkStrings(child, childPath, visit); err != nil {
				return err
			}
		}
	}
	return nil
}
