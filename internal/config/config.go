// Package config builds the frozen process configuration from environment
// variables and an optional routing-table file. Values are read once at
// startup; handlers treat the Config as immutable.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/relayforge/switchboard/internal/apierr"
)

// Provider names used by routing rules and breaker registries.
const (
	ProviderPrimary   = "primary"
	ProviderSecondary = "secondary"
)

// Environment values.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// ProviderConfig holds the connection settings for one upstream provider.
// Authentication is either a static API key or OAuth2 client credentials
// (TokenURL+ClientID+ClientSecret); APIKey wins when both are set.
type ProviderConfig struct {
	Name         string
	Endpoint     string
	APIKey       string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Config holds all proxy configuration.
type Config struct {
	Host        string
	Port        int
	Environment string
	Verbose     bool

	ProxyAPIKey string

	Primary   ProviderConfig
	Secondary *ProviderConfig

	UpstreamModel      string
	UpstreamTimeout    time.Duration
	UpstreamMaxRetries int

	DefaultReasoningEffort string
	DomainBoostKeywords    []string

	ContentSecurity     bool
	MaxRequestSize      int64
	MaxResponseSize     int64
	MaxCompletionLength int
	MaxChoicesCount     int

	MaxConversationAge         time.Duration
	MaxStoredConversations     int
	MaxHistoryLength           int
	MaxHistoryAge              time.Duration
	MaxConcurrentConversations int

	FailureThreshold   int
	RecoveryTimeout    time.Duration
	MaxRecoveryTimeout time.Duration
	ExpectedErrorKinds []apierr.Kind

	// PublicModelLabel is the fixed model label echoed in Messages API
	// responses; empty means echo the requested alias.
	PublicModelLabel string

	RoutingFile string
	Routes      []RouteRule
}

// FromEnv creates a Config with defaults overridden from SWITCHBOARD_*
// environment variables and loads the routing table file when configured.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Host:        envOrDefault("SWITCHBOARD_HOST", "0.0.0.0"),
		Port:        envInt("SWITCHBOARD_PORT", 8080),
		Environment: envLower("SWITCHBOARD_ENVIRONMENT", EnvProduction),
		Verbose:     envBool("SWITCHBOARD_VERBOSE"),

		ProxyAPIKey: strings.TrimSpace(os.Getenv("SWITCHBOARD_PROXY_API_KEY")),

		Primary: ProviderConfig{
			Name:     ProviderPrimary,
			Endpoint: strings.TrimSpace(os.Getenv("SWITCHBOARD_UPSTREAM_ENDPOINT")),
			APIKey:   strings.TrimSpace(os.Getenv("SWITCHBOARD_UPSTREAM_API_KEY")),
		},

		UpstreamModel:      strings.TrimSpace(os.Getenv("SWITCHBOARD_UPSTREAM_MODEL")),
		UpstreamTimeout:    time.Duration(envInt("SWITCHBOARD_UPSTREAM_TIMEOUT_MS", 120000)) * time.Millisecond,
		UpstreamMaxRetries: envInt("SWITCHBOARD_UPSTREAM_MAX_RETRIES", 3),

		DefaultReasoningEffort: envLower("SWITCHBOARD_DEFAULT_REASONING_EFFORT", "medium"),
		DomainBoostKeywords:    envList("SWITCHBOARD_DOMAIN_BOOST_KEYWORDS"),

		ContentSecurity:     envBoolDefault("SWITCHBOARD_CONTENT_SECURITY", true),
		MaxRequestSize:      envInt64("SWITCHBOARD_MAX_REQUEST_SIZE", 10*1024*1024),
		MaxResponseSize:     envInt64("SWITCHBOARD_MAX_RESPONSE_SIZE", 10*1024*1024),
		MaxCompletionLength: envInt("SWITCHBOARD_MAX_COMPLETION_LENGTH", 4*1024*1024),
		MaxChoicesCount:     envInt("SWITCHBOARD_MAX_CHOICES", 4),

		MaxConversationAge:         envDuration("SWITCHBOARD_MAX_CONVERSATION_AGE", 5*time.Minute),
		MaxStoredConversations:     envInt("SWITCHBOARD_MAX_STORED_CONVERSATIONS", 10000),
		MaxHistoryLength:           envInt("SWITCHBOARD_MAX_HISTORY_LENGTH", 50),
		MaxHistoryAge:              envDuration("SWITCHBOARD_MAX_HISTORY_AGE", 5*time.Minute),
		MaxConcurrentConversations: envInt("SWITCHBOARD_MAX_CONCURRENT_CONVERSATIONS", 1000),

		FailureThreshold:   envInt("SWITCHBOARD_BREAKER_FAILURE_THRESHOLD", 5),
		RecoveryTimeout:    envDuration("SWITCHBOARD_BREAKER_RECOVERY_TIMEOUT", time.Second),
		MaxRecoveryTimeout: envDuration("SWITCHBOARD_BREAKER_MAX_RECOVERY_TIMEOUT", time.Minute),

		PublicModelLabel: strings.TrimSpace(os.Getenv("SWITCHBOARD_PUBLIC_MODEL_LABEL")),
		RoutingFile:      strings.TrimSpace(os.Getenv("SWITCHBOARD_ROUTING_FILE")),
	}

	kinds, err := parseExpectedKinds(os.Getenv("SWITCHBOARD_BREAKER_EXPECTED_ERRORS"))
	if err != nil {
		return nil, err
	}
	cfg.ExpectedErrorKinds = kinds

	if endpoint := strings.TrimSpace(os.Getenv("SWITCHBOARD_SECONDARY_ENDPOINT")); endpoint != "" {
		cfg.Secondary = &ProviderConfig{
			Name:         ProviderSecondary,
			Endpoint:     endpoint,
			APIKey:       strings.TrimSpace(os.Getenv("SWITCHBOARD_SECONDARY_API_KEY")),
			TokenURL:     strings.TrimSpace(os.Getenv("SWITCHBOARD_SECONDARY_TOKEN_URL")),
			ClientID:     strings.TrimSpace(os.Getenv("SWITCHBOARD_SECONDARY_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("SWITCHBOARD_SECONDARY_CLIENT_SECRET")),
		}
	}

	if cfg.RoutingFile != "" {
		routes, err := LoadRoutingFile(cfg.RoutingFile)
		if err != nil {
			return nil, fmt.Errorf("routing file %s: %w", cfg.RoutingFile, err)
		}
		cfg.Routes = routes
	} else {
		cfg.Routes = DefaultRoutes(cfg.UpstreamModel)
	}

	return cfg, nil
}

// DefaultRoutes builds the routing table used when no file is configured:
// the upstream model and the "default" alias both resolve to it on the
// primary provider.
func DefaultRoutes(upstreamModel string) []RouteRule {
	if upstreamModel == "" {
		return nil
	}
	return []RouteRule{{
		Provider: ProviderPrimary,
		Model:    upstreamModel,
		Aliases:  []string{upstreamModel, "default"},
	}}
}

var modelNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// Validate checks every option against its allowed range and returns all
// violations joined into a single error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if n := len(c.ProxyAPIKey); n < 32 || n > 256 {
		add("proxy API key must be 32-256 characters, got %d", n)
	}
	if c.Primary.Endpoint == "" {
		add("upstream endpoint is required")
	} else if err := c.validateEndpoint(c.Primary.Endpoint); err != nil {
		add("upstream endpoint: %v", err)
	}
	if n := len(c.Primary.APIKey); n < 32 || n > 256 {
		add("upstream API key must be 32-256 characters, got %d", n)
	}
	if c.UpstreamModel != "" && !modelNameRe.MatchString(c.UpstreamModel) {
		add("upstream model must be 1-100 characters of [A-Za-z0-9_-], got %q", c.UpstreamModel)
	}

	if c.Port < 1024 || c.Port > 65535 {
		add("port must be 1024-65535, got %d", c.Port)
	}
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		add("environment must be development, production, or test, got %q", c.Environment)
	}
	if c.UpstreamTimeout < 5*time.Second || c.UpstreamTimeout > 300*time.Second {
		add("upstream timeout must be 5000-300000 ms, got %d", c.UpstreamTimeout.Milliseconds())
	}
	if c.UpstreamMaxRetries < 0 || c.UpstreamMaxRetries > 10 {
		add("upstream max retries must be 0-10, got %d", c.UpstreamMaxRetries)
	}
	switch c.DefaultReasoningEffort {
	case "minimal", "low", "medium", "high":
	default:
		add("default reasoning effort must be minimal, low, medium, or high, got %q", c.DefaultReasoningEffort)
	}

	if c.MaxRequestSize <= 0 {
		add("max request size must be positive, got %d", c.MaxRequestSize)
	}
	if c.MaxResponseSize <= 0 {
		add("max response size must be positive, got %d", c.MaxResponseSize)
	}
	if c.MaxCompletionLength <= 0 {
		add("max completion length must be positive, got %d", c.MaxCompletionLength)
	}
	if c.MaxChoicesCount < 1 {
		add("max choices count must be at least 1, got %d", c.MaxChoicesCount)
	}
	if c.MaxConversationAge <= 0 {
		add("max conversation age must be positive, got %s", c.MaxConversationAge)
	}
	if c.MaxStoredConversations < 1 {
		add("max stored conversations must be at least 1, got %d", c.MaxStoredConversations)
	}
	if c.MaxHistoryLength < 1 {
		add("max history length must be at least 1, got %d", c.MaxHistoryLength)
	}
	if c.MaxHistoryAge <= 0 {
		add("max history age must be positive, got %s", c.MaxHistoryAge)
	}
	if c.MaxConcurrentConversations < 1 {
		add("max concurrent conversations must be at least 1, got %d", c.MaxConcurrentConversations)
	}

	if c.FailureThreshold < 1 {
		add("breaker failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		add("breaker recovery timeout must be positive, got %s", c.RecoveryTimeout)
	}
	if c.MaxRecoveryTimeout < c.RecoveryTimeout {
		add("breaker max recovery timeout %s must not be below the base %s", c.MaxRecoveryTimeout, c.RecoveryTimeout)
	}

	if c.Secondary != nil {
		if err := c.validateEndpoint(c.Secondary.Endpoint); err != nil {
			add("secondary endpoint: %v", err)
		}
		hasKey := len(c.Secondary.APIKey) >= 32 && len(c.Secondary.APIKey) <= 256
		hasOAuth := c.Secondary.TokenURL != "" && c.Secondary.ClientID != "" && c.Secondary.ClientSecret != ""
		if !hasKey && !hasOAuth {
			add("secondary provider needs a 32-256 character API key or token URL + client credentials")
		}
	}

	if len(c.Routes) == 0 {
		add("routing table is empty; set SWITCHBOARD_UPSTREAM_MODEL or SWITCHBOARD_ROUTING_FILE")
	}
	for i, rule := range c.Routes {
		switch rule.Provider {
		case ProviderPrimary:
		case ProviderSecondary:
			if c.Secondary == nil {
				add("route %d targets the secondary provider, which is not configured", i)
			}
		default:
			add("route %d has unknown provider %q", i, rule.Provider)
		}
		if !modelNameRe.MatchString(rule.Model) {
			add("route %d model must be 1-100 characters of [A-Za-z0-9_-], got %q", i, rule.Model)
		}
		if len(rule.Aliases) == 0 {
			add("route %d has no aliases", i)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// validateEndpoint requires an absolute URL; HTTPS is mandatory in
// production, plain HTTP is allowed in development and test.
func (c *Config) validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("not a valid URL: %v", err)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", endpoint)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if c.Environment != EnvProduction {
			return nil
		}
		return fmt.Errorf("must use https in production, got %q", endpoint)
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// DefaultExpectedKinds is the breaker's expected-error set when none is
// configured.
func DefaultExpectedKinds() []apierr.Kind {
	return []apierr.Kind{apierr.Network, apierr.Timeout, apierr.UpstreamServer}
}

func parseExpectedKinds(raw string) ([]apierr.Kind, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultExpectedKinds(), nil
	}
	var kinds []apierr.Kind
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, ok := apierr.ParseKind(part)
		if !ok {
			return nil, fmt.Errorf("unknown error kind %q in SWITCHBOARD_BREAKER_EXPECTED_ERRORS", part)
		}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return DefaultExpectedKinds(), nil
	}
	return kinds, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envLower(key, defaultVal string) string {
	if v := strings.ToLower(strings.TrimSpace(os.Getenv(key))); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envInt64(key string, defaultVal int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// envDuration reads a Go duration string ("90s", "5m").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
