package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/relayforge/switchboard/internal/config"
	"github.com/relayforge/switchboard/internal/proxy"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		os.Exit(cmdServe(args))
	case "info":
		os.Exit(cmdInfo(args))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Commands: serve, info")
		os.Exit(1)
	}
}

// loadConfig builds the configuration from .env plus the environment and
// layers command-line flags on top. extra lets a command register its own
// flags on the shared set before parsing.
func loadConfig(name string, args []string, extra func(*flag.FlagSet)) (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	routingFile := fs.String("routing-file", cfg.RoutingFile, "Path to the YAML routing table")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.StringVar(&cfg.DefaultReasoningEffort, "reasoning-effort", cfg.DefaultReasoningEffort,
		"Default reasoning effort (minimal|low|medium|high)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *routingFile != cfg.RoutingFile {
		cfg.RoutingFile = *routingFile
		routes, err := config.LoadRoutingFile(cfg.RoutingFile)
		if err != nil {
			return nil, fmt.Errorf("routing file %s: %w", cfg.RoutingFile, err)
		}
		cfg.Routes = routes
	}

	return cfg, nil
}

// setupLogger installs the process logger: human-readable in development,
// JSON everywhere else.
func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Environment == config.EnvDevelopment {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func cmdServe(args []string) int {
	cfg, err := loadConfig("serve", args, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("configuration invalid", "error", err)
		return 1
	}

	srv, err := proxy.New(cfg)
	if err != nil {
		slog.Error("failed to build server", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("switchboard starting",
		"host", cfg.Host,
		"port", cfg.Port,
		"environment", cfg.Environment,
		"routes", len(cfg.Routes),
	)
	if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

// infoOutput is the masked configuration summary printed by the info command.
type infoOutput struct {
	Host        string      `json:"host"`
	Port        int         `json:"port"`
	Environment string      `json:"environment"`
	ProxyAPIKey string      `json:"proxy_api_key"`
	Providers   []infoProv  `json:"providers"`
	Effort      string      `json:"default_reasoning_effort"`
	Routes      []infoRoute `json:"routes"`
}

type infoProv struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key,omitempty"`
	Auth     string `json:"auth"`
}

type infoRoute struct {
	Aliases  []string `json:"aliases"`
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
}

func cmdInfo(args []string) int {
	var jsonOut bool
	cfg, err := loadConfig("info", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&jsonOut, "json", false, "Output the summary as JSON")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	out := infoOutput{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Environment: cfg.Environment,
		ProxyAPIKey: maskSecret(cfg.ProxyAPIKey),
		Effort:      cfg.DefaultReasoningEffort,
	}
	out.Providers = append(out.Providers, describeProvider(cfg.Primary))
	if cfg.Secondary != nil {
		out.Providers = append(out.Providers, describeProvider(*cfg.Secondary))
	}
	for _, rule := range cfg.Routes {
		out.Routes = append(out.Routes, infoRoute{
			Aliases:  rule.Aliases,
			Provider: rule.Provider,
			Model:    rule.Model,
		})
	}

	if jsonOut {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Println("Switchboard configuration")
	fmt.Printf("  Listen:      %s:%d (%s)\n", out.Host, out.Port, out.Environment)
	fmt.Printf("  Proxy key:   %s\n", out.ProxyAPIKey)
	fmt.Printf("  Effort:      %s\n", out.Effort)
	fmt.Println()
	fmt.Println("Providers")
	for _, p := range out.Providers {
		fmt.Printf("  %-10s %s (%s)\n", p.Name, p.Endpoint, p.Auth)
	}
	fmt.Println()
	fmt.Println("Routes")
	if len(out.Routes) == 0 {
		fmt.Println("  (none configured)")
	}
	for _, r := range out.Routes {
		fmt.Printf("  %s -> %s/%s\n", strings.Join(r.Aliases, ", "), r.Provider, r.Model)
	}
	return 0
}

func describeProvider(p config.ProviderConfig) infoProv {
	auth := "api key"
	if p.APIKey == "" && p.TokenURL != "" {
		auth = "oauth2 client credentials"
	}
	return infoProv{
		Name:     p.Name,
		Endpoint: p.Endpoint,
		APIKey:   maskSecret(p.APIKey),
		Auth:     auth,
	}
}

// maskSecret keeps just enough of a credential to recognize it in a config
// diff.
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:3] + "..." + s[len(s)-4:]
}
