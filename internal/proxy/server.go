package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/relayforge/switchboard/internal/breaker"
	"github.com/relayforge/switchboard/internal/config"
	"github.com/relayforge/switchboard/internal/conversation"
	"github.com/relayforge/switchboard/internal/reasoning"
	"github.com/relayforge/switchboard/internal/routing"
	"github.com/relayforge/switchboard/internal/upstream"
)

// upstreamDoer abstracts a Responses provider so the handlers can be tested
// with a fake instead of a network connection.
type upstreamDoer interface {
	Name() string
	DoWithRetry(context.Context, *upstream.Request) (*upstream.Response, error)
}

// Server is the translating proxy HTTP server.
type Server struct {
	Config        *config.Config
	httpServer    *http.Server
	router        *routing.Router
	analyzer      *reasoning.Analyzer
	manager       *conversation.Manager
	conversations *conversation.Handler
	breakers      *breaker.Registry
	upstreams     map[string]upstreamDoer
	startedAt     time.Time
}

// New creates a proxy server with all routes registered and the conversation
// cleanup timer running.
func New(cfg *config.Config) (*Server, error) {
	router, err := routing.New(cfg.Routes)
	if err != nil {
		return nil, err
	}

	upstreams := map[string]upstreamDoer{
		config.ProviderPrimary: upstream.NewClient(cfg.Primary, cfg.UpstreamTimeout, cfg.UpstreamMaxRetries, cfg.Verbose),
	}
	if cfg.Secondary != nil {
		upstreams[config.ProviderSecondary] = upstream.NewClient(*cfg.Secondary, cfg.UpstreamTimeout, cfg.UpstreamMaxRetries, cfg.Verbose)
	}

	defaultEffort, _ := reasoning.ParseEffort(cfg.DefaultReasoningEffort)
	manager := conversation.NewManager(conversation.ManagerOptions{
		MaxAge:    cfg.MaxConversationAge,
		MaxStored: cfg.MaxStoredConversations,
		MaxActive: cfg.MaxConcurrentConversations,
	})

	s := &Server{
		Config:        cfg,
		router:        router,
		analyzer:      reasoning.NewAnalyzer(defaultEffort, cfg.DomainBoostKeywords),
		manager:       manager,
		conversations: conversation.NewHandler(manager, cfg.MaxHistoryLength, cfg.MaxHistoryAge),
		breakers: breaker.NewRegistry(breaker.Options{
			FailureThreshold:   cfg.FailureThreshold,
			RecoveryTimeout:    cfg.RecoveryTimeout,
			MaxRecoveryTimeout: cfg.MaxRecoveryTimeout,
			ExpectedKinds:      cfg.ExpectedErrorKinds,
		}),
		upstreams: upstreams,
		startedAt: time.Now(),
	}
	// Health reports every configured provider from the first request on.
	for name := range upstreams {
		s.breakers.For(name)
	}
	manager.StartCleanupTimer()

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)

	// OpenAI-compatible routes
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/completions", s.handleCompletions)
	mux.HandleFunc("GET /v1/models", s.handleListModels)

	// Anthropic-compatible routes
	mux.HandleFunc("POST /v1/messages", s.handleAnthropicMessages)

	// OPTIONS for CORS preflight
	mux.HandleFunc("OPTIONS /", s.handleOptions)

	handler := s.correlationMiddleware(s.corsMiddleware(s.authMiddleware(s.logMiddleware(mux))))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
		// ReadTimeout covers only reading the request body; 30s is plenty for any JSON payload.
		ReadTimeout: 30 * time.Second,
		// WriteTimeout must be longer than the upstream timeout plus translation
		// overhead. 600s gives a comfortable margin for long-running reasoning
		// streams without hard-cutting clients mid-response.
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler exposes the fully assembled middleware chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the proxy server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and the conversation janitor.
func (s *Server) Shutdown(ctx context.Context) error {
	s.manager.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
