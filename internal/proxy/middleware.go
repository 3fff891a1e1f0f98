package proxy

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/switchboard/internal/apierr"
	"github.com/relayforge/switchboard/internal/types"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

const correlationHeader = "X-Correlation-ID"

// correlationMiddleware tags every request with a fresh UUID. The id rides in
// the request context, the response header, and every log line and error body
// touched downstream.
func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := uuid.NewString()
		w.Header().Set(correlationHeader, cid)
		ctx := context.WithValue(r.Context(), correlationIDKey, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// corsMiddleware allows requests from any origin. The proxy fronts a single
// shared credential, so a per-origin allowlist buys nothing here.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqHeaders := r.Header.Get("Access-Control-Request-Headers")
		if reqHeaders == "" {
			reqHeaders = "Authorization, Content-Type, Accept"
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const (
	missingCredentialsError = "missing credentials: expected Authorization: Bearer or x-api-key header"
	invalidCredentialsError = "invalid credentials"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expectedKey := ""
		if s.Config != nil {
			expectedKey = strings.TrimSpace(s.Config.ProxyAPIKey)
		}
		if expectedKey == "" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		switch r.URL.Path {
		case "/", "/health":
			next.ServeHTTP(w, r)
			return
		}
		if !requiresProxyKey(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		presented, found := extractCredentials(r.Header)
		if !found {
			writeAPIError(w, dialectForPath(r.URL.Path), apierr.New(apierr.Authentication, missingCredentialsError), correlationID(r.Context()))
			return
		}
		if !credentialsEqual(presented, expectedKey) {
			writeAPIError(w, dialectForPath(r.URL.Path), apierr.New(apierr.Authentication, invalidCredentialsError), correlationID(r.Context()))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractCredentials pulls the client key from Authorization: Bearer or
// x-api-key; a well-formed Bearer header wins when both are present.
func extractCredentials(h http.Header) (string, bool) {
	if token, ok := parseBearerAuthToken(h.Get("Authorization")); ok {
		return token, true
	}
	if key := strings.TrimSpace(h.Get("x-api-key")); key != "" {
		return key, true
	}
	return "", false
}

func parseBearerAuthToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

// credentialsEqual compares keys in constant time. Both sides are hashed
// first because ConstantTimeCompare short-circuits on length mismatch, which
// would leak the configured key length through response latency.
func credentialsEqual(presented, expected string) bool {
	p := sha256.Sum256([]byte(presented))
	e := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(p[:], e[:]) == 1
}

func requiresProxyKey(path string) bool {
	return strings.HasPrefix(path, "/v1/")
}

// dialectForPath picks the error envelope for requests rejected before
// detection runs. Path is all we have at that point.
func dialectForPath(path string) types.Dialect {
	if strings.HasPrefix(path, "/v1/messages") {
		return types.DialectAnthropic
	}
	return types.DialectChat
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if s.Config.Verbose && slog.Default().Enabled(r.Context(), slog.LevelDebug) {
			if dump, err := httputil.DumpRequest(r, true); err == nil {
				slog.Debug("request.received",
					"correlation_id", correlationID(r.Context()),
					"dump", string(dump),
				)
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request.completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"correlation_id", correlationID(r.Context()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE handlers still see a flusher behind the
// recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
