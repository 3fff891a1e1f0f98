// Package upstream sends responses-API requests to a configured provider
// and classifies transport and status failures into the proxy's error kinds.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/relayforge/switchboard/internal/apierr"
	"github.com/relayforge/switchboard/internal/config"
	"github.com/relayforge/switchboard/internal/limits"
	"github.com/relayforge/switchboard/internal/types"
)

// Request carries one upstream call.
type Request struct {
	Payload       *types.ResponsesRequest
	CorrelationID string
}

// Response wraps the upstream HTTP response. Body is open and must be
// closed by the caller. IsStream reports an event-stream content type,
// which an upstream may answer with even for non-streaming requests.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	RequestID  string
	IsStream   bool
}

// Client posts responses-API payloads to one provider.
type Client struct {
	name       string
	endpoint   string
	apiKey     string
	tokens     oauth2.TokenSource
	httpClient *http.Client
	maxRetries int
	verbose    bool
}

// NewClient builds a client for the provider. A static APIKey wins over
// OAuth2 client credentials when both are configured; with neither, requests
// go out unauthenticated (local development endpoints).
func NewClient(p config.ProviderConfig, timeout time.Duration, maxRetries int, verbose bool) *Client {
	c := &Client{
		name:       p.Name,
		endpoint:   p.Endpoint,
		apiKey:     p.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		verbose:    verbose,
	}
	if p.APIKey == "" && p.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			TokenURL:     p.TokenURL,
		}
		c.tokens = cc.TokenSource(context.Background())
	}
	return c
}

// Name returns the provider name the client was built for.
func (c *Client) Name() string { return c.name }

// Do sends one responses-API request. Transport failures come back
// classified as network or timeout errors; HTTP status handling is the
// retry layer's job.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "marshal upstream payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "build upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Payload.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
	}
	if err := c.authorize(httpReq); err != nil {
		return nil, err
	}

	slog.Debug("upstream.request",
		"provider", c.name,
		"model", req.Payload.Model,
		"input_messages", len(req.Payload.Input),
		"tools", len(req.Payload.Tools),
		"reasoning_effort", req.Payload.ReasoningEffort,
		"has_previous_response", req.Payload.PreviousResponseID != "",
		"stream", req.Payload.Stream,
		"correlation_id", req.CorrelationID,
	)
	if c.verbose {
		slog.Debug("upstream.request.body", "provider", c.name, "bytes", len(body), "body", string(body))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	limits.Record(c.name, resp.Header)

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		RequestID:  upstreamRequestID(resp.Header),
		IsStream:   isEventStream(resp.Header),
	}
	attrs := []any{"provider", c.name, "status", resp.StatusCode, "correlation_id", req.CorrelationID}
	if out.RequestID != "" {
		attrs = append(attrs, "request_id", out.RequestID)
	}
	slog.Debug("upstream.response", attrs...)

	return out, nil
}

// authorize attaches provider credentials. A token-source failure is a
// network-kind error so the breaker treats an unreachable token endpoint
// like an unreachable provider.
func (c *Client) authorize(req *http.Request) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return nil
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return apierr.Wrap(apierr.Network, err, "fetch provider token")
		}
		tok.SetAuthHeader(req)
	}
	return nil
}

func isEventStream(headers http.Header) bool {
	return strings.Contains(strings.ToLower(headers.Get("Content-Type")), "text/event-stream")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func upstreamRequestID(headers http.Header) string {
	if headers == nil {
		return ""
	}
	return firstNonEmpty(
		headers.Get("x-request-id"),
		headers.Get("request-id"),
		headers.Get("cf-ray"),
	)
}
