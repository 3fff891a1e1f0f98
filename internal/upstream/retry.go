package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/relayforge/switchboard/internal/apierr"
)

const (
	// retryBase is the first backoff delay; later attempts double it.
	retryBase = 250 * time.Millisecond
	// retryCap bounds the computed backoff (a Retry-After header may still
	// ask for a longer wait).
	retryCap = 4 * time.Second
	// errorBodyCap bounds how much of an upstream error body is read.
	errorBodyCap = 64 * 1024
)

// DoWithRetry sends the request, retrying rate-limit, server, network, and
// timeout failures with jittered exponential backoff. An upstream
// Retry-After header stretches the delay when it asks for more than the
// backoff would wait. 4xx client errors never retry. The returned error is
// always an *apierr.Error.
func (c *Client) DoWithRetry(ctx context.Context, req *Request) (*Response, error) {
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt, lastErr)
			slog.Warn("upstream.retry",
				"provider", c.name,
				"attempt", attempt,
				"delay", delay,
				"reason", string(apierr.KindOf(lastErr)),
				"correlation_id", req.CorrelationID)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		resp, err := c.Do(ctx, req)
		if err != nil {
			lastErr = err
			if retryableKind(apierr.KindOf(err)) {
				continue
			}
			return nil, err
		}
		if resp.StatusCode < 400 {
			return resp, nil
		}

		body := readErrorBody(resp.Body)
		lastErr = classifyStatus(resp.StatusCode, body, resp.Header)
		if !retryableStatus(resp.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func retryableKind(kind apierr.Kind) bool {
	return kind == apierr.Network || kind == apierr.Timeout
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryDelay computes the wait before the given attempt: exponential from
// retryBase with jitter in [delay/2, delay), raised to the upstream's
// requested next-attempt time when that is later.
func retryDelay(attempt int, lastErr error) time.Duration {
	delay := retryBase << (attempt - 1)
	if delay > retryCap {
		delay = retryCap
	}
	delay = delay/2 + time.Duration(rand.Int64N(int64(delay/2)))

	var ae *apierr.Error
	if errors.As(lastErr, &ae) && !ae.NextAttempt.IsZero() {
		if wait := time.Until(ae.NextAttempt); wait > delay {
			delay = wait
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// classifyTransportError maps a failed round trip to an error kind. Timeouts
// are distinguished from other network failures so they can be configured
// separately as expected breaker errors.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return apierr.Wrap(apierr.Internal, err, "upstream request canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.Wrap(apierr.Timeout, err, "upstream request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierr.Wrap(apierr.Timeout, err, "upstream request timed out")
	}
	return apierr.Wrap(apierr.Network, err, "upstream request failed")
}

// classifyStatus maps an upstream HTTP failure to an error kind, carrying
// the provider's message, error type, and status through to the client
// error envelope.
func classifyStatus(status int, body []byte, headers http.Header) error {
	var kind apierr.Kind
	switch {
	case status == http.StatusTooManyRequests:
		kind = apierr.RateLimited
	case status >= 500:
		kind = apierr.UpstreamServer
	default:
		kind = apierr.UpstreamClient
	}

	e := apierr.New(kind, formatUpstreamError(status, body, headers))
	e.UpstreamStatus = status
	e.UpstreamType = strings.TrimSpace(gjson.GetBytes(body, "error.type").String())
	if wait := retryAfter(headers); wait > 0 {
		e.NextAttempt = time.Now().Add(wait)
	}
	return e
}

// retryAfter parses a Retry-After header as delta-seconds or an HTTP date.
func retryAfter(headers http.Header) time.Duration {
	v := strings.TrimSpace(headers.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func readErrorBody(body io.ReadCloser) []byte {
	defer body.Close()
	data, _ := io.ReadAll(io.LimitReader(body, errorBodyCap))
	return data
}

// formatUpstreamError builds the client-facing message for an upstream HTTP
// failure: status line, then the provider's own message when one can be
// extracted, else a compact body preview.
func formatUpstreamError(status int, body []byte, headers http.Header) string {
	line := strconv.Itoa(status)
	if text := http.StatusText(status); text != "" {
		line = fmt.Sprintf("%d %s", status, text)
	}

	var msg string
	switch {
	case extractUpstreamErrorMessage(body) != "":
		msg = fmt.Sprintf("upstream returned HTTP %s: %s", line, extractUpstreamErrorMessage(body))
	case compactBodyPreview(body, 280) != "":
		msg = fmt.Sprintf("upstream returned HTTP %s with unparsed body: %s", line, compactBodyPreview(body, 280))
	default:
		msg = fmt.Sprintf("upstream returned HTTP %s with empty error body", line)
	}

	if reqID := upstreamRequestID(headers); reqID != "" {
		msg = fmt.Sprintf("%s (request_id: %s)", msg, reqID)
	}
	return msg
}

// extractUpstreamErrorMessage pulls a human-readable message out of the
// error body, trying the common envelope shapes in order.
func extractUpstreamErrorMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{
		"error.message",
		"message",
		"detail",
		"error_description",
		"error",
	} {
		v := gjson.GetBytes(body, path)
		if v.Type == gjson.String {
			if msg := strings.TrimSpace(v.String()); msg != "" {
				return msg
			}
		}
	}
	return ""
}

func compactBodyPreview(body []byte, maxLen int) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}
