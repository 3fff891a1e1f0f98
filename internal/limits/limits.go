// Package limits tracks the most recent rate-limit headers returned by each
// upstream provider. Snapshots are process-local and surface on /health.
package limits

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Window holds the rate-limit values parsed from one upstream response.
// Reset fields are normalized to whole seconds.
type Window struct {
	LimitRequests     *int `json:"limit_requests,omitempty"`
	RemainingRequests *int `json:"remaining_requests,omitempty"`
	ResetRequestsIn   *int `json:"reset_requests_seconds,omitempty"`
	LimitTokens       *int `json:"limit_tokens,omitempty"`
	RemainingTokens   *int `json:"remaining_tokens,omitempty"`
	ResetTokensIn     *int `json:"reset_tokens_seconds,omitempty"`
	RetryAfterSeconds *int `json:"retry_after_seconds,omitempty"`
}

// Snapshot is one provider's latest window with its capture time.
type Snapshot struct {
	Provider   string `json:"provider"`
	CapturedAt string `json:"captured_at"`
	Window
}

// ParseHeaders extracts rate-limit information from upstream response
// headers. Returns nil when no recognized header is present.
func ParseHeaders(headers http.Header) *Window {
	if headers == nil {
		return nil
	}
	w := &Window{
		LimitRequests:     parseCount(headers.Get("x-ratelimit-limit-requests")),
		RemainingRequests: parseCount(headers.Get("x-ratelimit-remaining-requests")),
		ResetRequestsIn:   parseResetSeconds(headers.Get("x-ratelimit-reset-requests")),
		LimitTokens:       parseCount(headers.Get("x-ratelimit-limit-tokens")),
		RemainingTokens:   parseCount(headers.Get("x-ratelimit-remaining-tokens")),
		ResetTokensIn:     parseResetSeconds(headers.Get("x-ratelimit-reset-tokens")),
		RetryAfterSeconds: parseCount(headers.Get("retry-after")),
	}
	if w.LimitRequests == nil && w.RemainingRequests == nil && w.ResetRequestsIn == nil &&
		w.LimitTokens == nil && w.RemainingTokens == nil && w.ResetTokensIn == nil &&
		w.RetryAfterSeconds == nil {
		return nil
	}
	return w
}

func parseCount(v string) *int {
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return nil
	}
	return &i
}

// parseResetSeconds accepts either plain integer seconds or a Go-style
// duration string ("6m0s"), both of which providers send in reset headers.
func parseResetSeconds(v string) *int {
	if v == "" {
		return nil
	}
	if i, err := strconv.Atoi(v); err == nil {
		if i < 0 {
			return nil
		}
		return &i
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return nil
	}
	secs := int(d.Seconds())
	return &secs
}

// Recorder keeps the latest window per provider.
type Recorder struct {
	mu         sync.Mutex
	byProvider map[string]Snapshot
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{byProvider: make(map[string]Snapshot)}
}

// Record parses headers and stores the window under the provider's name.
// Responses without rate-limit headers leave the previous snapshot in place.
func (r *Recorder) Record(provider string, headers http.Header) {
	w := ParseHeaders(headers)
	if w == nil || provider == "" {
		return
	}
	snap := Snapshot{
		Provider:   provider,
		CapturedAt: time.Now().UTC().Format(time.RFC3339),
		Window:     *w,
	}
	r.mu.Lock()
	r.byProvider[provider] = snap
	r.mu.Unlock()
}

// Snapshot returns the latest window for every provider seen, sorted by
// provider name.
func (r *Recorder) Snapshot() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.byProvider))
	for _, snap := range r.byProvider {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// std is the process-wide recorder used by the upstream client.
var std = NewRecorder()

// Record stores rate-limit headers from an upstream response against the
// named provider.
func Record(provider string, headers http.Header) {
	std.Record(provider, headers)
}

// Current returns the process-wide recorder's snapshots.
func Current() []Snapshot {
	return std.Snapshot()
}
