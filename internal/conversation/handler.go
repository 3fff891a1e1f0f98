package conversation

import (
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/relayforge/switchboard/internal/reasoning"
	"github.com/relayforge/switchboard/internal/types"
)

// snapshotLimit bounds the text stored per history entry.
const snapshotLimit = 2048

// Plan is the multi-turn decision for one request: whether to chain onto the
// stored upstream response and how the conversation currently grades.
type Plan struct {
	PreviousResponseID string
	ShouldUsePrevious  bool
	HistoryLength      int
	Complexity         reasoning.Complexity
}

// Handler wraps the Manager with per-turn history plumbing.
type Handler struct {
	manager       *Manager
	maxHistoryLen int
	maxHistoryAge time.Duration
}

// DefaultMaxHistoryLen caps history entries kept per conversation.
const DefaultMaxHistoryLen = 50

// NewHandler builds a handler over manager. maxHistoryAge is the continuity
// window: conversations idle longer than it start a fresh upstream chain.
func NewHandler(manager *Manager, maxHistoryLen int, maxHistoryAge time.Duration) *Handler {
	if maxHistoryLen <= 0 {
		maxHistoryLen = DefaultMaxHistoryLen
	}
	if maxHistoryAge <= 0 {
		maxHistoryAge = DefaultMaxAge
	}
	return &Handler{
		manager:       manager,
		maxHistoryLen: maxHistoryLen,
		maxHistoryAge: maxHistoryAge,
	}
}

// Process decides continuity for a request. ShouldUsePrevious holds only
// when the stored conversation is active, fresh within the continuity
// window, and actually has a previous response to chain onto.
func (h *Handler) Process(req *types.NormalizedRequest, key, correlationID string) Plan {
	plan := Plan{Complexity: h.manager.AnalyzeComplexity(key, req)}

	now := time.Now()
	h.manager.mu.Lock()
	if st, ok := h.manager.states[key]; ok {
		plan.HistoryLength = len(st.history)
		if st.isActive && now.Sub(st.lastUpdatedAt) <= h.maxHistoryAge && st.previousResponseID != "" {
			plan.PreviousResponseID = st.previousResponseID
			plan.ShouldUsePrevious = true
		}
	}
	h.manager.mu.Unlock()

	if plan.ShouldUsePrevious {
		slog.Debug("conversation.continuity",
			"correlation_id", correlationID,
			"key", key,
			"previous_response_id", plan.PreviousResponseID,
			"history_length", plan.HistoryLength)
	}
	return plan
}

// RecordTurn appends a history entry for a completed turn and updates the
// conversation aggregates. A nil response records a failed turn.
func (h *Handler) RecordTurn(key string, req *types.NormalizedRequest, resp *types.ResponsesResponse, responseTime time.Duration, correlationID string) {
	if key == "" {
		return
	}

	entry := HistoryEntry{
		MessageID:    uuid.NewString(),
		Request:      clipSnapshot(req.UserText()),
		ResponseTime: responseTime,
		Timestamp:    time.Now(),
	}
	metrics := TurnMetrics{ResponseTime: responseTime}

	responseID := ""
	if resp != nil {
		entry.Response = clipSnapshot(resp.Text())
		if resp.Usage != nil {
			entry.TokenUsage = resp.Usage.TotalTokens
			metrics.TotalTokens = resp.Usage.TotalTokens
			metrics.ReasoningTokens = resp.Usage.ReasoningTokens
		}
		metrics.IsError = resp.HasError()
		if !resp.HasError() {
			responseID = resp.ID
		}
	} else {
		metrics.IsError = true
	}

	h.manager.mu.Lock()
	st := h.manager.getOrCreateLocked(key, entry.Timestamp)
	st.history = append(st.history, entry)
	if len(st.history) > h.maxHistoryLen {
		n := copy(st.history, st.history[len(st.history)-h.maxHistoryLen:])
		st.history = st.history[:n]
	}
	h.manager.mu.Unlock()

	h.manager.Track(key, responseID, &metrics)

	slog.Debug("conversation.turn.recorded",
		"correlation_id", correlationID,
		"key", key,
		"response_id", responseID,
		"response_time_ms", responseTime.Milliseconds(),
		"tokens", metrics.TotalTokens)
}

// CleanupHistory drops history entries past the continuity window. With a
// key it trims one conversation; with an empty key it trims all of them,
// then sweeps idle conversations and re-applies the capacity caps. Returns
// the number of entries and conversations removed.
func (h *Handler) CleanupHistory(key string) int {
	now := time.Now()
	removed := 0

	h.manager.mu.Lock()
	if key != "" {
		if st, ok := h.manager.states[key]; ok {
			removed = h.trimHistoryLocked(st, now)
		}
		h.manager.mu.Unlock()
		return removed
	}
	for _, st := range h.manager.states {
		removed += h.trimHistoryLocked(st, now)
	}
	h.manager.mu.Unlock()

	removed += h.manager.CleanupOld()
	h.manager.EnforceCapacity()
	return removed
}

func (h *Handler) trimHistoryLocked(st *state, now time.Time) int {
	drop := 0
	for _, e := range st.history {
		if now.Sub(e.Timestamp) <= h.maxHistoryAge {
			break
		}
		drop++
	}
	if drop == 0 {
		return 0
	}
	n := copy(st.history, st.history[drop:])
	st.history = st.history[:n]
	return drop
}

// Archive deactivates the conversation, keeping its history readable.
func (h *Handler) Archive(key string) bool {
	return h.manager.Archive(key)
}

// Stats summarizes memory pressure for the health endpoint.
type Stats struct {
	Conversations  int   `json:"conversations"`
	Active         int   `json:"active"`
	HistoryEntries int   `json:"history_entries"`
	ApproxBytes    int64 `json:"approx_bytes"`
}

// Stats reports conversation counts and an order-of-magnitude memory
// estimate.
func (h *Handler) Stats() Stats {
	const (
		stateOverhead = 256
		entryOverhead = 128
	)

	h.manager.mu.Lock()
	defer h.manager.mu.Unlock()

	var s Stats
	s.Conversations = len(h.manager.states)
	for _, st := range h.manager.states {
		if st.isActive {
			s.Active++
		}
		s.HistoryEntries += len(st.history)
		s.ApproxBytes += stateOverhead + int64(len(st.key))
		for _, e := range st.history {
			s.ApproxBytes += entryOverhead + int64(len(e.Request)+len(e.Response)+len(e.MessageID))
		}
	}
	return s
}

// clipSnapshot truncates s at a rune boundary near snapshotLimit.
func clipSnapshot(s string) string {
	if len(s) <= snapshotLimit {
		return s
	}
	cut := snapshotLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
