// Package conversation tracks multi-turn state so follow-up requests can ride
// the upstream's previous_response_id chain instead of resending history.
package conversation

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relayforge/switchboard/internal/reasoning"
	"github.com/relayforge/switchboard/internal/types"
)

// conversationHeaders are checked in priority order when extracting a key.
var conversationHeaders = []string{
	"x-conversation-id",
	"conversation-id",
	"x-session-id",
}

// ExtractKey derives the conversation key for a request. Client-supplied
// headers win; without one, the key falls back to a fingerprint of the
// opening turn.
func ExtractKey(h http.Header, req *types.NormalizedRequest, correlationID string) string {
	for _, name := range conversationHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return FallbackKey(req, correlationID, time.Now())
}

// FallbackKey hashes the first user text, salted with the clock second, so a
// headerless client retrying the same opening turn within one second lands on
// the same conversation. A request with no user text at all is scoped to its
// correlation id.
func FallbackKey(req *types.NormalizedRequest, correlationID string, now time.Time) string {
	text := ""
	if req != nil {
		text = strings.TrimSpace(req.FirstUserText())
	}
	if text == "" {
		return "conv-" + correlationID
	}
	sum := sha256.Sum256([]byte(strconv.FormatInt(now.Unix(), 10) + "\x00" + text))
	return "conv-" + hex.EncodeToString(sum[:4])
}

// TurnMetrics carries what one completed turn contributes to a conversation's
// aggregates.
type TurnMetrics struct {
	ResponseTime    time.Duration
	TotalTokens     int
	ReasoningTokens int
	IsError         bool
}

// Context is a read-only snapshot of a conversation's aggregates.
type Context struct {
	Key                 string
	MessageCount        int
	PreviousResponseID  string
	TotalTokensUsed     int
	ReasoningTokensUsed int
	AverageResponseTime float64 // milliseconds
	ErrorCount          int
	LastTouched         time.Time
	TaskComplexity      reasoning.Complexity
}

// HistoryEntry snapshots one recorded turn. Request and response text are
// truncated so a long conversation cannot pin unbounded memory.
type HistoryEntry struct {
	MessageID    string
	Request      string
	Response     string
	ResponseTime time.Duration
	TokenUsage   int
	Timestamp    time.Time
}

// state is the mutable per-conversation record. All fields are guarded by the
// owning Manager's mutex.
type state struct {
	key           string
	isActive      bool
	createdAt     time.Time
	lastUpdatedAt time.Time

	messageCount        int
	previousResponseID  string
	totalTokensUsed     int
	reasoningTokensUsed int
	errorCount          int
	totalResponseTime   time.Duration
	recordedTurns       int
	lastComplexity      reasoning.Complexity

	history  []HistoryEntry
	listElem *list.Element
}

func (st *state) averageResponseMillis() float64 {
	if st.recordedTurns == 0 {
		return 0
	}
	return float64(st.totalResponseTime.Milliseconds()) / float64(st.recordedTurns)
}

func (st *state) snapshot() Context {
	return Context{
		Key:                 st.key,
		MessageCount:        st.messageCount,
		PreviousResponseID:  st.previousResponseID,
		TotalTokensUsed:     st.totalTokensUsed,
		ReasoningTokensUsed: st.reasoningTokensUsed,
		AverageResponseTime: st.averageResponseMillis(),
		ErrorCount:          st.errorCount,
		LastTouched:         st.lastUpdatedAt,
		TaskComplexity:      st.lastComplexity,
	}
}
