package conversation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/switchboard/internal/types"
)

func newTestHandler() (*Handler, *Manager) {
	m := newTestManager()
	return NewHandler(m, 5, 5*time.Minute), m
}

func responsesReply(id, text string, tokens int) *types.ResponsesResponse {
	return &types.ResponsesResponse{
		ID:     id,
		Object: "response",
		Model:  "gpt-5-codex",
		Output: []types.ResponsesOutputItem{{Type: "text", Text: text}},
		Usage: &types.ResponsesUsage{
			PromptTokens:     tokens / 2,
			CompletionTokens: tokens / 2,
			TotalTokens:      tokens,
			ReasoningTokens:  1,
		},
	}
}

func TestProcessFreshConversation(t *testing.T) {
	h, _ := newTestHandler()

	plan := h.Process(simpleRequest("hello"), "k1", "corr-1")
	assert.False(t, plan.ShouldUsePrevious)
	assert.Empty(t, plan.PreviousResponseID)
	assert.Equal(t, 0, plan.HistoryLength)
}

func TestProcessChainsOntoRecordedTurn(t *testing.T) {
	h, _ := newTestHandler()
	req := simpleRequest("hello")

	h.RecordTurn("k1", req, responsesReply("resp-1", "hi there", 10), 100*time.Millisecond, "corr-1")

	plan := h.Process(req, "k1", "corr-2")
	assert.True(t, plan.ShouldUsePrevious)
	assert.Equal(t, "resp-1", plan.PreviousResponseID)
	assert.Equal(t, 1, plan.HistoryLength)
}

func TestProcessSkipsStaleConversation(t *testing.T) {
	h, m := newTestHandler()
	req := simpleRequest("hello")

	h.RecordTurn("k1", req, responsesReply("resp-1", "hi", 10), time.Millisecond, "corr-1")
	backdate(m, "k1", 10*time.Minute)

	plan := h.Process(req, "k1", "corr-2")
	assert.False(t, plan.ShouldUsePrevious, "idle conversations start a fresh chain")
}

func TestProcessSkipsArchivedConversation(t *testing.T) {
	h, _ := newTestHandler()
	req := simpleRequest("hello")

	h.RecordTurn("k1", req, responsesReply("resp-1", "hi", 10), time.Millisecond, "corr-1")
	require.True(t, h.Archive("k1"))

	plan := h.Process(req, "k1", "corr-2")
	assert.False(t, plan.ShouldUsePrevious)
}

func TestRecordTurnSequence(t *testing.T) {
	h, m := newTestHandler()
	req := simpleRequest("hello")

	h.RecordTurn("k1", req, responsesReply("resp-1", "first", 10), 100*time.Millisecond, "c1")
	h.RecordTurn("k1", req, responsesReply("resp-2", "second", 20), 200*time.Millisecond, "c2")

	ctx, ok := m.MetricsFor("k1")
	require.True(t, ok)
	assert.Equal(t, 2, ctx.MessageCount)
	assert.Equal(t, "resp-2", ctx.PreviousResponseID)
	assert.Equal(t, 30, ctx.TotalTokensUsed)
}

func TestRecordTurnErrorKeepsPreviousID(t *testing.T) {
	h, m := newTestHandler()
	req := simpleRequest("hello")

	h.RecordTurn("k1", req, responsesReply("resp-1", "ok", 10), time.Millisecond, "c1")

	failed := responsesReply("resp-2", "", 0)
	failed.Error = &types.ResponsesError{Type: "server_error", Message: "boom"}
	h.RecordTurn("k1", req, failed, time.Millisecond, "c2")

	id, ok := m.PreviousResponseIDFor("k1")
	require.True(t, ok)
	assert.Equal(t, "resp-1", id, "failed turns must not advance the chain")

	ctx, _ := m.MetricsFor("k1")
	assert.Equal(t, 1, ctx.ErrorCount)
}

func TestRecordTurnNilResponseCountsError(t *testing.T) {
	h, m := newTestHandler()

	h.RecordTurn("k1", simpleRequest("hello"), nil, time.Millisecond, "c1")

	ctx, ok := m.MetricsFor("k1")
	require.True(t, ok)
	assert.Equal(t, 1, ctx.ErrorCount)
	assert.Empty(t, ctx.PreviousResponseID)
}

func TestRecordTurnCapsHistory(t *testing.T) {
	h, m := newTestHandler() // history cap 5
	req := simpleRequest("hello")

	for i := 0; i < 8; i++ {
		h.RecordTurn("k1", req, responsesReply(fmt.Sprintf("r%d", i), fmt.Sprintf("answer %d", i), 10), time.Millisecond, "c")
	}

	m.mu.Lock()
	history := m.states["k1"].history
	m.mu.Unlock()

	require.Len(t, history, 5)
	assert.Equal(t, "answer 3", history[0].Response, "oldest entries evicted first")
	assert.Equal(t, "answer 7", history[4].Response)
}

func TestRecordTurnClipsSnapshots(t *testing.T) {
	h, m := newTestHandler()
	long := strings.Repeat("x", snapshotLimit+500)

	h.RecordTurn("k1", simpleRequest(long), responsesReply("r1", long, 10), time.Millisecond, "c")

	m.mu.Lock()
	entry := m.states["k1"].history[0]
	m.mu.Unlock()

	assert.Len(t, entry.Request, snapshotLimit)
	assert.Len(t, entry.Response, snapshotLimit)
	assert.NotEmpty(t, entry.MessageID)
}

func TestCleanupHistoryTrimsOldEntries(t *testing.T) {
	h, m := newTestHandler()
	req := simpleRequest("hello")

	h.RecordTurn("k1", req, responsesReply("r1", "old", 10), time.Millisecond, "c1")
	h.RecordTurn("k1", req, responsesReply("r2", "new", 10), time.Millisecond, "c2")

	m.mu.Lock()
	m.states["k1"].history[0].Timestamp = time.Now().Add(-10 * time.Minute)
	m.mu.Unlock()

	removed := h.CleanupHistory("k1")
	assert.Equal(t, 1, removed)

	m.mu.Lock()
	history := m.states["k1"].history
	m.mu.Unlock()
	require.Len(t, history, 1)
	assert.Equal(t, "new", history[0].Response)
}

func TestCleanupHistoryAllSweepsIdleConversations(t *testing.T) {
	h, m := newTestHandler()
	req := simpleRequest("hello")

	h.RecordTurn("stale", req, responsesReply("r1", "a", 10), time.Millisecond, "c1")
	h.RecordTurn("fresh", req, responsesReply("r2", "b", 10), time.Millisecond, "c2")
	backdate(m, "stale", 10*time.Minute)

	removed := h.CleanupHistory("")
	assert.GreaterOrEqual(t, removed, 1)

	_, ok := m.PreviousResponseIDFor("stale")
	assert.False(t, ok)
	_, ok = m.PreviousResponseIDFor("fresh")
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	h, _ := newTestHandler()
	req := simpleRequest("hello")

	h.RecordTurn("k1", req, responsesReply("r1", "a", 10), time.Millisecond, "c1")
	h.RecordTurn("k2", req, responsesReply("r2", "b", 10), time.Millisecond, "c2")
	h.Archive("k2")

	s := h.Stats()
	assert.Equal(t, 2, s.Conversations)
	assert.Equal(t, 1, s.Active)
	assert.Equal(t, 2, s.HistoryEntries)
	assert.Greater(t, s.ApproxBytes, int64(0))
}
