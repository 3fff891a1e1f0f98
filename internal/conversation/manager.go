package conversation

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/relayforge/switchboard/internal/reasoning"
	"github.com/relayforge/switchboard/internal/types"
)

const (
	// DefaultMaxAge evicts conversations idle longer than this.
	DefaultMaxAge = 5 * time.Minute
	// DefaultMaxStored caps total retained conversations.
	DefaultMaxStored = 10000
	// DefaultMaxActive caps concurrently active conversations.
	DefaultMaxActive = 1000
	// cleanupTick is the interval between background sweeps.
	cleanupTick = 30 * time.Second
)

// Complexity thresholds from the conversation grader.
const (
	simpleMaxMessages  = 5
	simpleMaxTokens    = 2000
	complexMinMessages = 10
	complexMinTokens   = 20000
	complexMinErrors   = 3
	complexSlowMillis  = 10000
)

// ManagerOptions bound the manager's memory footprint.
type ManagerOptions struct {
	MaxAge    time.Duration
	MaxStored int
	MaxActive int
}

// Manager owns every conversation's state. A single mutex guards the map and
// the recency list; the list front is the most recently updated conversation,
// so capacity eviction walks from the back.
type Manager struct {
	mu     sync.Mutex
	states map[string]*state
	lru    *list.List
	opts   ManagerOptions

	timerMu sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
	running bool
}

// NewManager creates a manager. The cleanup timer is not started; call
// StartCleanupTimer once the process is ready to serve.
func NewManager(opts ManagerOptions) *Manager {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.MaxStored <= 0 {
		opts.MaxStored = DefaultMaxStored
	}
	if opts.MaxActive <= 0 {
		opts.MaxActive = DefaultMaxActive
	}
	return &Manager{
		states: make(map[string]*state),
		lru:    list.New(),
		opts:   opts,
	}
}

// Track records a completed turn. It never fails: bad input is logged and
// dropped so a bookkeeping problem can not break the request path.
func (m *Manager) Track(key, responseID string, metrics *TurnMetrics) {
	if key == "" {
		slog.Warn("conversation.track.skipped", "reason", "empty key")
		return
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.getOrCreateLocked(key, now)
	st.messageCount++
	if responseID != "" {
		st.previousResponseID = responseID
	}
	if metrics != nil {
		st.totalResponseTime += metrics.ResponseTime
		st.recordedTurns++
		st.totalTokensUsed += metrics.TotalTokens
		st.reasoningTokensUsed += metrics.ReasoningTokens
		if metrics.IsError {
			st.errorCount++
		}
	}
	st.lastUpdatedAt = now
	m.touchLocked(st)
	m.enforceStoredCapLocked()
	m.enforceActiveCapLocked()
}

// PreviousResponseIDFor returns the id of the conversation's most recent
// successful upstream response.
func (m *Manager) PreviousResponseIDFor(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[key]
	if !ok || st.previousResponseID == "" {
		return "", false
	}
	return st.previousResponseID, true
}

// MetricsFor returns a snapshot of the conversation's aggregates.
func (m *Manager) MetricsFor(key string) (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[key]
	if !ok {
		return Context{}, false
	}
	return st.snapshot(), true
}

// AnalyzeComplexity grades the conversation for the reasoning analyzer.
// Message and token counts take the larger of the request's own shape and
// the stored aggregates, so both full-history and delta-sending clients
// grade the same conversation the same way.
func (m *Manager) AnalyzeComplexity(key string, req *types.NormalizedRequest) reasoning.Complexity {
	msgCount := req.MessageCount()
	tokens := types.EstimateTokens(req.AllText())
	hasTools := req.HasTools()
	keywords := reasoning.HasComplexKeywords(req.AllText())

	var errors int
	var avgMillis float64

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.states[key]
	if st != nil {
		if st.messageCount > msgCount {
			msgCount = st.messageCount
		}
		if st.totalTokensUsed > tokens {
			tokens = st.totalTokensUsed
		}
		errors = st.errorCount
		avgMillis = st.averageResponseMillis()
	}

	complexity := reasoning.ComplexityMedium
	switch {
	case msgCount > complexMinMessages || tokens > complexMinTokens ||
		errors > complexMinErrors || avgMillis > complexSlowMillis || keywords:
		complexity = reasoning.ComplexityComplex
	case msgCount < simpleMaxMessages && tokens < simpleMaxTokens && !hasTools:
		complexity = reasoning.ComplexitySimple
	}

	if st != nil {
		st.lastComplexity = complexity
	}
	return complexity
}

// CleanupOld removes conversations idle longer than MaxAge and returns the
// number removed.
func (m *Manager) CleanupOld() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, st := range m.states {
		if now.Sub(st.lastUpdatedAt) > m.opts.MaxAge {
			m.removeLocked(key, st)
			removed++
		}
	}
	return removed
}

// EnforceCapacity applies the stored and active conversation caps, evicting
// oldest-by-lastUpdatedAt first.
func (m *Manager) EnforceCapacity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enforceStoredCapLocked()
	m.enforceActiveCapLocked()
}

// Archive deactivates a conversation without deleting it. Returns false when
// the key is unknown.
func (m *Manager) Archive(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[key]
	if !ok {
		return false
	}
	st.isActive = false
	return true
}

// Len returns the stored conversation count.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// StartCleanupTimer launches the background sweep goroutine. Calling it
// again while running is a no-op.
func (m *Manager) StartCleanupTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.running {
		return
	}
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	go m.cleanupLoop(m.stopCh, m.done)
}

// Stop halts the background sweep and waits for it to exit. Safe to call
// repeatedly or before StartCleanupTimer.
func (m *Manager) Stop() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	<-m.done
	m.running = false
}

func (m *Manager) cleanupLoop(stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := m.CleanupOld()
			m.EnforceCapacity()
			if removed > 0 {
				slog.Debug("conversation.cleanup", "removed", removed, "remaining", m.Len())
			}
		case <-stopCh:
			return
		}
	}
}

func (m *Manager) getOrCreateLocked(key string, now time.Time) *state {
	st, ok := m.states[key]
	if !ok {
		st = &state{
			key:            key,
			isActive:       true,
			createdAt:      now,
			lastUpdatedAt:  now,
			lastComplexity: reasoning.ComplexitySimple,
		}
		m.states[key] = st
	}
	return st
}

// touchLocked moves or inserts the state's element at the recency front.
func (m *Manager) touchLocked(st *state) {
	if st.listElem != nil {
		m.lru.MoveToFront(st.listElem)
	} else {
		st.listElem = m.lru.PushFront(st.key)
	}
}

func (m *Manager) removeLocked(key string, st *state) {
	if st.listElem != nil {
		m.lru.Remove(st.listElem)
		st.listElem = nil
	}
	delete(m.states, key)
}

func (m *Manager) enforceStoredCapLocked() {
	for len(m.states) > m.opts.MaxStored {
		back := m.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		if st, ok := m.states[key]; ok {
			m.removeLocked(key, st)
		} else {
			m.lru.Remove(back)
		}
	}
}

func (m *Manager) enforceActiveCapLocked() {
	active := 0
	for _, st := range m.states {
		if st.isActive {
			active++
		}
	}
	if active <= m.opts.MaxActive {
		return
	}

	// Walk from the oldest end, evicting active conversations only.
	for elem := m.lru.Back(); elem != nil && active > m.opts.MaxActive; {
		prev := elem.Prev()
		key := elem.Value.(string)
		if st, ok := m.states[key]; ok && st.isActive {
			m.removeLocked(key, st)
			active--
		}
		elem = prev
	}
}
