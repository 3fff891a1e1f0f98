// Package breaker guards upstream providers with a per-provider circuit
// breaker. A breaker opens after a run of expected failures, rejects fast
// while open, and recovers through a single half-open probe whose backoff
// doubles on every failed probe.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relayforge/switchboard/internal/apierr"
)

// State is the breaker's position in the Closed -> Open -> HalfOpen cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Defaults applied when Options fields are zero.
const (
	DefaultFailureThreshold   = 5
	DefaultRecoveryTimeout    = 30 * time.Second
	DefaultMaxRecoveryTimeout = 5 * time.Minute
)

// Options configure one breaker. ExpectedKinds is the set of error kinds
// that count toward the failure threshold; all other errors pass through
// without moving the state machine.
type Options struct {
	Name               string
	FailureThreshold   int
	RecoveryTimeout    time.Duration
	MaxRecoveryTimeout time.Duration
	ExpectedKinds      []apierr.Kind
}

// Breaker is a single provider's circuit breaker. All state is guarded by
// one mutex; the guarded call itself runs unlocked.
type Breaker struct {
	name        string
	threshold   int
	recovery    time.Duration
	maxRecovery time.Duration
	expected    map[apierr.Kind]struct{}

	// now is swappable for tests.
	now func() time.Time

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	lastFailureAt time.Time
	nextAttemptAt time.Time
	backoff       time.Duration
	probing       bool
}

// New creates a closed breaker with backoff primed at RecoveryTimeout.
func New(opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if opts.MaxRecoveryTimeout <= 0 {
		opts.MaxRecoveryTimeout = DefaultMaxRecoveryTimeout
	}
	if opts.MaxRecoveryTimeout < opts.RecoveryTimeout {
		opts.MaxRecoveryTimeout = opts.RecoveryTimeout
	}
	expected := make(map[apierr.Kind]struct{}, len(opts.ExpectedKinds))
	for _, kind := range opts.ExpectedKinds {
		expected[kind] = struct{}{}
	}
	return &Breaker{
		name:        opts.Name,
		threshold:   opts.FailureThreshold,
		recovery:    opts.RecoveryTimeout,
		maxRecovery: opts.MaxRecoveryTimeout,
		expected:    expected,
		now:         time.Now,
		state:       StateClosed,
		backoff:     opts.RecoveryTimeout,
	}
}

// Execute runs call under the breaker. While open it rejects immediately
// with a circuit_open error carrying the next allowed attempt time; an open
// breaker moves to half-open only when a request arrives at or after that
// time, never on a timer.
func (b *Breaker) Execute(ctx context.Context, correlationID string, call func(context.Context) error) error {
	probe, err := b.admit(correlationID)
	if err != nil {
		return err
	}

	callErr := call(ctx)
	b.settle(probe, callErr, correlationID)
	return callErr
}

// admit decides whether the request may proceed. The bool reports whether
// this request is the half-open probe.
func (b *Breaker) admit(correlationID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		now := b.now()
		if now.Before(b.nextAttemptAt) {
			return false, b.rejectionLocked()
		}
		b.state = StateHalfOpen
		b.probing = true
		slog.Info("breaker.half_open",
			"breaker", b.name,
			"correlation_id", correlationID,
			"backoff", b.backoff)
		return true, nil

	case StateHalfOpen:
		if b.probing {
			return false, b.rejectionLocked()
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

// settle records the call's outcome. Unexpected error kinds leave the
// counters and state untouched apart from releasing the probe slot.
func (b *Breaker) settle(probe bool, callErr error, correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr == nil {
		if probe {
			b.closeLocked(correlationID)
		}
		b.successCount++
		b.failureCount = 0
		return
	}

	kind := apierr.KindOf(callErr)
	if _, ok := b.expected[kind]; !ok {
		if probe {
			// The probe's verdict is unusable; free the slot so the next
			// request can probe again.
			b.probing = false
		}
		return
	}

	b.failureCount++
	b.lastFailureAt = b.now()

	if probe {
		next := b.backoff * 2
		if next > b.maxRecovery {
			next = b.maxRecovery
		}
		b.backoff = next
		b.openLocked(correlationID, kind)
		return
	}
	if b.state == StateClosed && b.failureCount >= b.threshold {
		b.openLocked(correlationID, kind)
	}
}

func (b *Breaker) openLocked(correlationID string, kind apierr.Kind) {
	b.state = StateOpen
	b.probing = false
	b.nextAttemptAt = b.now().Add(b.backoff)
	slog.Warn("breaker.open",
		"breaker", b.name,
		"correlation_id", correlationID,
		"kind", string(kind),
		"failures", b.failureCount,
		"next_attempt", b.nextAttemptAt.Format(time.RFC3339Nano),
		"backoff", b.backoff)
}

func (b *Breaker) closeLocked(correlationID string) {
	b.state = StateClosed
	b.probing = false
	b.failureCount = 0
	b.successCount = 0
	b.backoff = b.recovery
	b.nextAttemptAt = time.Time{}
	slog.Info("breaker.closed", "breaker", b.name, "correlation_id", correlationID)
}

func (b *Breaker) rejectionLocked() error {
	err := apierr.Newf(apierr.CircuitOpen,
		"%s provider is temporarily unavailable, retry after %s",
		b.name, b.nextAttemptAt.Format(time.RFC3339))
	err.NextAttempt = b.nextAttemptAt
	return err
}

// State returns the current state without admitting a request; an open
// breaker past its next-attempt time still reports open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is a point-in-time view of one breaker for health reporting.
type Snapshot struct {
	Name           string  `json:"name"`
	State          string  `json:"state"`
	FailureCount   int     `json:"failure_count"`
	SuccessCount   int     `json:"success_count"`
	FailureRate    float64 `json:"failure_rate"`
	LastFailureAt  string  `json:"last_failure_at,omitempty"`
	NextAttemptAt  string  `json:"next_attempt_at,omitempty"`
	CurrentBackoff string  `json:"current_backoff"`
}

// Snapshot reports the breaker's counters and failure rate over the window
// since the last reset.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.failureCount + b.successCount
	rate := 0.0
	if total > 0 {
		rate = float64(b.failureCount) / float64(total)
	}
	snap := Snapshot{
		Name:           b.name,
		State:          b.state.String(),
		FailureCount:   b.failureCount,
		SuccessCount:   b.successCount,
		FailureRate:    rate,
		CurrentBackoff: b.backoff.String(),
	}
	if !b.lastFailureAt.IsZero() {
		snap.LastFailureAt = b.lastFailureAt.Format(time.RFC3339Nano)
	}
	if !b.nextAttemptAt.IsZero() {
		snap.NextAttemptAt = b.nextAttemptAt.Format(time.RFC3339Nano)
	}
	return snap
}
