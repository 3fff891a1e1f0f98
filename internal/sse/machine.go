// Package sse translates upstream response-chunk streams into client-dialect
// SSE. Each stream is driven by a single-goroutine state machine that
// guarantees exactly one terminal frame per stream.
package sse

import (
	"github.com/relayforge/switchboard/internal/types"
)

// phase tracks where a stream stands in its lifecycle. Writes are refused
// once a terminal phase is reached.
type phase int

const (
	phaseInitial phase = iota
	phaseOpened
	phaseStreaming
	phaseCompleted
	phaseErrored
	phaseCancelled
)

func (p phase) terminal() bool {
	return p == phaseCompleted || p == phaseErrored || p == phaseCancelled
}

// Outcome reports how a finished stream ended, for conversation recording.
type Outcome int

const (
	// OutcomeCompleted means the upstream terminal chunk reached the client.
	OutcomeCompleted Outcome = iota
	// OutcomeErrored means an error frame was emitted as the terminal frame.
	OutcomeErrored
	// OutcomeCancelled means the client went away before the upstream
	// terminal chunk; closing frames were written best-effort.
	OutcomeCancelled
	// OutcomeInterrupted means the upstream body ended before its terminal
	// chunk while the client was still connected.
	OutcomeInterrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeErrored:
		return "errored"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Result summarizes a finished stream. Response assembles what was relayed:
// upstream id, usage, stop-reason hint, a bounded text snapshot, and the
// error frame if one was emitted. The id is empty when no chunk ever arrived.
type Result struct {
	Outcome  Outcome
	Response *types.ResponsesResponse
}

// Options configures a stream translation.
type Options struct {
	Model         string // public model label stamped on client frames
	Created       int64  // unix seconds stamped on chat chunks
	CorrelationID string
	IncludeUsage  bool // chat only: emit a usage chunk before [DONE]
}

// snapshotCap bounds the response text retained for conversation history.
const snapshotCap = 2048
