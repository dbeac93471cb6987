// Package scheduler keeps the collect and dispatch pipeline alive: it owns the
// connection lifecycle, retries startup connections forever, and fires one
// tick per period once connected.
package scheduler

import (
	"time"

	"github.com/yourorg/ledger-sampler/internal/model"
)

// State of the scheduler's connection lifecycle
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateScheduled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateScheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

// Tick outcomes, as reported to the Observer
const (
	OutcomeSuccess       = model.OutcomeSuccess
	OutcomeCollectError  = model.OutcomeCollectError
	OutcomeDispatchError = model.OutcomeDispatchError
	OutcomePanic         = model.OutcomePanic
	OutcomeSkipped       = model.OutcomeSkipped
)

// DefaultRetryDelay is the fixed delay between startup connection attempts
const DefaultRetryDelay = 10 * time.Second

// Backoff maps a failed attempt number (starting at 1) to the delay before the next one
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same delay after every failed attempt
type FixedBackoff struct {
	Wait time.Duration
}

// Delay implements Backoff
func (b FixedBackoff) Delay(int) time.Duration {
	if b.Wait <= 0 {
		return DefaultRetryDelay
	}
	return b.Wait
}
