package runctl

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cirkelline-ai/loom/pkg/transcript"
)

// RunState is the lifecycle position of the active run.
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StatePaused
	StateCompleted
	StateErrored
	StateCancelled
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the run can no longer produce transcript updates.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateCancelled
}

// Tracker follows the active run through its lifecycle. Safe for concurrent
// use.
type Tracker struct {
	mu    sync.Mutex
	state RunState
	runID string
}

func NewTracker() *Tracker {
	return &Tracker{state: StateIdle}
}

// Begin marks a run as started. A new run may only begin when no run is in
// flight.
func (t *Tracker) Begin(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateRunning || t.state == StatePaused {
		return false
	}
	t.state = StateRunning
	t.runID = runID
	return true
}

// BindRun fills in the run id once the backend assigns one.
func (t *Tracker) BindRun(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runID == "" && runID != "" {
		t.runID = runID
	}
}

// Transition moves the run into a new state. Terminal states are sticky:
// once the run is over, stragglers cannot move it again. Only Begin starts
// over.
func (t *Tracker) Transition(s RunState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = s
}

func (t *Tracker) State() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runID
}

// Notifier delivers the cancel request to the backend.
type Notifier interface {
	CancelRun(ctx context.Context, runID string) error
}

const cancelNotifyTimeout = 10 * time.Second

// Canceller implements user-initiated stop. The transcript is updated
// immediately and the backend is told best-effort in the background; a
// delivery failure is logged, never surfaced, because the local state is
// already final.
type Canceller struct {
	notifier Notifier
	builder  *transcript.Builder
	tracker  *Tracker

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewCanceller(notifier Notifier, builder *transcript.Builder, tracker *Tracker) *Canceller {
	return &Canceller{
		notifier: notifier,
		builder:  builder,
		tracker:  tracker,
		inflight: make(map[string]struct{}),
	}
}

// Cancel stops the run with the given id. Repeat calls for the same run are
// no-ops. Returns true when this call performed the cancellation.
func (c *Canceller) Cancel(runID string) bool {
	if runID == "" {
		runID = c.tracker.RunID()
	}

	c.mu.Lock()
	if _, dup := c.inflight[runID]; dup {
		c.mu.Unlock()
		return false
	}
	c.inflight[runID] = struct{}{}
	c.mu.Unlock()

	if !c.builder.AppendCancellation(runID) {
		return false
	}
	c.tracker.Transition(StateCancelled)

	if c.notifier != nil && runID != "" {
		go c.notify(runID)
	}
	return true
}

func (c *Canceller) notify(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelNotifyTimeout)
	defer cancel()
	if err := c.notifier.CancelRun(ctx, runID); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("backend cancel notification failed")
		return
	}
	log.Debug().Str("run_id", runID).Msg("backend acknowledged cancel")
}
