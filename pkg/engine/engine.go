package engine

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/cirkelline-ai/loom/pkg/events"
	"github.com/cirkelline-ai/loom/pkg/runctl"
	"github.com/cirkelline-ai/loom/pkg/session"
	"github.com/cirkelline-ai/loom/pkg/transcript"
)

// Engine ties the event pipeline together: it decodes raw wire events and
// routes each one through run tracking, session reconciliation, and the
// transcript, in that order, before the next event is looked at.
type Engine struct {
	mu sync.Mutex

	builder  *transcript.Builder
	sessions *session.Reconciler
	tracker  *runctl.Tracker

	// provisional title for the next optimistic session insert
	pendingTitle string
	// content seen since the last user message; guards session rollback
	sawContent bool
}

type Option func(*Engine)

func WithBuilder(b *transcript.Builder) Option {
	return func(e *Engine) {
		e.builder = b
	}
}

func WithSessions(r *session.Reconciler) Option {
	return func(e *Engine) {
		e.sessions = r
	}
}

func WithTracker(t *runctl.Tracker) Option {
	return func(e *Engine) {
		e.tracker = t
	}
}

func New(options ...Option) *Engine {
	e := &Engine{}
	for _, o := range options {
		o(e)
	}
	if e.builder == nil {
		e.builder = transcript.NewBuilder()
	}
	if e.sessions == nil {
		e.sessions = session.NewReconciler()
	}
	if e.tracker == nil {
		e.tracker = runctl.NewTracker()
	}
	return e
}

func (e *Engine) Builder() *transcript.Builder {
	return e.builder
}

func (e *Engine) Sessions() *session.Reconciler {
	return e.sessions
}

func (e *Engine) Tracker() *runctl.Tracker {
	return e.tracker
}

// SubmitUser records the user message that starts a run. The message also
// becomes the provisional title if this conversation still needs a session.
func (e *Engine) SubmitUser(content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.builder.AppendUser(content)
	e.pendingTitle = content
	e.sawContent = false
}

// Apply decodes one raw wire event and applies it. Unknown event tags are
// dropped silently; malformed payloads are reported but must not kill the
// stream.
func (e *Engine) Apply(raw []byte) error {
	ev, err := events.NewEventFromJSON(raw)
	if err != nil {
		return errors.Wrap(err, "could not decode event")
	}
	if ev == nil {
		return nil
	}
	return e.ApplyEvent(ev)
}

// ApplyEvent applies one already-decoded event.
func (e *Engine) ApplyEvent(ev events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sid := ev.Session(); sid != "" {
		e.sessions.Adopt(sid, e.pendingTitle)
	}
	if runID := ev.Ident().RunID; runID != "" && ev.Ident().ParentRunID == "" {
		e.tracker.BindRun(runID)
	}

	e.track(ev)

	if err := e.builder.Apply(ev); err != nil {
		return errors.Wrap(err, "could not apply event")
	}

	switch ev.(type) {
	case *events.EventContent, *events.EventRunCompleted:
		e.sawContent = true
	case *events.EventRunError, *events.EventRunCancelled:
		// a run that died before producing anything leaves no session
		// behind
		if !e.sawContent {
			e.sessions.Rollback(e.sessions.Current())
		}
	}
	return nil
}

// track advances the run state machine on lifecycle events from the
// top-level run. Member lifecycle events do not move it.
func (e *Engine) track(ev events.Event) {
	if ev.Ident().ParentRunID != "" {
		return
	}
	switch ev.(type) {
	case *events.EventRunStarted:
		e.tracker.Transition(runctl.StateRunning)
	case *events.EventRunCompleted:
		if ev.Ident().Depth(e.builder.TopLevelTeam()) == 0 {
			e.tracker.Transition(runctl.StateCompleted)
		}
	case *events.EventRunError:
		e.tracker.Transition(runctl.StateErrored)
	case *events.EventRunCancelled:
		e.tracker.Transition(runctl.StateCancelled)
	case *events.EventPaused:
		e.tracker.Transition(runctl.StatePaused)
	default:
	}
}

// Transcript returns the current entry list.
func (e *Engine) Transcript() []transcript.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.builder.Entries()
}
