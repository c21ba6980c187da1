package session

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Record is one session in the sidebar list.
type Record struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	// true until the backend's session list has confirmed the record
	Optimistic bool `json:"-"`
}

const maxProvisionalTitle = 60

// ProvisionalTitle derives a placeholder title from the first user message,
// used until the backend names the session itself.
func ProvisionalTitle(firstMessage string) string {
	title := strings.Join(strings.Fields(firstMessage), " ")
	if len(title) > maxProvisionalTitle {
		title = title[:maxProvisionalTitle] + "…"
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}

// Reconciler keeps the session list consistent while a conversation streams.
// The first session id the backend mentions is adopted for the whole
// conversation and inserted into the list optimistically; the authoritative
// list from the backend later confirms or supersedes it. Safe for concurrent
// use.
type Reconciler struct {
	mu      sync.Mutex
	current string
	records []Record
	notify  func()
}

type ReconcilerOption func(*Reconciler)

// WithNotify registers a hook invoked after every list mutation.
func WithNotify(f func()) ReconcilerOption {
	return func(r *Reconciler) {
		r.notify = f
	}
}

func NewReconciler(options ...ReconcilerOption) *Reconciler {
	r := &Reconciler{}
	for _, o := range options {
		o(r)
	}
	return r
}

// Current returns the session id adopted for the running conversation, or ""
// before the backend has assigned one.
func (r *Reconciler) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Sessions returns a snapshot of the list, newest first.
func (r *Reconciler) Sessions() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Adopt records the conversation's session id the first time the backend
// mentions one and optimistically inserts it at the top of the list. Later
// ids for the same conversation are ignored, so one conversation never
// produces two sessions. Returns true when the id was adopted by this call.
func (r *Reconciler) Adopt(sessionID, provisionalTitle string) bool {
	if sessionID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != "" {
		if r.current != sessionID {
			log.Debug().
				Str("adopted", r.current).
				Str("ignored", sessionID).
				Msg("backend mentioned a second session id, keeping the first")
		}
		return false
	}
	r.current = sessionID

	if r.indexOf(sessionID) >= 0 {
		return true
	}
	rec := Record{
		SessionID:  sessionID,
		Title:      ProvisionalTitle(provisionalTitle),
		CreatedAt:  time.Now(),
		Optimistic: true,
	}
	r.records = append([]Record{rec}, r.records...)
	log.Debug().Str("session_id", sessionID).Str("title", rec.Title).Msg("optimistically inserted session")
	r.fire()
	return true
}

// MergeFetched reconciles the authoritative list from the backend into the
// local one. Server records win on title and order; optimistic records the
// server does not know yet stay at the top.
func (r *Reconciler) MergeFetched(fetched []Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	known := make(map[string]struct{}, len(fetched))
	for i := range fetched {
		fetched[i].Optimistic = false
		known[fetched[i].SessionID] = struct{}{}
	}

	var pending []Record
	for _, rec := range r.records {
		if !rec.Optimistic {
			continue
		}
		if _, confirmed := known[rec.SessionID]; confirmed {
			continue
		}
		pending = append(pending, rec)
	}

	r.records = append(pending, fetched...)
	r.fire()
}

// Rollback removes the conversation's session when the run failed before the
// backend persisted anything. Only optimistic records are removed; a
// confirmed session is real history and stays.
func (r *Reconciler) Rollback(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 || !r.records[i].Optimistic {
		return false
	}
	r.records = append(r.records[:i], r.records[i+1:]...)
	if r.current == sessionID {
		r.current = ""
	}
	log.Debug().Str("session_id", sessionID).Msg("rolled back optimistic session")
	r.fire()
	return true
}

// Rename updates a session's title locally, mirroring a rename the host
// already sent to the backend.
func (r *Reconciler) Rename(sessionID, title string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 {
		return false
	}
	r.records[i].Title = title
	r.fire()
	return true
}

// Remove drops a session from the list, mirroring a deletion the host
// already sent to the backend.
func (r *Reconciler) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(sessionID)
	if i < 0 {
		return false
	}
	r.records = append(r.records[:i], r.records[i+1:]...)
	if r.current == sessionID {
		r.current = ""
	}
	r.fire()
	return true
}

// StartConversation clears the adopted id so the next run may bind a fresh
// session. The list itself is kept.
func (r *Reconciler) StartConversation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = ""
}

func (r *Reconciler) indexOf(sessionID string) int {
	for i, rec := range r.records {
		if rec.SessionID == sessionID {
			return i
		}
	}
	return -1
}

func (r *Reconciler) fire() {
	if r.notify != nil {
		r.notify()
	}
}
