package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

type EventType string

const (
	// Run lifecycle, agent level
	EventTypeRunStarted   EventType = "RunStarted"
	EventTypeRunContent   EventType = "RunContent"
	EventTypeRunCompleted EventType = "RunCompleted"
	EventTypeRunError     EventType = "RunError"

	// Run lifecycle, team level
	EventTypeTeamRunStarted   EventType = "TeamRunStarted"
	EventTypeTeamRunContent   EventType = "TeamRunContent"
	EventTypeTeamRunCompleted EventType = "TeamRunCompleted"
	EventTypeTeamRunError     EventType = "TeamRunError"
	EventTypeTeamRunCancelled EventType = "TeamRunCancelled"

	// Tool activity
	EventTypeToolCallStarted       EventType = "ToolCallStarted"
	EventTypeToolCallCompleted     EventType = "ToolCallCompleted"
	EventTypeTeamToolCallStarted   EventType = "TeamToolCallStarted"
	EventTypeTeamToolCallCompleted EventType = "TeamToolCallCompleted"

	// Reasoning
	EventTypeReasoningStep          EventType = "ReasoningStep"
	EventTypeReasoningCompleted     EventType = "ReasoningCompleted"
	EventTypeTeamReasoningStep      EventType = "TeamReasoningStep"
	EventTypeTeamReasoningCompleted EventType = "TeamReasoningCompleted"

	// Memory maintenance
	EventTypeMemoryUpdateStarted       EventType = "MemoryUpdateStarted"
	EventTypeMemoryUpdateCompleted     EventType = "MemoryUpdateCompleted"
	EventTypeTeamMemoryUpdateStarted   EventType = "TeamMemoryUpdateStarted"
	EventTypeTeamMemoryUpdateCompleted EventType = "TeamMemoryUpdateCompleted"

	// Control flow and side channels
	EventTypePaused        EventType = "Paused"
	EventTypeRetry         EventType = "Retry"
	EventTypeError         EventType = "Error"
	EventTypeMetricsUpdate EventType = "MetricsUpdate"
)

// Event is the normalized form of one wire event. Concrete types embed
// EventImpl and add their tag-specific payload fields.
type Event interface {
	Type() EventType
	Ident() Ident
	Session() string
	Timestamp() time.Time
	Payload() []byte
}

// EventImpl carries the fields shared by every tag. CreatedAt_ is wall-clock
// seconds on the wire, occasionally milliseconds (MetricsUpdate); Timestamp()
// normalizes.
type EventImpl struct {
	Type_       EventType `json:"event"`
	RunID       string    `json:"run_id,omitempty"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	TeamID      string    `json:"team_id,omitempty"`
	TeamName    string    `json:"team_name,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	AgentName   string    `json:"agent_name,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedAt_  int64     `json:"created_at,omitempty"`

	// raw JSON this event was decoded from, see NewEventFromJSON
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Ident() Ident {
	return Ident{
		TeamName:    e.TeamName,
		AgentName:   e.AgentName,
		RunID:       e.RunID,
		ParentRunID: e.ParentRunID,
	}
}

func (e *EventImpl) Timestamp() time.Time {
	if e.CreatedAt_ > 1_000_000_000_000 {
		return time.UnixMilli(e.CreatedAt_)
	}
	return time.Unix(e.CreatedAt_, 0)
}

// Session returns the backend session id the event belongs to, when present.
func (e *EventImpl) Session() string {
	return e.SessionID
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

// SetPayload stores the raw JSON payload on the event implementation.
// This is used by NewEventFromJSON and external decoders.
func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("event", string(e.Type_))
	if e.RunID != "" {
		ev.Str("run_id", e.RunID)
	}
	if e.ParentRunID != "" {
		ev.Str("parent_run_id", e.ParentRunID)
	}
	if e.TeamName != "" {
		ev.Str("team_name", e.TeamName)
	}
	if e.AgentName != "" {
		ev.Str("agent_name", e.AgentName)
	}
	if e.SessionID != "" {
		ev.Str("session_id", e.SessionID)
	}
}

var _ Event = &EventImpl{}

// ToolCall is the wire descriptor of a single tool invocation. Started events
// carry name and args; the matching completed event fills in result and
// metrics on the same tool_call_id.
type ToolCall struct {
	ToolCallID        string         `json:"tool_call_id,omitempty"`
	ToolName          string         `json:"tool_name"`
	ToolArgs          map[string]any `json:"tool_args,omitempty"`
	Result            string         `json:"result,omitempty"`
	ToolCallError     bool           `json:"tool_call_error,omitempty"`
	CreatedAt         int64          `json:"created_at,omitempty"`
	Metrics           *Metrics       `json:"metrics,omitempty"`
	RequiresUserInput bool           `json:"requires_user_input,omitempty"`
	UserInputSchema   []InputField   `json:"user_input_schema,omitempty"`
}

func (tc ToolCall) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("tool_call_id", tc.ToolCallID).Str("tool_name", tc.ToolName)
	if tc.Result != "" {
		ev.Str("result", tc.Result)
	}
	if tc.ToolCallError {
		ev.Bool("tool_call_error", true)
	}
}

// Metrics mirrors the backend's token accounting block.
type Metrics struct {
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	TotalTokens  int64   `json:"total_tokens,omitempty"`
	InputCost    float64 `json:"input_cost,omitempty"`
	OutputCost   float64 `json:"output_cost,omitempty"`
	TotalCost    float64 `json:"total_cost,omitempty"`
	Model        string  `json:"model,omitempty"`
}

// Requirement describes one reason a run is paused for human input.
type Requirement struct {
	NeedsUserInput          bool           `json:"needs_user_input"`
	NeedsConfirmation       bool           `json:"needs_confirmation,omitempty"`
	IsExternalToolExecution bool           `json:"is_external_tool_execution,omitempty"`
	ToolCallID              string         `json:"tool_call_id,omitempty"`
	ToolName                string         `json:"tool_name,omitempty"`
	ToolArgs                map[string]any `json:"tool_args,omitempty"`
	UserInputSchema         []InputField   `json:"user_input_schema,omitempty"`
}

// InputField is one field the user has to fill in before a paused run can
// continue.
type InputField struct {
	Name        string `json:"name"`
	FieldType   string `json:"field_type,omitempty"`
	Description string `json:"description,omitempty"`
	Value       any    `json:"value,omitempty"`
}

// Media is a generated or referenced artifact attached to a completion.
type Media struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Content  string `json:"content,omitempty"`
}

type EventRunStarted struct {
	EventImpl
}

// EventContent covers RunContent and TeamRunContent. Content is either a
// plain string chunk or a structured object the builder renders as a block.
type EventContent struct {
	EventImpl
	Content     json.RawMessage `json:"content,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	Tool        *ToolCall       `json:"tool,omitempty"`
}

// ContentString returns the content as a string when it is one on the wire.
func (e *EventContent) ContentString() (string, bool) {
	return rawString(e.Content)
}

func (e EventContent) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	if s, ok := e.ContentString(); ok {
		ev.Str("content", s)
	}
}

type EventToolCallStarted struct {
	EventImpl
	Tool ToolCall `json:"tool"`
}

type EventToolCallCompleted struct {
	EventImpl
	Tool    ToolCall        `json:"tool"`
	Content json.RawMessage `json:"content,omitempty"`
}

type EventReasoningStep struct {
	EventImpl
	Content          json.RawMessage `json:"content,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
}

// Text returns the most useful textual rendering of the step.
func (e *EventReasoningStep) Text() string {
	if e.ReasoningContent != "" {
		return e.ReasoningContent
	}
	if s, ok := rawString(e.Content); ok {
		return s
	}
	var step struct {
		Title     string `json:"title"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal(e.Content, &step); err == nil {
		if step.Reasoning != "" {
			return step.Reasoning
		}
		return step.Title
	}
	return ""
}

type EventReasoningCompleted struct {
	EventImpl
	Content json.RawMessage `json:"content,omitempty"`
}

type EventMemoryUpdate struct {
	EventImpl
}

// Completed reports whether this is the terminal half of the memory update
// pair.
func (e *EventMemoryUpdate) Completed() bool {
	return e.Type_ == EventTypeMemoryUpdateCompleted || e.Type_ == EventTypeTeamMemoryUpdateCompleted
}

// EventRunCompleted carries the canonical final content for the run. Only the
// top-level team's completion is authoritative for the transcript.
type EventRunCompleted struct {
	EventImpl
	Content json.RawMessage `json:"content,omitempty"`
	Tools   []ToolCall      `json:"tools,omitempty"`
	Metrics *Metrics        `json:"metrics,omitempty"`
	Images  []Media         `json:"images,omitempty"`
	Videos  []Media         `json:"videos,omitempty"`
	Audio   []Media         `json:"audio,omitempty"`
}

func (e *EventRunCompleted) ContentString() (string, bool) {
	return rawString(e.Content)
}

type EventRunError struct {
	EventImpl
	Content json.RawMessage `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Message returns the user-facing error text, preferring the content field.
func (e *EventRunError) Message() string {
	if s, ok := rawString(e.Content); ok && s != "" {
		return s
	}
	return e.Error
}

type EventRunCancelled struct {
	EventImpl
	Content json.RawMessage `json:"content,omitempty"`
}

// Message returns the user-facing cancellation text, preferring content
// present on the wire.
func (e *EventRunCancelled) Message() string {
	if s, ok := rawString(e.Content); ok && s != "" {
		return s
	}
	return "Run cancelled"
}

type EventPaused struct {
	EventImpl
	Requirements []Requirement `json:"requirements,omitempty"`
	Tools        []ToolCall    `json:"tools,omitempty"`
}

type EventRetry struct {
	EventImpl
	Attempt int    `json:"retry,omitempty"`
	Error   string `json:"error,omitempty"`
}

type EventError struct {
	EventImpl
	Error   string `json:"error,omitempty"`
	Kind    string `json:"type,omitempty"`
	Details string `json:"details,omitempty"`
}

type EventMetricsUpdate struct {
	EventImpl
	Metrics Metrics `json:"metrics"`
}

// NewEventFromJSON decodes one wire event. Tags with a registered codec are
// tried first so hosts can extend the set; the closed switch below covers the
// protocol. Unknown tags are ignorable and yield (nil, nil) rather than an
// error, so new server event types never crash the client.
func NewEventFromJSON(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"event"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	if dec := lookupDecoder(string(hdr.Type)); dec != nil {
		ev, err := dec(b)
		if err != nil {
			return nil, err
		}
		if setter, ok := ev.(interface{ SetPayload([]byte) }); ok {
			setter.SetPayload(b)
		}
		return ev, nil
	}

	var ev Event
	switch hdr.Type {
	case EventTypeRunStarted, EventTypeTeamRunStarted:
		ev = &EventRunStarted{}
	case EventTypeRunContent, EventTypeTeamRunContent:
		ev = &EventContent{}
	case EventTypeToolCallStarted, EventTypeTeamToolCallStarted:
		ev = &EventToolCallStarted{}
	case EventTypeToolCallCompleted, EventTypeTeamToolCallCompleted:
		ev = &EventToolCallCompleted{}
	case EventTypeReasoningStep, EventTypeTeamReasoningStep:
		ev = &EventReasoningStep{}
	case EventTypeReasoningCompleted, EventTypeTeamReasoningCompleted:
		ev = &EventReasoningCompleted{}
	case EventTypeMemoryUpdateStarted, EventTypeMemoryUpdateCompleted,
		EventTypeTeamMemoryUpdateStarted, EventTypeTeamMemoryUpdateCompleted:
		ev = &EventMemoryUpdate{}
	case EventTypeRunCompleted, EventTypeTeamRunCompleted:
		ev = &EventRunCompleted{}
	case EventTypeRunError, EventTypeTeamRunError:
		ev = &EventRunError{}
	case EventTypeTeamRunCancelled:
		ev = &EventRunCancelled{}
	case EventTypePaused:
		ev = &EventPaused{}
	case EventTypeRetry:
		ev = &EventRetry{}
	case EventTypeError:
		ev = &EventError{}
	case EventTypeMetricsUpdate:
		ev = &EventMetricsUpdate{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(b, ev); err != nil {
		return nil, err
	}
	if setter, ok := ev.(interface{ SetPayload([]byte) }); ok {
		setter.SetPayload(b)
	}
	return ev, nil
}

// rawString unwraps a JSON string, reporting false for objects, arrays and
// null.
func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
