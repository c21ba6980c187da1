package transcript

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cirkelline-ai/loom/pkg/events"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleAgent      Role = "agent"
	RoleDelegation Role = "delegation"
)

// Entry is one element of the reconstructed conversation. Agent entries carry
// exactly one identity axis (TeamName or AgentName) for their whole lifetime;
// every content fragment appended to them originates from events with that
// identity and run id.
type Entry struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`

	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"toolCalls,omitempty"`
	Timeline  []TimelineEvent  `json:"timeline,omitempty"`

	TeamName    string `json:"teamName,omitempty"`
	AgentName   string `json:"agentName,omitempty"`
	RunID       string `json:"runId,omitempty"`
	ParentRunID string `json:"parentRunId,omitempty"`

	// delegation entries only
	DelegatedTo    string `json:"delegatedTo,omitempty"`
	DelegationTask string `json:"delegationTask,omitempty"`

	StreamingError bool   `json:"streamingError,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`

	HITLPaused       bool                 `json:"hitlPaused,omitempty"`
	HITLRunID        string               `json:"hitlRunId,omitempty"`
	HITLSessionID    string               `json:"hitlSessionId,omitempty"`
	HITLRequirements []events.Requirement `json:"hitlRequirements,omitempty"`

	Metrics *events.Metrics `json:"metrics,omitempty"`
	Media   []events.Media  `json:"media,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Source is the display name of the entry's emitter.
func (e *Entry) Source() string {
	if e.AgentName != "" {
		return e.AgentName
	}
	if e.TeamName != "" {
		return e.TeamName
	}
	return "System"
}

// Matches reports whether content from ident belongs to this entry's stream.
func (e *Entry) Matches(ident events.Ident) bool {
	return e.Role == RoleAgent && e.RunID == ident.RunID && e.Source() == ident.SourceLabel()
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("id", e.ID.String()).Str("role", string(e.Role)).Str("source", e.Source())
	if e.RunID != "" {
		ev.Str("run_id", e.RunID)
	}
	ev.Int("content_len", len(e.Content)).Int("tool_calls", len(e.ToolCalls))
	if e.StreamingError {
		ev.Bool("streaming_error", true)
	}
	if e.HITLPaused {
		ev.Bool("hitl_paused", true)
	}
}

// ToolCallRecord is the merged view of one tool invocation, built up from its
// started and completed events.
type ToolCallRecord struct {
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName"`
	ToolArgs   map[string]any  `json:"toolArgs,omitempty"`
	Result     string          `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
	Metrics    *events.Metrics `json:"metrics,omitempty"`
	CreatedAt  int64           `json:"createdAt,omitempty"`
}

// Key identifies the record for merging: the tool call id when the backend
// assigned one, otherwise name plus creation time.
func (r ToolCallRecord) Key() string {
	if r.ToolCallID != "" {
		return r.ToolCallID
	}
	return fmt.Sprintf("%s-%d", r.ToolName, r.CreatedAt)
}

// RecordFromToolCall converts a wire tool descriptor into a record.
func RecordFromToolCall(tc events.ToolCall) ToolCallRecord {
	return ToolCallRecord{
		ToolCallID: tc.ToolCallID,
		ToolName:   tc.ToolName,
		ToolArgs:   tc.ToolArgs,
		Result:     tc.Result,
		IsError:    tc.ToolCallError,
		Metrics:    tc.Metrics,
		CreatedAt:  tc.CreatedAt,
	}
}

type TimelineStatus string

const (
	TimelineStarted    TimelineStatus = "started"
	TimelineInProgress TimelineStatus = "in_progress"
	TimelineCompleted  TimelineStatus = "completed"
	TimelineError      TimelineStatus = "error"
)

// TimelineEvent is one "behind the scenes" lifecycle record attached to an
// entry. The list is append-only and never reordered.
type TimelineEvent struct {
	ID            string           `json:"id"`
	Timestamp     time.Time        `json:"timestamp"`
	EventType     events.EventType `json:"eventType"`
	Source        string           `json:"source"`
	Description   string           `json:"description"`
	Status        TimelineStatus   `json:"status"`
	Depth         int              `json:"depth"`
	ParentEventID string           `json:"parentEventId,omitempty"`
	Details       map[string]any   `json:"details,omitempty"`
}
