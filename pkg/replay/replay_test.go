package replay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirkelline-ai/loom/pkg/events"
	"github.com/cirkelline-ai/loom/pkg/transcript"
)

func TestFlexTimeShapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"epoch seconds", `1700000000`, time.Unix(1700000000, 0)},
		{"epoch milliseconds", `1700000000123`, time.UnixMilli(1700000000123)},
		{"rfc3339", `"2023-11-14T22:13:20Z"`, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ft FlexTime
			require.NoError(t, json.Unmarshal([]byte(tt.in), &ft))
			assert.True(t, ft.Equal(tt.want), "got %v want %v", ft.Time, tt.want)
		})
	}

	var ft FlexTime
	require.NoError(t, json.Unmarshal([]byte(`""`), &ft))
	assert.True(t, ft.IsZero())
	require.Error(t, json.Unmarshal([]byte(`{"bad":1}`), &ft))
}

func TestParseRunsSkipsInvalidRecords(t *testing.T) {
	raw := []byte(`[
		{"run_id": "r1", "content": "hello", "created_at": 1700000000},
		{"content": "no run id"},
		{"run_id": ""},
		{"run_id": "r2", "created_at": "2023-11-14T22:13:20Z"}
	]`)
	runs, err := ParseRuns(raw)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r1", runs[0].RunID)
	assert.Equal(t, "r2", runs[1].RunID)
}

func TestParseRunsRejectsNonArray(t *testing.T) {
	_, err := ParseRuns([]byte(`{"run_id": "r1"}`))
	require.Error(t, err)
}

func TestRebuildFromFinalRecords(t *testing.T) {
	runs := []RunRecord{
		{
			RunID:    "r1",
			TeamID:   "cirkelline",
			TeamName: "Cirkelline",
			Status:   "completed",
			Input:    &RunInput{InputContent: "what's the weather"},
			Content:  json.RawMessage(`"Sunny in Copenhagen."`),
			Tools: []events.ToolCall{
				{ToolCallID: "tc-1", ToolName: "think"},
				{ToolCallID: "tc-2", ToolName: "duckduckgo_search", Result: "forecast"},
			},
			Metrics:   &events.Metrics{TotalTokens: 50},
			CreatedAt: FlexTime{time.Unix(1700000000, 0)},
		},
	}

	entries := NewReconstructor().Rebuild(runs)
	require.Len(t, entries, 2)

	assert.Equal(t, transcript.RoleUser, entries[0].Role)
	assert.Equal(t, "what's the weather", entries[0].Content)

	agent := entries[1]
	assert.Equal(t, transcript.RoleAgent, agent.Role)
	assert.Equal(t, "Sunny in Copenhagen.", agent.Content)
	require.Len(t, agent.ToolCalls, 1, "coordination tools stay hidden on replay too")
	assert.Equal(t, "tc-2", agent.ToolCalls[0].ToolCallID)
	require.NotNil(t, agent.Metrics)
	assert.Equal(t, int64(50), agent.Metrics.TotalTokens)
}

func TestRebuildRecreatesDelegationEntries(t *testing.T) {
	runs := []RunRecord{
		{
			RunID:    "r1",
			TeamName: "Cirkelline",
			Status:   "completed",
			Input:    &RunInput{InputContent: "research this"},
			Content:  json.RawMessage(`"Here is the summary."`),
			Tools: []events.ToolCall{{
				ToolCallID: "tc-1",
				ToolName:   "delegate_task_to_member",
				ToolArgs:   map[string]any{"member_id": "research-team", "task": "dig deep"},
			}},
			Members: []RunRecord{{
				RunID:       "r2",
				ParentRunID: "r1",
				AgentID:     "exa-researcher",
				AgentName:   "exa-researcher",
				Content:     json.RawMessage(`"Member findings."`),
				Tools:       []events.ToolCall{{ToolCallID: "tc-3", ToolName: "exa_search", Result: "hits"}},
			}},
			CreatedAt: FlexTime{time.Unix(1700000000, 0)},
		},
	}

	entries := NewReconstructor().Rebuild(runs)
	require.Len(t, entries, 4)

	assert.Equal(t, transcript.RoleUser, entries[0].Role)
	assert.Equal(t, transcript.RoleDelegation, entries[1].Role)
	assert.Equal(t, "Research Team", entries[1].DelegatedTo)
	assert.Equal(t, "dig deep", entries[1].DelegationTask)

	member := entries[2]
	assert.Equal(t, "exa-researcher", member.AgentName)
	assert.Equal(t, "Member findings.", member.Content)
	require.Len(t, member.ToolCalls, 1)

	assert.Equal(t, "Here is the summary.", entries[3].Content)
}

func TestRebuildFlatMemberRunsGroupUnderParent(t *testing.T) {
	runs := []RunRecord{
		{
			RunID:       "r2",
			ParentRunID: "r1",
			AgentName:   "tavily-researcher",
			Content:     json.RawMessage(`"member output"`),
			CreatedAt:   FlexTime{time.Unix(1700000010, 0)},
		},
		{
			RunID:     "r1",
			TeamName:  "Cirkelline",
			Status:    "completed",
			Content:   json.RawMessage(`"final"`),
			CreatedAt: FlexTime{time.Unix(1700000000, 0)},
		},
	}

	entries := NewReconstructor().Rebuild(runs)
	require.Len(t, entries, 3)
	assert.Equal(t, transcript.RoleDelegation, entries[0].Role, "a child run implies a delegation even when the tool call was not persisted")
	assert.Equal(t, "Research Team", entries[0].DelegatedTo)
	assert.Equal(t, "tavily-researcher", entries[1].AgentName)
	assert.Equal(t, "final", entries[2].Content)
}

func TestRebuildDelegationResultWithoutMemberRecord(t *testing.T) {
	runs := []RunRecord{
		{
			RunID:    "r1",
			TeamName: "Cirkelline",
			Status:   "completed",
			Content:  json.RawMessage(`"final"`),
			Tools: []events.ToolCall{
				{
					ToolName: "delegate_task_to_member",
					ToolArgs: map[string]any{"member_id": "exa-researcher"},
					Result:   "member findings",
				},
			},
			CreatedAt: FlexTime{time.Unix(1700000000, 0)},
		},
	}

	entries := NewReconstructor().Rebuild(runs)
	require.Len(t, entries, 3)
	assert.Equal(t, transcript.RoleDelegation, entries[0].Role)
	assert.Equal(t, "Research Team", entries[0].DelegatedTo)
	assert.Equal(t, "Exa Researcher", entries[1].AgentName, "the delegating tool's result stands in for the missing member record")
	assert.Equal(t, "member findings", entries[1].Content)
	assert.Equal(t, "final", entries[2].Content)
}

func TestRebuildCancelledRun(t *testing.T) {
	runs := []RunRecord{{
		RunID:    "r1",
		TeamName: "Cirkelline",
		Status:   "cancelled",
		Content:  json.RawMessage(`"partial answer"`),
	}}

	entries := NewReconstructor().Rebuild(runs)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Content, "partial answer")
	assert.Contains(t, entries[0].Content, transcript.CancellationNote)
}

func TestRebuildErroredRun(t *testing.T) {
	runs := []RunRecord{{
		RunID:    "r1",
		TeamName: "Cirkelline",
		Status:   "error",
		Content:  json.RawMessage(`"model overloaded"`),
	}}

	entries := NewReconstructor().Rebuild(runs)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].StreamingError)
	assert.Equal(t, "model overloaded", entries[0].ErrorMessage)
}

func TestRebuildPausedRunRestoresFreeze(t *testing.T) {
	runs := []RunRecord{{
		RunID:     "r1",
		SessionID: "s1",
		TeamName:  "Cirkelline",
		Status:    "paused",
		Content:   json.RawMessage(`"need your input"`),
		Tools: []events.ToolCall{{
			ToolCallID:        "tc-1",
			ToolName:          "send_email",
			RequiresUserInput: true,
			UserInputSchema:   []events.InputField{{Name: "recipient", FieldType: "str"}},
		}},
	}}

	entries := NewReconstructor().Rebuild(runs)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].HITLPaused)
	assert.Equal(t, "r1", entries[0].HITLRunID)
	require.Len(t, entries[0].HITLRequirements, 1)
	assert.Equal(t, "send_email", entries[0].HITLRequirements[0].ToolName)
}

func TestRebuildFromCapturedEventsMatchesLive(t *testing.T) {
	wire := [][]byte{
		[]byte(`{"event":"TeamRunStarted","run_id":"r1","team_name":"Cirkelline"}`),
		[]byte(`{"event":"TeamRunContent","run_id":"r1","team_name":"Cirkelline","content":"Hel"}`),
		[]byte(`{"event":"TeamRunContent","run_id":"r1","team_name":"Cirkelline","content":"Hello"}`),
		[]byte(`{"event":"TeamRunCompleted","run_id":"r1","team_name":"Cirkelline","content":"Hello!"}`),
	}

	live := transcript.NewBuilder()
	for _, raw := range wire {
		ev, err := events.NewEventFromJSON(raw)
		require.NoError(t, err)
		require.NoError(t, live.Apply(ev))
	}

	captured := make([]json.RawMessage, len(wire))
	for i, raw := range wire {
		captured[i] = json.RawMessage(raw)
	}
	replayed := NewReconstructor().Rebuild([]RunRecord{{RunID: "r1", TeamName: "Cirkelline", Events: captured}})

	liveEntries := live.Entries()
	require.Len(t, replayed, len(liveEntries))
	for i := range replayed {
		assert.Equal(t, liveEntries[i].Content, replayed[i].Content)
		assert.Equal(t, liveEntries[i].Role, replayed[i].Role)
		assert.Equal(t, liveEntries[i].Source(), replayed[i].Source())
	}
}

func TestRebuildIsDeterministic(t *testing.T) {
	runs := []RunRecord{{
		RunID:    "r1",
		TeamName: "Cirkelline",
		Status:   "completed",
		Input:    &RunInput{InputContent: "q"},
		Content:  json.RawMessage(`"a"`),
	}}

	r := NewReconstructor()
	first := r.Rebuild(runs)
	second := r.Rebuild(runs)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Content, second[i].Content)
		assert.Equal(t, first[i].Role, second[i].Role)
	}
}
