package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventFromJSONContent(t *testing.T) {
	b := []byte(`{"event":"TeamRunContent","team_name":"Cirkelline","run_id":"r1","content":"Hel","created_at":1700000000}`)
	ev, err := NewEventFromJSON(b)
	require.NoError(t, err)
	require.NotNil(t, ev)

	content, ok := ev.(*EventContent)
	require.True(t, ok)
	assert.Equal(t, EventTypeTeamRunContent, content.Type())
	assert.Equal(t, "Cirkelline", content.Ident().TeamName)
	assert.Equal(t, "r1", content.Ident().RunID)

	s, ok := content.ContentString()
	require.True(t, ok)
	assert.Equal(t, "Hel", s)
	assert.Equal(t, b, ev.Payload())
}

func TestNewEventFromJSONStructuredContent(t *testing.T) {
	b := []byte(`{"event":"RunContent","agent_name":"Exa Researcher","run_id":"r2","content":{"summary":"done"}}`)
	ev, err := NewEventFromJSON(b)
	require.NoError(t, err)

	content, ok := ev.(*EventContent)
	require.True(t, ok)
	_, isString := content.ContentString()
	assert.False(t, isString)
}

func TestNewEventFromJSONToolCall(t *testing.T) {
	b := []byte(`{"event":"ToolCallStarted","agent_name":"DuckDuckGo Researcher","run_id":"r3","tool":{"tool_call_id":"tc-1","tool_name":"duckduckgo_search","tool_args":{"query":"golang"}}}`)
	ev, err := NewEventFromJSON(b)
	require.NoError(t, err)

	started, ok := ev.(*EventToolCallStarted)
	require.True(t, ok)
	assert.Equal(t, "tc-1", started.Tool.ToolCallID)
	assert.Equal(t, "duckduckgo_search", started.Tool.ToolName)
	assert.Equal(t, "golang", started.Tool.ToolArgs["query"])
}

func TestNewEventFromJSONPaused(t *testing.T) {
	b := []byte(`{"event":"Paused","run_id":"r1","session_id":"s1","requirements":[{"needs_user_input":true,"user_input_schema":[{"name":"date","field_type":"str"}]}]}`)
	ev, err := NewEventFromJSON(b)
	require.NoError(t, err)

	paused, ok := ev.(*EventPaused)
	require.True(t, ok)
	require.Len(t, paused.Requirements, 1)
	require.Len(t, paused.Requirements[0].UserInputSchema, 1)
	assert.Equal(t, "date", paused.Requirements[0].UserInputSchema[0].Name)
}

func TestNewEventFromJSONUnknownTagIsIgnorable(t *testing.T) {
	ev, err := NewEventFromJSON([]byte(`{"event":"SomethingNewFromTheServer","run_id":"r1"}`))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestNewEventFromJSONMalformed(t *testing.T) {
	_, err := NewEventFromJSON([]byte(`{"event":`))
	require.Error(t, err)
}

func TestRegisteredCodecTakesPrecedence(t *testing.T) {
	type customEvent struct {
		EventImpl
		Custom string `json:"custom"`
	}
	err := RegisterEventFactory("X-Custom", func() Event { return &customEvent{} })
	require.NoError(t, err)
	// double registration is rejected
	err = RegisterEventFactory("X-Custom", func() Event { return &customEvent{} })
	require.Error(t, err)

	ev, err := NewEventFromJSON([]byte(`{"event":"X-Custom","custom":"yes"}`))
	require.NoError(t, err)
	custom, ok := ev.(*customEvent)
	require.True(t, ok)
	assert.Equal(t, "yes", custom.Custom)
}

func TestTimestampNormalizesMilliseconds(t *testing.T) {
	seconds := &EventImpl{CreatedAt_: 1700000000}
	millis := &EventImpl{CreatedAt_: 1700000000123}
	assert.Equal(t, time.Unix(1700000000, 0), seconds.Timestamp())
	assert.Equal(t, time.UnixMilli(1700000000123), millis.Timestamp())
}

func TestRunErrorMessagePrefersContent(t *testing.T) {
	ev, err := NewEventFromJSON([]byte(`{"event":"RunError","run_id":"r1","content":"model overloaded","error":"code 529"}`))
	require.NoError(t, err)
	runErr, ok := ev.(*EventRunError)
	require.True(t, ok)
	assert.Equal(t, "model overloaded", runErr.Message())

	ev, err = NewEventFromJSON([]byte(`{"event":"RunError","run_id":"r1","error":"code 529"}`))
	require.NoError(t, err)
	runErr = ev.(*EventRunError)
	assert.Equal(t, "code 529", runErr.Message())
}
