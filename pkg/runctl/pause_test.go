package runctl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirkelline-ai/loom/pkg/events"
	"github.com/cirkelline-ai/loom/pkg/transcript"
)

var emailRequirements = []events.Requirement{{
	NeedsUserInput: true,
	ToolCallID:     "tc-1",
	ToolName:       "send_email",
	UserInputSchema: []events.InputField{
		{Name: "recipient", FieldType: "str", Description: "Who to send to"},
		{Name: "subject", FieldType: "str"},
	},
}}

func TestPausePrompt(t *testing.T) {
	prompt := PausePrompt(emailRequirements)
	assert.Contains(t, prompt, "send_email")
	assert.Contains(t, prompt, "- recipient (str): Who to send to")
	assert.Contains(t, prompt, "- subject (str)")
}

func TestFillAnswers(t *testing.T) {
	tools := FillAnswers(emailRequirements, map[string]any{
		"recipient": "ops@example.com",
		"subject":   "weekly report",
	})
	require.Len(t, tools, 1)
	assert.Equal(t, "tc-1", tools[0].ToolCallID)
	require.Len(t, tools[0].UserInputSchema, 2)
	assert.Equal(t, "ops@example.com", tools[0].UserInputSchema[0].Value)
	assert.Equal(t, "weekly report", tools[0].UserInputSchema[1].Value)
}

func TestUnanswered(t *testing.T) {
	missing := Unanswered(emailRequirements, map[string]any{"recipient": "x"})
	assert.Equal(t, []string{"subject"}, missing)
	assert.Empty(t, Unanswered(emailRequirements, map[string]any{"recipient": "x", "subject": "y"}))
}

type fakeContinuer struct {
	runID     string
	sessionID string
	tools     []events.ToolCall
	err       error
}

func (f *fakeContinuer) ContinueRun(_ context.Context, runID, sessionID string, tools []events.ToolCall) error {
	f.runID = runID
	f.sessionID = sessionID
	f.tools = tools
	return f.err
}

func pausedBuilder(t *testing.T) *transcript.Builder {
	t.Helper()
	b := transcript.NewBuilder()
	require.NoError(t, b.Apply(streamContent("r1", "Need details.")))
	require.NoError(t, b.Apply(&events.EventPaused{
		EventImpl: events.EventImpl{
			Type_:     events.EventTypePaused,
			RunID:     "r1",
			TeamName:  "Cirkelline",
			SessionID: "s1",
		},
		Requirements: emailRequirements,
	}))
	return b
}

func TestResumeSubmitsAnswersAndUnfreezes(t *testing.T) {
	builder := pausedBuilder(t)
	continuer := &fakeContinuer{}
	r := NewResumer(continuer, builder)

	entry := builder.Entries()[0]
	require.True(t, entry.HITLPaused)

	err := r.Resume(context.Background(), entry, map[string]any{
		"recipient": "ops@example.com",
		"subject":   "weekly report",
	})
	require.NoError(t, err)

	assert.Equal(t, "r1", continuer.runID)
	assert.Equal(t, "s1", continuer.sessionID)
	require.Len(t, continuer.tools, 1)
	assert.False(t, builder.Entries()[0].HITLPaused)

	// the run streams again after the backend accepted the answers
	require.NoError(t, builder.Apply(streamContent("r1", "Need details. Sent!")))
	assert.Equal(t, "Need details. Sent!", builder.Entries()[0].Content)
}

func TestResumeRejectsPartialAnswers(t *testing.T) {
	builder := pausedBuilder(t)
	continuer := &fakeContinuer{}
	r := NewResumer(continuer, builder)

	err := r.Resume(context.Background(), builder.Entries()[0], map[string]any{"recipient": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject")
	assert.Empty(t, continuer.runID, "backend must not be called on partial answers")
	assert.True(t, builder.Entries()[0].HITLPaused)
}

func TestResumeKeepsFreezeOnBackendError(t *testing.T) {
	builder := pausedBuilder(t)
	continuer := &fakeContinuer{err: assert.AnError}
	r := NewResumer(continuer, builder)

	err := r.Resume(context.Background(), builder.Entries()[0], map[string]any{
		"recipient": "x",
		"subject":   "y",
	})
	require.Error(t, err)
	assert.True(t, builder.Entries()[0].HITLPaused)
}

func TestResumeRequiresPausedEntry(t *testing.T) {
	builder := transcript.NewBuilder()
	entry := *builder.AppendUser("hello")
	r := NewResumer(&fakeContinuer{}, builder)
	require.Error(t, r.Resume(context.Background(), entry, nil))
}
