package runctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/cirkelline-ai/loom/pkg/events"
	"github.com/cirkelline-ai/loom/pkg/transcript"
)

// Continuer resumes a paused run on the backend with the user's answers
// filled into the tool descriptors that requested them.
type Continuer interface {
	ContinueRun(ctx context.Context, runID, sessionID string, tools []events.ToolCall) error
}

// PausePrompt renders the pause requirements as a prompt the host can show,
// one bullet per requested field.
func PausePrompt(reqs []events.Requirement) string {
	var sb strings.Builder
	sb.WriteString("Input needed before the run can continue:\n")
	for _, req := range reqs {
		if req.ToolName != "" {
			fmt.Fprintf(&sb, "\n%s\n", req.ToolName)
		}
		for _, field := range req.UserInputSchema {
			sb.WriteString("- ")
			sb.WriteString(field.Name)
			if field.FieldType != "" {
				fmt.Fprintf(&sb, " (%s)", field.FieldType)
			}
			if field.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(field.Description)
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// FillAnswers copies the user's answers into the paused tool descriptors,
// keyed by field name. Every field without a value remains unanswered.
func FillAnswers(reqs []events.Requirement, answers map[string]any) []events.ToolCall {
	tools := make([]events.ToolCall, 0, len(reqs))
	for _, req := range reqs {
		tool := events.ToolCall{
			ToolCallID:        req.ToolCallID,
			ToolName:          req.ToolName,
			RequiresUserInput: true,
		}
		for _, field := range req.UserInputSchema {
			if v, ok := answers[field.Name]; ok {
				field.Value = v
			}
			tool.UserInputSchema = append(tool.UserInputSchema, field)
		}
		tools = append(tools, tool)
	}
	return tools
}

// Unanswered lists the field names still missing from answers.
func Unanswered(reqs []events.Requirement, answers map[string]any) []string {
	var missing []string
	for _, req := range reqs {
		for _, field := range req.UserInputSchema {
			if _, ok := answers[field.Name]; !ok {
				missing = append(missing, field.Name)
			}
		}
	}
	return missing
}

// Resumer drives the resume half of the human-in-the-loop flow: it submits
// the answers and lifts the transcript freeze only after the backend accepts
// them.
type Resumer struct {
	continuer Continuer
	builder   *transcript.Builder
}

func NewResumer(continuer Continuer, builder *transcript.Builder) *Resumer {
	return &Resumer{continuer: continuer, builder: builder}
}

// Resume submits answers for the paused run. All requested fields must be
// answered; a partial submission is rejected locally without touching the
// backend.
func (r *Resumer) Resume(ctx context.Context, entry transcript.Entry, answers map[string]any) error {
	if !entry.HITLPaused {
		return errors.New("entry is not paused for input")
	}
	if missing := Unanswered(entry.HITLRequirements, answers); len(missing) > 0 {
		return errors.Errorf("missing answers for: %s", strings.Join(missing, ", "))
	}

	tools := FillAnswers(entry.HITLRequirements, answers)
	if err := r.continuer.ContinueRun(ctx, entry.HITLRunID, entry.HITLSessionID, tools); err != nil {
		return errors.Wrap(err, "could not continue paused run")
	}

	r.builder.ResumeRun(entry.HITLRunID)
	log.Info().Str("run_id", entry.HITLRunID).Msg("resumed paused run")
	return nil
}
