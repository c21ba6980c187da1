package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/cirkelline-ai/loom/pkg/transcript"
)

// renderer writes the reconstructed transcript as plain text. Status updates
// go out as they happen; the transcript itself is rendered once the stream
// settles.
type renderer struct {
	w io.Writer
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

func (r *renderer) Status(activity string) {
	if activity == "" {
		return
	}
	fmt.Fprintf(r.w, "· %s\n", activity)
}

func (r *renderer) RenderTranscript(entries []transcript.Entry) {
	for _, entry := range entries {
		r.renderEntry(entry)
	}
}

func (r *renderer) renderEntry(entry transcript.Entry) {
	switch entry.Role {
	case transcript.RoleUser:
		fmt.Fprintf(r.w, "\n[you] %s\n", entry.Content)
	case transcript.RoleDelegation:
		fmt.Fprintf(r.w, "\n[%s → %s] %s\n", entry.Source(), entry.DelegatedTo, entry.DelegationTask)
	case transcript.RoleAgent:
		fmt.Fprintf(r.w, "\n[%s]\n%s\n", entry.Source(), strings.TrimSpace(entry.Content))
		for _, tc := range entry.ToolCalls {
			fmt.Fprintf(r.w, "  • %s", tc.ToolName)
			if tc.IsError {
				fmt.Fprint(r.w, " (failed)")
			}
			fmt.Fprintln(r.w)
		}
		if entry.StreamingError {
			fmt.Fprintf(r.w, "  ! %s\n", entry.ErrorMessage)
		}
		if entry.HITLPaused {
			fmt.Fprintln(r.w, "  ⏸ waiting for your input")
		}
		if entry.Metrics != nil && entry.Metrics.TotalTokens > 0 {
			fmt.Fprintf(r.w, "  (%d tokens", entry.Metrics.TotalTokens)
			if entry.Metrics.TotalCost > 0 {
				fmt.Fprintf(r.w, ", $%.4f", entry.Metrics.TotalCost)
			}
			fmt.Fprintln(r.w, ")")
		}
	}
}
