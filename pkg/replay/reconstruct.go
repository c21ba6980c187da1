package replay

import (
	"encoding/json"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/cirkelline-ai/loom/pkg/events"
	"github.com/cirkelline-ai/loom/pkg/status"
	"github.com/cirkelline-ai/loom/pkg/transcript"
)

// Reconstructor rebuilds a transcript from a persisted session. Runs with
// captured events are replayed through the exact same rules as live
// streaming; older runs without captured events are synthesized from their
// final record. Rebuilding the same history twice yields the same
// transcript.
type Reconstructor struct {
	topLevelTeam string
	dir          status.Directory
}

type ReconstructorOption func(*Reconstructor)

func WithTopLevelTeam(name string) ReconstructorOption {
	return func(r *Reconstructor) {
		r.topLevelTeam = name
	}
}

func WithDirectory(dir status.Directory) ReconstructorOption {
	return func(r *Reconstructor) {
		r.dir = dir
	}
}

func NewReconstructor(options ...ReconstructorOption) *Reconstructor {
	r := &Reconstructor{topLevelTeam: events.DefaultTopLevelTeam}
	for _, o := range options {
		o(r)
	}
	if r.dir == nil {
		r.dir = status.DefaultDirectory()
	}
	return r
}

// Rebuild replays a session's runs, oldest first, into a fresh transcript.
func (r *Reconstructor) Rebuild(runs []RunRecord) []transcript.Entry {
	builder := transcript.NewBuilder(
		transcript.WithTopLevelTeam(r.topLevelTeam),
		transcript.WithDirectory(r.dir),
	)

	ordered, orphans := splitRuns(runs)
	for i := range ordered {
		run := &ordered[i]
		run.Members = append(run.Members, orphans[run.RunID]...)
		sortRuns(run.Members)

		if run.Input != nil && run.Input.InputContent != "" {
			builder.AppendUser(run.Input.InputContent)
		}
		if len(run.Events) > 0 {
			r.replayEvents(builder, run.Events)
			continue
		}
		r.synthesize(builder, *run)
	}
	return builder.Entries()
}

// splitRuns orders top-level runs chronologically and groups flat member
// records under their parent run id.
func splitRuns(runs []RunRecord) ([]RunRecord, map[string][]RunRecord) {
	var top []RunRecord
	orphans := make(map[string][]RunRecord)
	for _, run := range runs {
		if run.ParentRunID == "" {
			top = append(top, run)
			continue
		}
		orphans[run.ParentRunID] = append(orphans[run.ParentRunID], run)
	}
	sortRuns(top)
	return top, orphans
}

func sortRuns(runs []RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt.Time)
	})
}

func (r *Reconstructor) replayEvents(builder *transcript.Builder, raws []json.RawMessage) {
	for i, raw := range raws {
		ev, err := events.NewEventFromJSON(raw)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skipping undecodable captured event")
			continue
		}
		if ev == nil {
			continue
		}
		if err := builder.Apply(ev); err != nil {
			log.Warn().Err(err).Int("index", i).Str("event", string(ev.Type())).Msg("captured event not applied")
		}
	}
}

// synthesize re-emits a run's final record as the event sequence that would
// have produced it: tool starts (which recreate delegation entries), member
// output, then the terminal event for the run's status.
func (r *Reconstructor) synthesize(builder *transcript.Builder, run RunRecord) {
	impl := r.runImpl(run, r.terminalTag(run))

	hasDelegation := false
	for _, tool := range run.Tools {
		if tool.ToolName == status.DelegationTool {
			hasDelegation = true
		}
		builder.Apply(&events.EventToolCallStarted{
			EventImpl: r.runImpl(run, r.startedTag(run)),
			Tool:      tool,
		})
	}
	// histories that kept child runs but not the delegating tool calls
	// still get one delegation entry per child
	if !hasDelegation {
		for _, member := range run.Members {
			builder.Apply(&events.EventToolCallStarted{
				EventImpl: r.runImpl(run, r.startedTag(run)),
				Tool: events.ToolCall{
					ToolName: status.DelegationTool,
					ToolArgs: map[string]any{"member_id": memberID(member)},
				},
			})
		}
	}
	seen := make(map[string]struct{})
	for _, member := range run.Members {
		seen[memberID(member)] = struct{}{}
		r.synthesizeMember(builder, member)
	}
	// older histories drop the member record and keep only the delegating
	// tool call; its result is the member's answer
	for _, tool := range run.Tools {
		if tool.ToolName != status.DelegationTool || tool.Result == "" {
			continue
		}
		target := status.DelegationTarget(tool.ToolArgs)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		content, _ := json.Marshal(tool.Result)
		builder.Apply(&events.EventContent{
			EventImpl: events.EventImpl{
				Type_:       events.EventTypeRunContent,
				RunID:       run.RunID + "/" + target,
				ParentRunID: run.RunID,
				AgentID:     target,
				AgentName:   status.LabelOrID(r.dir, target),
				SessionID:   run.SessionID,
			},
			Content: content,
		})
	}

	switch run.Status {
	case "cancelled":
		r.emitContent(builder, run)
		builder.AppendCancellation(run.RunID)
	case "error":
		message := "Run failed"
		if s, ok := run.ContentString(); ok && s != "" {
			message = s
		}
		builder.Apply(&events.EventRunError{EventImpl: impl, Error: message})
	case "paused":
		r.emitContent(builder, run)
		builder.Apply(&events.EventPaused{
			EventImpl: r.runImpl(run, events.EventTypePaused),
			Tools:     run.Tools,
		})
	default:
		builder.Apply(&events.EventRunCompleted{
			EventImpl: impl,
			Content:   run.Content,
			Tools:     run.Tools,
			Metrics:   run.Metrics,
		})
	}

	if run.Metrics != nil {
		builder.Apply(&events.EventMetricsUpdate{
			EventImpl: r.runImpl(run, events.EventTypeMetricsUpdate),
			Metrics:   *run.Metrics,
		})
	}
}

func memberID(member RunRecord) string {
	for _, id := range []string{member.AgentID, member.AgentName, member.TeamID, member.TeamName} {
		if id != "" {
			return id
		}
	}
	return ""
}

// synthesizeMember renders a member run as its streamed output: a content
// event per member, with its tool calls attached one by one. The member's
// own completion is never emitted because only the top-level team's
// completion is authoritative.
func (r *Reconstructor) synthesizeMember(builder *transcript.Builder, member RunRecord) {
	impl := r.runImpl(member, events.EventTypeRunContent)
	builder.Apply(&events.EventContent{EventImpl: impl, Content: member.Content})
	for i := range member.Tools {
		builder.Apply(&events.EventContent{EventImpl: impl, Tool: &member.Tools[i]})
	}
	for _, nested := range member.Members {
		r.synthesizeMember(builder, nested)
	}
}

func (r *Reconstructor) runImpl(run RunRecord, tag events.EventType) events.EventImpl {
	impl := events.EventImpl{
		Type_:       tag,
		RunID:       run.RunID,
		ParentRunID: run.ParentRunID,
		TeamID:      run.TeamID,
		TeamName:    run.TeamName,
		AgentID:     run.AgentID,
		AgentName:   run.AgentName,
		SessionID:   run.SessionID,
	}
	if !run.CreatedAt.IsZero() {
		impl.CreatedAt_ = run.CreatedAt.Unix()
	}
	// histories from before identity capture carry no emitter at all;
	// those runs belong to the orchestrator
	if impl.TeamName == "" && impl.AgentName == "" {
		impl.TeamName = r.topLevelTeam
	}
	return impl
}

func (r *Reconstructor) terminalTag(run RunRecord) events.EventType {
	if run.AgentName != "" || run.AgentID != "" {
		return events.EventTypeRunCompleted
	}
	return events.EventTypeTeamRunCompleted
}

func (r *Reconstructor) startedTag(run RunRecord) events.EventType {
	if run.AgentName != "" || run.AgentID != "" {
		return events.EventTypeToolCallStarted
	}
	return events.EventTypeTeamToolCallStarted
}

func (r *Reconstructor) emitContent(builder *transcript.Builder, run RunRecord) {
	if len(run.Content) == 0 {
		return
	}
	tag := events.EventTypeTeamRunContent
	if run.AgentName != "" || run.AgentID != "" {
		tag = events.EventTypeRunContent
	}
	builder.Apply(&events.EventContent{
		EventImpl: r.runImpl(run, tag),
		Content:   run.Content,
	})
}
