package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog/log"

	"github.com/cirkelline-ai/loom/pkg/events"
	"github.com/cirkelline-ai/loom/pkg/status"
)

// CancellationNote is appended to the interrupted entry when the user stops a
// run.
const CancellationNote = "_Generation stopped._"

// Builder is the transcript state machine. It consumes one normalized event
// at a time, synchronously and completely, and owns the ordered entry list;
// nothing else mutates it. After every applied mutation the notify hook runs
// before Apply returns, so an observer sees every intermediate state and two
// chunks can never coalesce into one invisible jump.
type Builder struct {
	topLevelTeam string
	mapper       *status.Mapper
	dir          status.Directory

	entries     []*Entry
	lastContent map[events.StreamKey]string
	seenBlocks  map[uuid.UUID]map[string]struct{}

	pausedRuns    map[string]struct{}
	cancelledRuns map[string]struct{}

	// delegator run id -> timeline event id of its latest delegation,
	// used to parent the child run's timeline events
	delegations map[string]string

	activity string

	notify   func()
	onStatus func(activity string)
}

type BuilderOption func(*Builder)

// WithTopLevelTeam sets the team whose completion events finalize entries.
func WithTopLevelTeam(name string) BuilderOption {
	return func(b *Builder) {
		b.topLevelTeam = name
	}
}

// WithDirectory overrides the member roster used for delegation labels.
func WithDirectory(dir status.Directory) BuilderOption {
	return func(b *Builder) {
		b.dir = dir
	}
}

// WithNotify registers the flush hook invoked after every applied mutation.
func WithNotify(f func()) BuilderOption {
	return func(b *Builder) {
		b.notify = f
	}
}

// WithStatusFunc registers the observer of the one-line activity status.
func WithStatusFunc(f func(activity string)) BuilderOption {
	return func(b *Builder) {
		b.onStatus = f
	}
}

func NewBuilder(options ...BuilderOption) *Builder {
	b := &Builder{
		topLevelTeam:  events.DefaultTopLevelTeam,
		lastContent:   make(map[events.StreamKey]string),
		seenBlocks:    make(map[uuid.UUID]map[string]struct{}),
		pausedRuns:    make(map[string]struct{}),
		cancelledRuns: make(map[string]struct{}),
		delegations:   make(map[string]string),
	}
	for _, o := range options {
		o(b)
	}
	if b.dir == nil {
		b.dir = status.DefaultDirectory()
	}
	b.mapper = status.NewMapper(b.dir)
	return b
}

// Entries returns a snapshot of the transcript in order.
func (b *Builder) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	for i, e := range b.entries {
		out[i] = *e
	}
	return out
}

// TopLevelTeam returns the team whose completion events finalize entries.
func (b *Builder) TopLevelTeam() string {
	return b.topLevelTeam
}

// Activity returns the current one-line status.
func (b *Builder) Activity() string {
	return b.activity
}

// Reset clears all per-conversation state. Session bookkeeping lives
// elsewhere and survives.
func (b *Builder) Reset() {
	b.entries = nil
	b.lastContent = make(map[events.StreamKey]string)
	b.seenBlocks = make(map[uuid.UUID]map[string]struct{})
	b.pausedRuns = make(map[string]struct{})
	b.cancelledRuns = make(map[string]struct{})
	b.delegations = make(map[string]string)
	b.setActivity("")
	b.flush()
}

// AppendUser appends the triggering user message as its own entry.
func (b *Builder) AppendUser(content string) *Entry {
	entry := &Entry{
		ID:        uuid.New(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	b.entries = append(b.entries, entry)
	b.flush()
	return entry
}

// Apply routes one event into the transcript. Classification and merge
// failures are recovered locally: a malformed event is skipped, never fatal.
func (b *Builder) Apply(ev events.Event) error {
	if ev == nil {
		return nil
	}
	ident := ev.Ident()
	if ident.RunID != "" {
		if _, cancelled := b.cancelledRuns[ident.RunID]; cancelled {
			log.Trace().Str("run_id", ident.RunID).Str("event", string(ev.Type())).Msg("dropping event for cancelled run")
			return nil
		}
		if _, paused := b.pausedRuns[ident.RunID]; paused {
			log.Trace().Str("run_id", ident.RunID).Str("event", string(ev.Type())).Msg("dropping event for paused run")
			return nil
		}
	}

	switch e := ev.(type) {
	case *events.EventRunStarted:
		log.Trace().Object("event", &e.EventImpl).Msg("run started")
	case *events.EventContent:
		b.applyContent(e)
	case *events.EventToolCallStarted:
		b.applyToolStarted(e)
	case *events.EventToolCallCompleted:
		b.applyToolCompleted(e)
	case *events.EventReasoningStep:
		b.applyReasoningStep(e)
	case *events.EventReasoningCompleted:
		b.completeTimeline(ident, TimelineCompleted)
	case *events.EventMemoryUpdate:
		b.applyMemoryUpdate(e)
	case *events.EventRunCompleted:
		b.applyCompleted(e)
	case *events.EventRunError:
		b.applyError(ident, e.Message(), ev.Timestamp())
	case *events.EventRunCancelled:
		b.cancelledRuns[ident.RunID] = struct{}{}
		b.applyError(ident, e.Message(), ev.Timestamp())
	case *events.EventPaused:
		b.applyPaused(e)
	case *events.EventRetry:
		b.applyRetry(e)
	case *events.EventError:
		// transport-level errors are only user-visible when they
		// interrupt an in-progress run
		if b.lastAgentEntry() != nil {
			b.applyError(ident, e.Error, ev.Timestamp())
		}
	case *events.EventMetricsUpdate:
		b.applyMetrics(e)
	default:
		log.Debug().Str("event", string(ev.Type())).Msg("no transcript rule for event, skipping")
	}
	return nil
}

// --- content routing ---

func (b *Builder) applyContent(e *events.EventContent) {
	ident := e.Ident()
	key := ident.Key()
	entry := b.findStreamEntry(ident)

	mutated := false
	if chunk, ok := e.ContentString(); ok {
		if chunk != "" {
			last := b.lastContent[key]
			delta := contentDelta(last, chunk)
			if entry == nil {
				entry = b.newAgentEntry(ident, e.Timestamp())
			}
			entry.Content += delta
			b.lastContent[key] = last + delta
			mutated = true
		}
	} else if len(e.Content) > 0 {
		if entry == nil {
			entry = b.newAgentEntry(ident, e.Timestamp())
		}
		if b.appendBlock(entry, e.Content) {
			mutated = true
		}
	}

	if e.Tool != nil && !status.Hidden(e.Tool.ToolName) {
		if entry == nil {
			entry = b.newAgentEntry(ident, e.Timestamp())
		}
		entry.ToolCalls = MergeToolCall(entry.ToolCalls, RecordFromToolCall(*e.Tool))
		mutated = true
	}

	if mutated {
		b.flush()
	}
}

// contentDelta infers the fresh part of a chunk. Emitters disagree on
// whether content is cumulative or incremental, so the previously seen text
// is stripped when it is contained in the chunk; anything else is taken as a
// plain increment. Overlapping-but-not-prefix resends would fool this; the
// protocol should say which one it means.
func contentDelta(last, chunk string) string {
	if last == "" {
		return chunk
	}
	if strings.Contains(chunk, last) {
		return strings.Replace(chunk, last, "", 1)
	}
	return chunk
}

// appendBlock renders structured content as a fenced block, once per
// distinct payload.
func (b *Builder) appendBlock(entry *Entry, raw json.RawMessage) bool {
	seen, ok := b.seenBlocks[entry.ID]
	if !ok {
		seen = make(map[string]struct{})
		b.seenBlocks[entry.ID] = seen
	}
	if _, dup := seen[string(raw)]; dup {
		return false
	}
	seen[string(raw)] = struct{}{}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		log.Debug().Err(err).Msg("structured content is not valid JSON, appending raw")
		buf.Write(raw)
	}
	entry.Content += "\n```json\n" + buf.String() + "\n```\n"
	return true
}

// --- tool events ---

func (b *Builder) applyToolStarted(e *events.EventToolCallStarted) {
	ident := e.Ident()
	tool := e.Tool

	switch status.Classify(tool.ToolName) {
	case status.CategoryDelegation:
		b.applyDelegation(e)
	case status.CategoryCoordination:
		// invisible in the transcript, only the status line moves
		b.setActivity(b.mapper.Activity(tool.ToolName, tool.ToolArgs, ident.AgentName))
	case status.CategoryVisible:
		entry := b.currentEntry(ident, e.Timestamp())
		entry.ToolCalls = MergeToolCall(entry.ToolCalls, RecordFromToolCall(tool))
		b.appendTimeline(entry, TimelineEvent{
			Timestamp:   e.Timestamp(),
			EventType:   e.Type(),
			Source:      ident.SourceLabel(),
			Description: b.mapper.Activity(tool.ToolName, tool.ToolArgs, ident.AgentName),
			Status:      TimelineStarted,
			Depth:       ident.Depth(b.topLevelTeam),
			Details: map[string]any{
				"tool_name": tool.ToolName,
				"tool_args": tool.ToolArgs,
			},
		}, ident)
		b.setActivity(b.mapper.Activity(tool.ToolName, tool.ToolArgs, ident.AgentName))
		b.flush()
	}
}

func (b *Builder) applyDelegation(e *events.EventToolCallStarted) {
	ident := e.Ident()
	target := b.resolveDelegationTarget(ident, e.Tool.ToolArgs)

	entry := &Entry{
		ID:             uuid.New(),
		Role:           RoleDelegation,
		TeamName:       ident.TeamName,
		AgentName:      ident.AgentName,
		RunID:          ident.RunID,
		ParentRunID:    ident.ParentRunID,
		DelegatedTo:    status.LabelOrID(b.dir, target),
		DelegationTask: status.DelegationTask(e.Tool.ToolArgs),
		CreatedAt:      e.Timestamp(),
	}
	b.entries = append(b.entries, entry)

	tev := TimelineEvent{
		Timestamp:   e.Timestamp(),
		EventType:   e.Type(),
		Source:      ident.SourceLabel(),
		Description: fmt.Sprintf("Delegated to %s", entry.DelegatedTo),
		Status:      TimelineStarted,
		Depth:       ident.Depth(b.topLevelTeam),
		Details: map[string]any{
			"member": target,
			"task":   entry.DelegationTask,
		},
	}
	id := b.appendTimeline(entry, tev, ident)
	b.delegations[ident.RunID] = id

	b.setActivity(b.mapper.Activity(e.Tool.ToolName, e.Tool.ToolArgs, ident.AgentName))
	b.flush()
}

// resolveDelegationTarget maps an agent id to its owning sub-team when the
// delegator is the top-level team, which is how the backend labels those
// delegations in its own history.
func (b *Builder) resolveDelegationTarget(ident events.Ident, args map[string]any) string {
	target := status.DelegationTarget(args)
	if ident.SourceType(b.topLevelTeam) != events.SourceMain {
		return target
	}
	if team, ok := b.dir.TeamFor(target); ok {
		return team
	}
	return target
}

func (b *Builder) applyToolCompleted(e *events.EventToolCallCompleted) {
	ident := e.Ident()
	tool := e.Tool

	switch status.Classify(tool.ToolName) {
	case status.CategoryCoordination:
		return
	case status.CategoryDelegation:
		if entry := b.lastDelegationEntry(ident.RunID); entry != nil {
			b.resolveTimeline(entry, toolStatus(tool))
			b.flush()
		}
	case status.CategoryVisible:
		entry := b.entryHoldingTool(RecordFromToolCall(tool).Key())
		if entry == nil {
			entry = b.currentEntry(ident, e.Timestamp())
		}
		entry.ToolCalls = MergeToolCall(entry.ToolCalls, RecordFromToolCall(tool))
		if !b.resolveToolTimeline(entry, tool) {
			b.appendTimeline(entry, TimelineEvent{
				Timestamp:   e.Timestamp(),
				EventType:   e.Type(),
				Source:      ident.SourceLabel(),
				Description: b.mapper.Activity(tool.ToolName, tool.ToolArgs, ident.AgentName),
				Status:      toolStatus(tool),
				Depth:       ident.Depth(b.topLevelTeam),
				Details: map[string]any{
					"tool_name": tool.ToolName,
					"result":    tool.Result,
				},
			}, ident)
		}
		b.flush()
	}
}

// resolveToolTimeline flips the open timeline record of a tool invocation to
// its terminal status. Insertion order is never touched.
func (b *Builder) resolveToolTimeline(entry *Entry, tool events.ToolCall) bool {
	for i := len(entry.Timeline) - 1; i >= 0; i-- {
		tev := &entry.Timeline[i]
		if tev.Status != TimelineStarted && tev.Status != TimelineInProgress {
			continue
		}
		if name, _ := tev.Details["tool_name"].(string); name != tool.ToolName {
			continue
		}
		tev.Status = toolStatus(tool)
		if tool.Result != "" {
			tev.Details["result"] = tool.Result
		}
		return true
	}
	return false
}

func toolStatus(tool events.ToolCall) TimelineStatus {
	if tool.ToolCallError {
		return TimelineError
	}
	return TimelineCompleted
}

// --- reasoning / memory ---

func (b *Builder) applyReasoningStep(e *events.EventReasoningStep) {
	ident := e.Ident()
	entry := b.findStreamEntry(ident)
	if entry == nil {
		entry = b.lastAgentEntry()
	}
	if entry == nil {
		return
	}
	text := e.Text()
	b.appendTimeline(entry, TimelineEvent{
		Timestamp:   e.Timestamp(),
		EventType:   e.Type(),
		Source:      ident.SourceLabel(),
		Description: firstLine(text),
		Status:      TimelineInProgress,
		Depth:       ident.Depth(b.topLevelTeam),
		Details:     map[string]any{"reasoning": text},
	}, ident)
	b.flush()
}

func (b *Builder) applyMemoryUpdate(e *events.EventMemoryUpdate) {
	ident := e.Ident()
	if e.Completed() {
		b.completeTimeline(ident, TimelineCompleted)
		b.setActivity("")
		return
	}
	b.setActivity("Updating memory…")
	if entry := b.lastAgentEntry(); entry != nil {
		b.appendTimeline(entry, TimelineEvent{
			Timestamp:   e.Timestamp(),
			EventType:   e.Type(),
			Source:      ident.SourceLabel(),
			Description: "Updating memory",
			Status:      TimelineStarted,
			Depth:       ident.Depth(b.topLevelTeam),
		}, ident)
		b.flush()
	}
}

// --- terminal events ---

func (b *Builder) applyCompleted(e *events.EventRunCompleted) {
	ident := e.Ident()
	if ident.Depth(b.topLevelTeam) != 0 {
		// member completions are noise; only the top-level team's
		// completion carries the canonical final content
		log.Trace().Object("event", &e.EventImpl).Msg("discarding non-authoritative completion")
		return
	}

	entry := b.findStreamEntry(ident)
	if entry == nil {
		entry = b.newAgentEntry(ident, e.Timestamp())
	}

	// replace accumulated streamed text with the canonical final text,
	// keeping CreatedAt so the entry's identity stays stable
	if final, ok := e.ContentString(); ok && final != "" {
		entry.Content = final
		b.lastContent[ident.Key()] = final
	} else if len(e.Content) > 0 {
		entry.Content = ""
		// the final content replaces the streamed text outright, so a
		// block that already streamed must not be suppressed as a dup
		delete(b.seenBlocks, entry.ID)
		b.appendBlock(entry, e.Content)
	}

	for _, tc := range e.Tools {
		if status.Hidden(tc.ToolName) {
			continue
		}
		entry.ToolCalls = MergeToolCall(entry.ToolCalls, RecordFromToolCall(tc))
	}
	for _, media := range [][]events.Media{e.Images, e.Videos, e.Audio} {
		entry.Media = append(entry.Media, media...)
	}
	if e.Metrics != nil {
		entry.Metrics = e.Metrics
	}

	b.setActivity("")
	b.flush()
}

func (b *Builder) applyError(ident events.Ident, message string, at time.Time) {
	entry := b.lastAgentEntry()
	if entry == nil {
		entry = b.newAgentEntry(ident, at)
	}
	entry.StreamingError = true
	entry.ErrorMessage = message
	b.setActivity("")
	b.flush()
}

func (b *Builder) applyPaused(e *events.EventPaused) {
	entry := b.lastAgentEntry()
	if entry == nil {
		entry = b.newAgentEntry(e.Ident(), e.Timestamp())
	}
	entry.HITLPaused = true
	entry.HITLRunID = e.RunID
	entry.HITLSessionID = e.SessionID
	entry.HITLRequirements = e.Requirements
	if len(entry.HITLRequirements) == 0 {
		entry.HITLRequirements = requirementsFromTools(e.Tools)
	}

	// terminal for this run: no more transcript mutation until resumed
	if e.RunID != "" {
		b.pausedRuns[e.RunID] = struct{}{}
	}
	b.setActivity("")
	b.flush()
}

// requirementsFromTools covers the alternative wire shape where the pause
// requirements ride on the tools list instead.
func requirementsFromTools(tools []events.ToolCall) []events.Requirement {
	var reqs []events.Requirement
	for _, tool := range tools {
		if !tool.RequiresUserInput {
			continue
		}
		reqs = append(reqs, events.Requirement{
			NeedsUserInput:  true,
			ToolCallID:      tool.ToolCallID,
			ToolName:        tool.ToolName,
			UserInputSchema: tool.UserInputSchema,
		})
	}
	return reqs
}

func (b *Builder) applyRetry(e *events.EventRetry) {
	if e.Attempt > 0 {
		b.setActivity(fmt.Sprintf("Retrying (attempt %d)…", e.Attempt))
		return
	}
	b.setActivity("Retrying…")
}

func (b *Builder) applyMetrics(e *events.EventMetricsUpdate) {
	entry := b.findStreamEntry(e.Ident())
	if entry == nil {
		entry = b.lastAgentEntry()
	}
	if entry == nil {
		return
	}
	metrics := e.Metrics
	entry.Metrics = &metrics
	b.flush()
}

// --- cancellation ---

// AppendCancellation marks the run cancelled and appends the cancellation
// note to the interrupted entry. Repeat calls for the same run are no-ops, so
// a double cancel appends the note exactly once.
func (b *Builder) AppendCancellation(runID string) bool {
	if _, done := b.cancelledRuns[runID]; done {
		return false
	}
	b.cancelledRuns[runID] = struct{}{}

	if entry := b.lastAgentEntry(); entry != nil {
		if entry.Content != "" {
			entry.Content += "\n\n"
		}
		entry.Content += CancellationNote
	}
	b.setActivity("")
	b.flush()
	return true
}

// ResumeRun lifts the pause freeze for a run after the host has submitted the
// requested input.
func (b *Builder) ResumeRun(runID string) {
	delete(b.pausedRuns, runID)
	if entry := b.lastAgentEntry(); entry != nil && entry.HITLRunID == runID {
		entry.HITLPaused = false
		b.flush()
	}
}

// --- entry lookup and bookkeeping ---

// findStreamEntry scans from the end for the most recent agent entry owned by
// this exact identity and run.
func (b *Builder) findStreamEntry(ident events.Ident) *Entry {
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Matches(ident) {
			return b.entries[i]
		}
	}
	return nil
}

func (b *Builder) lastAgentEntry() *Entry {
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Role == RoleAgent {
			return b.entries[i]
		}
	}
	return nil
}

func (b *Builder) lastDelegationEntry(runID string) *Entry {
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Role == RoleDelegation && b.entries[i].RunID == runID {
			return b.entries[i]
		}
	}
	return nil
}

func (b *Builder) entryHoldingTool(key string) *Entry {
	for i := len(b.entries) - 1; i >= 0; i-- {
		for _, rec := range b.entries[i].ToolCalls {
			if rec.Key() == key {
				return b.entries[i]
			}
		}
	}
	return nil
}

// currentEntry returns the entry tool and timeline events attach to,
// preferring the identity's own stream, then the most recent agent entry,
// creating one as a last resort.
func (b *Builder) currentEntry(ident events.Ident, at time.Time) *Entry {
	if entry := b.findStreamEntry(ident); entry != nil {
		return entry
	}
	if entry := b.lastAgentEntry(); entry != nil {
		return entry
	}
	return b.newAgentEntry(ident, at)
}

func (b *Builder) newAgentEntry(ident events.Ident, at time.Time) *Entry {
	entry := &Entry{
		ID:          uuid.New(),
		Role:        RoleAgent,
		RunID:       ident.RunID,
		ParentRunID: ident.ParentRunID,
		CreatedAt:   at,
	}
	// exactly one identity axis, fixed for the entry's lifetime
	if ident.AgentName != "" {
		entry.AgentName = ident.AgentName
	} else {
		entry.TeamName = ident.TeamName
	}
	b.entries = append(b.entries, entry)
	return entry
}

// appendTimeline adds a behind-the-scenes record, parenting depth-1 events
// under the delegation that spawned their run when it is known.
func (b *Builder) appendTimeline(entry *Entry, tev TimelineEvent, ident events.Ident) string {
	tev.ID = shortuuid.New()
	if tev.ParentEventID == "" && ident.ParentRunID != "" {
		if parent, ok := b.delegations[ident.ParentRunID]; ok {
			tev.ParentEventID = parent
		}
	}
	entry.Timeline = append(entry.Timeline, tev)
	return tev.ID
}

// resolveTimeline flips the status of the latest open timeline event on the
// entry. Insertion order is never touched.
func (b *Builder) resolveTimeline(entry *Entry, s TimelineStatus) {
	for i := len(entry.Timeline) - 1; i >= 0; i-- {
		if entry.Timeline[i].Status == TimelineStarted || entry.Timeline[i].Status == TimelineInProgress {
			entry.Timeline[i].Status = s
			return
		}
	}
}

func (b *Builder) completeTimeline(ident events.Ident, s TimelineStatus) {
	entry := b.findStreamEntry(ident)
	if entry == nil {
		entry = b.lastAgentEntry()
	}
	if entry == nil {
		return
	}
	b.resolveTimeline(entry, s)
	b.flush()
}

func (b *Builder) setActivity(activity string) {
	if activity == b.activity {
		return
	}
	b.activity = activity
	if b.onStatus != nil {
		b.onStatus(activity)
	}
}

func (b *Builder) flush() {
	if b.notify != nil {
		b.notify()
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}
