package events

// DefaultTopLevelTeam is the orchestrator team whose completion events are
// authoritative for the transcript.
const DefaultTopLevelTeam = "Cirkelline"

type SourceType string

const (
	// SourceMain is the top-level orchestrator team.
	SourceMain SourceType = "main"
	// SourceTeam is a delegated sub-team.
	SourceTeam SourceType = "team"
	// SourceAgent is an individual agent.
	SourceAgent SourceType = "agent"
)

// Ident is the emitter identity read off an event. It is always derived, never
// stored on its own.
type Ident struct {
	TeamName    string
	AgentName   string
	RunID       string
	ParentRunID string
}

// SourceType classifies the emitter relative to the top-level team.
func (id Ident) SourceType(topLevelTeam string) SourceType {
	switch {
	case id.AgentName != "":
		return SourceAgent
	case id.TeamName != "" && id.TeamName != topLevelTeam:
		return SourceTeam
	default:
		return SourceMain
	}
}

// Depth is 0 for the top-level team and 1 for any directly attributed member
// (agent or sub-team). The protocol does not expose deeper nesting on the
// identity fields themselves; nesting below depth 1 is visible only through
// parent_run_id linkage.
func (id Ident) Depth(topLevelTeam string) int {
	if id.SourceType(topLevelTeam) == SourceMain {
		return 0
	}
	return 1
}

// SourceLabel is the display name of the emitter: the agent name when
// present, else the team name, else "System".
func (id Ident) SourceLabel() string {
	if id.AgentName != "" {
		return id.AgentName
	}
	if id.TeamName != "" {
		return id.TeamName
	}
	return "System"
}

// Key identifies one text stream: all content chunks appended to one agent
// entry share it.
func (id Ident) Key() StreamKey {
	return StreamKey{Source: id.SourceLabel(), RunID: id.RunID}
}

// StreamKey is the (emitter, run) pair content routing is keyed by.
type StreamKey struct {
	Source string
	RunID  string
}
