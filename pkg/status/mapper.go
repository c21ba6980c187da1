package status

import (
	"fmt"
	"strings"

	"github.com/iancoleman/strcase"
)

// Category sorts tools by how the transcript treats them.
type Category int

const (
	// CategoryVisible tools show up as badges on the entry and update the
	// activity line.
	CategoryVisible Category = iota
	// CategoryCoordination tools are internal planning/analysis/history
	// lookups; they only ever touch the activity line.
	CategoryCoordination
	// CategoryDelegation is the delegation tool; it spawns its own
	// transcript entry.
	CategoryDelegation
)

// DelegationTool is the tool the orchestrator uses to hand a task to a
// member.
const DelegationTool = "delegate_task_to_member"

var coordinationTools = map[string]struct{}{
	"think":                  {},
	"analyze":                {},
	"get_chat_history":       {},
	"search_session_history": {},
	"search_memories":        {},
	"update_user_memory":     {},
}

var coordinationActivity = map[string]string{
	"think":                  "Thinking…",
	"analyze":                "Analyzing…",
	"get_chat_history":       "Reviewing our conversation…",
	"search_session_history": "Looking back at earlier sessions…",
	"search_memories":        "Recalling what I know…",
	"update_user_memory":     "Updating memory…",
}

var webSearchTools = map[string]struct{}{
	"duckduckgo_search": {},
	"exa_search":        {},
	"tavily_search":     {},
	"web_search":        {},
	"search_web":        {},
}

// agentActivity maps a lowercase substring of the emitting agent's name to a
// fixed activity string. These win over generic tool rules.
var agentActivity = []struct {
	substring string
	activity  string
}{
	{"research analyst", "Analyzing research findings…"},
	{"legal", "Reviewing legal considerations…"},
}

// Classify sorts a tool name into its transcript category.
func Classify(toolName string) Category {
	if toolName == DelegationTool {
		return CategoryDelegation
	}
	if _, ok := coordinationTools[toolName]; ok {
		return CategoryCoordination
	}
	return CategoryVisible
}

// Hidden reports whether a tool is excluded from an entry's visible tool-call
// list.
func Hidden(toolName string) bool {
	return Classify(toolName) != CategoryVisible
}

// Mapper turns tool activity into the one-line status shown while a run
// streams.
type Mapper struct {
	dir Directory
}

func NewMapper(dir Directory) *Mapper {
	if dir == nil {
		dir = DefaultDirectory()
	}
	return &Mapper{dir: dir}
}

// Activity maps a (tool, args, emitting agent) triple to a short
// human-readable activity string. The empty string means no status update.
// Precedence: web search > agent-name rules > delegation > coordination >
// generic title-cased tool name.
func (m *Mapper) Activity(toolName string, args map[string]any, agentName string) string {
	if _, ok := webSearchTools[toolName]; ok {
		if query := stringArg(args, "query"); query != "" {
			return fmt.Sprintf("Searching for %q…", query)
		}
		return "Searching the web…"
	}

	lowered := strings.ToLower(agentName)
	for _, rule := range agentActivity {
		if lowered != "" && strings.Contains(lowered, rule.substring) {
			return rule.activity
		}
	}

	if toolName == DelegationTool {
		return fmt.Sprintf("Delegating to %s…", LabelOrID(m.dir, DelegationTarget(args)))
	}

	if activity, ok := coordinationActivity[toolName]; ok {
		return activity
	}

	if toolName == "" {
		return ""
	}
	return titleCase(toolName) + "…"
}

// DelegationTarget extracts the member id a delegation call addresses. The
// backend uses member_id at the top level and member_name inside sub-teams.
func DelegationTarget(args map[string]any) string {
	for _, key := range []string{"member_id", "member_name", "agent_id"} {
		if v := stringArg(args, key); v != "" {
			return v
		}
	}
	return ""
}

// DelegationTask extracts the task text of a delegation call.
func DelegationTask(args map[string]any) string {
	for _, key := range []string{"task", "task_description", "expected_output"} {
		if v := stringArg(args, key); v != "" {
			return v
		}
	}
	return ""
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}

// titleCase renders a snake_case tool name as "Title Case" words.
func titleCase(name string) string {
	words := strings.Fields(strcase.ToDelimited(name, ' '))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
