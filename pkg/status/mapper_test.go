package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityPrecedence(t *testing.T) {
	m := NewMapper(nil)

	tests := []struct {
		name      string
		tool      string
		args      map[string]any
		agentName string
		want      string
	}{
		{
			name: "web search with query",
			tool: "duckduckgo_search",
			args: map[string]any{"query": "golang generics"},
			want: `Searching for "golang generics"…`,
		},
		{
			name: "web search without query",
			tool: "tavily_search",
			want: "Searching the web…",
		},
		{
			name:      "web search beats agent rule",
			tool:      "exa_search",
			args:      map[string]any{"query": "caselaw"},
			agentName: "Senior Research Analyst",
			want:      `Searching for "caselaw"…`,
		},
		{
			name:      "agent rule beats generic tool rule",
			tool:      "summarize_findings",
			agentName: "Senior Research Analyst",
			want:      "Analyzing research findings…",
		},
		{
			name: "delegation resolves member label",
			tool: DelegationTool,
			args: map[string]any{"member_id": "research-team", "task": "find sources"},
			want: "Delegating to Research Team…",
		},
		{
			name: "delegation falls back to raw id",
			tool: DelegationTool,
			args: map[string]any{"member_id": "mystery-team"},
			want: "Delegating to mystery-team…",
		},
		{
			name: "coordination tool fixed string",
			tool: "think",
			want: "Thinking…",
		},
		{
			name: "default title case",
			tool: "generate_invoice_pdf",
			want: "Generate Invoice Pdf…",
		},
		{
			name: "no tool no rule",
			tool: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Activity(tt.tool, tt.args, tt.agentName))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CategoryDelegation, Classify(DelegationTool))
	assert.Equal(t, CategoryCoordination, Classify("think"))
	assert.Equal(t, CategoryCoordination, Classify("get_chat_history"))
	assert.Equal(t, CategoryVisible, Classify("duckduckgo_search"))

	assert.True(t, Hidden("analyze"))
	assert.False(t, Hidden("duckduckgo_search"))
}

func TestDelegationTargetKeys(t *testing.T) {
	assert.Equal(t, "research-team", DelegationTarget(map[string]any{"member_id": "research-team"}))
	assert.Equal(t, "Exa Researcher", DelegationTarget(map[string]any{"member_name": "Exa Researcher"}))
	assert.Equal(t, "", DelegationTarget(nil))

	assert.Equal(t, "dig in", DelegationTask(map[string]any{"task": "dig in"}))
}

func TestDefaultDirectoryRoster(t *testing.T) {
	dir := DefaultDirectory()

	label, ok := dir.Label("research-team")
	require.True(t, ok)
	assert.Equal(t, "Research Team", label)

	team, ok := dir.TeamFor("exa-researcher")
	require.True(t, ok)
	assert.Equal(t, "research-team", team)

	_, ok = dir.Label("nope")
	assert.False(t, ok)
}
