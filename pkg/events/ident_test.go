package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentClassification(t *testing.T) {
	tests := []struct {
		name       string
		ident      Ident
		sourceType SourceType
		depth      int
		label      string
	}{
		{
			name:       "top level team",
			ident:      Ident{TeamName: "Cirkelline", RunID: "r1"},
			sourceType: SourceMain,
			depth:      0,
			label:      "Cirkelline",
		},
		{
			name:       "sub team",
			ident:      Ident{TeamName: "Research Team", RunID: "r2"},
			sourceType: SourceTeam,
			depth:      1,
			label:      "Research Team",
		},
		{
			name:       "agent",
			ident:      Ident{AgentName: "Exa Researcher", RunID: "r3"},
			sourceType: SourceAgent,
			depth:      1,
			label:      "Exa Researcher",
		},
		{
			name:       "agent name wins over team name",
			ident:      Ident{TeamName: "Research Team", AgentName: "Exa Researcher", RunID: "r3"},
			sourceType: SourceAgent,
			depth:      1,
			label:      "Exa Researcher",
		},
		{
			name:       "no identity",
			ident:      Ident{RunID: "r4"},
			sourceType: SourceMain,
			depth:      0,
			label:      "System",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sourceType, tt.ident.SourceType(DefaultTopLevelTeam))
			assert.Equal(t, tt.depth, tt.ident.Depth(DefaultTopLevelTeam))
			assert.Equal(t, tt.label, tt.ident.SourceLabel())
		})
	}
}

func TestStreamKeySeparatesEmitters(t *testing.T) {
	a := Ident{TeamName: "Cirkelline", RunID: "r1"}
	b := Ident{AgentName: "Exa Researcher", RunID: "r1"}
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), Ident{TeamName: "Cirkelline", RunID: "r1"}.Key())
}
