package replay

import (
	_ "embed"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/cirkelline-ai/loom/pkg/events"
)

// FlexTime tolerates the three timestamp shapes persisted histories use:
// epoch seconds, epoch milliseconds, and RFC3339 strings.
type FlexTime struct {
	time.Time
}

func (t *FlexTime) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		sec := int64(n)
		if sec > 1_000_000_000_000 {
			t.Time = time.UnixMilli(sec)
		} else {
			t.Time = time.Unix(sec, 0)
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "timestamp is neither number nor string")
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return errors.Wrapf(err, "could not parse timestamp %q", s)
	}
	t.Time = parsed
	return nil
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Unix())
}

// RunInput is the user message that triggered a run.
type RunInput struct {
	InputContent string `json:"input_content,omitempty"`
}

// RunRecord is one persisted run from a stored session.
type RunRecord struct {
	RunID       string `json:"run_id"`
	ParentRunID string `json:"parent_run_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	TeamID      string `json:"team_id,omitempty"`
	TeamName    string `json:"team_name,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	AgentName   string `json:"agent_name,omitempty"`
	Status      string `json:"status,omitempty"`

	Input   *RunInput       `json:"input,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	Tools   []events.ToolCall `json:"tools,omitempty"`
	Metrics *events.Metrics   `json:"metrics,omitempty"`

	// raw wire events captured while the run streamed; empty for
	// histories persisted before event capture existed
	Events []json.RawMessage `json:"events,omitempty"`

	Members []RunRecord `json:"member_responses,omitempty"`

	CreatedAt FlexTime `json:"created_at,omitempty"`
}

// ContentString returns the final content when it is a plain string.
func (r *RunRecord) ContentString() (string, bool) {
	var s string
	if err := json.Unmarshal(r.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

//go:embed run-record.schema.json
var runRecordSchema []byte

// ParseRuns decodes a persisted run list, validating each record against the
// schema first. Invalid records are skipped with a warning so one corrupt
// run never hides a whole session.
func ParseRuns(raw []byte) ([]RunRecord, error) {
	var rawRuns []json.RawMessage
	if err := json.Unmarshal(raw, &rawRuns); err != nil {
		return nil, errors.Wrap(err, "run history is not a JSON array")
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(runRecordSchema))
	if err != nil {
		return nil, errors.Wrap(err, "could not compile run record schema")
	}

	runs := make([]RunRecord, 0, len(rawRuns))
	for i, rr := range rawRuns {
		result, err := schema.Validate(gojsonschema.NewBytesLoader(rr))
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skipping unreadable run record")
			continue
		}
		if !result.Valid() {
			log.Warn().Int("index", i).Interface("violations", result.Errors()).Msg("skipping invalid run record")
			continue
		}
		var run RunRecord
		if err := json.Unmarshal(rr, &run); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skipping undecodable run record")
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}
