package transcript

// MergeToolCall upserts a record into the list by key. A later record fills
// in what it carries (so a completed event lands its result and metrics on
// the record the started event created) without clearing fields it omits.
// Merging the same record twice is a no-op.
func MergeToolCall(existing []ToolCallRecord, in ToolCallRecord) []ToolCallRecord {
	key := in.Key()
	for i, rec := range existing {
		if rec.Key() != key {
			continue
		}
		existing[i] = mergeRecord(rec, in)
		return existing
	}
	return append(existing, in)
}

func mergeRecord(base, in ToolCallRecord) ToolCallRecord {
	if in.ToolCallID != "" {
		base.ToolCallID = in.ToolCallID
	}
	if in.ToolName != "" {
		base.ToolName = in.ToolName
	}
	if len(in.ToolArgs) > 0 {
		base.ToolArgs = in.ToolArgs
	}
	if in.Result != "" {
		base.Result = in.Result
	}
	if in.IsError {
		base.IsError = true
	}
	if in.Metrics != nil {
		base.Metrics = in.Metrics
	}
	if in.CreatedAt != 0 && base.CreatedAt == 0 {
		base.CreatedAt = in.CreatedAt
	}
	return base
}
