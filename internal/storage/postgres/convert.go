package postgres

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/Jazzman94/agentai/internal/audit"
)

func toCallRecordModel(e audit.Entry) CallRecordModel {
	args, _ := json.Marshal(e.Args)
	if e.Args == nil {
		args = []byte("{}")
	}
	return CallRecordModel{
		ID:         uuid.New(),
		CallID:     e.CallID,
		Caller:     e.Caller,
		Operation:  e.Operation,
		Root:       e.Root,
		Args:       string(args),
		Success:    e.Success,
		Kind:       e.Kind,
		Output:     e.Output,
		DurationMS: e.DurationMS,
		CreatedAt:  e.Timestamp,
	}
}

func toAuditEntry(m *CallRecordModel) audit.Entry {
	var args map[string]any
	if m.Args != "" {
		_ = json.Unmarshal([]byte(m.Args), &args)
	}
	if len(args) == 0 {
		args = nil
	}
	return audit.Entry{
		Timestamp:  m.CreatedAt,
		CallID:     m.CallID,
		Caller:     m.Caller,
		Operation:  m.Operation,
		Root:       m.Root,
		Args:       args,
		Success:    m.Success,
		Kind:       m.Kind,
		Output:     m.Output,
		DurationMS: m.DurationMS,
	}
}
