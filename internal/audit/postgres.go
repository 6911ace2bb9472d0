package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenRVCore/internal/storage"
)

// AuditStore is the storage the PostgresSink writes to.
type AuditStore interface {
	InsertAudit(ctx context.Context, entry *storage.AuditEntry) error
}

// PostgresSink writes each record as a command_audit row. The pool is
// owned by the caller and not closed here.
type PostgresSink struct {
	store AuditStore
}

func NewPostgresSink(store AuditStore) *PostgresSink {
	return &PostgresSink{store: store}
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	entry, err := toEntry(rec)
	if err != nil {
		return err
	}
	return s.store.InsertAudit(ctx, entry)
}

func (s *PostgresSink) Close() error { return nil }

func toEntry(rec Record) (*storage.AuditEntry, error) {
	entry := &storage.AuditEntry{
		RecordedAt:   rec.Timestamp,
		Event:        string(rec.Event),
		CommandID:    rec.CommandID,
		EntityID:     rec.EntityID,
		CommandType:  rec.CommandType,
		Action:       rec.Action,
		Source:       rec.Source,
		ErrorCode:    rec.ErrorCode,
		ErrorMessage: rec.ErrorMessage,
		Field:        rec.Field,
		LatencyMS:    rec.LatencyMS,
		Message:      rec.Message,
	}
	if rec.Value != nil {
		raw, err := json.Marshal(rec.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		entry.Value = raw
	}
	entry.CANFrames = rec.CANFrames
	if entry.CANFrames == nil {
		entry.CANFrames = rec.FramesAttempted
	}
	return entry, nil
}
