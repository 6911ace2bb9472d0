package storage

import (
	"context"
	"fmt"
)

const maxAuditQuery = 1000

// InsertAudit stores one audit entry and fills in its id.
func (p *PostgresClient) InsertAudit(ctx context.Context, e *AuditEntry) error {
	frames := e.CANFrames
	if frames == nil {
		frames = []string{}
	}
	var value any
	if len(e.Value) > 0 {
		value = e.Value
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO command_audit (recorded_at, event, command_id, entity_id, command_type, action,
		                           value, source, error_code, error_message, field, can_frames,
		                           latency_ms, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, e.RecordedAt, e.Event, e.CommandID, e.EntityID, e.CommandType, e.Action,
		value, e.Source, e.ErrorCode, e.ErrorMessage, e.Field, frames,
		e.LatencyMS, e.Message).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// RecentAudit returns the newest entries first, optionally for one entity.
func (p *PostgresClient) RecentAudit(ctx context.Context, entityID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > maxAuditQuery {
		limit = maxAuditQuery
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, recorded_at, event, command_id, entity_id, command_type, action, value,
		       source, error_code, error_message, field, can_frames, latency_ms, message
		FROM command_audit
		WHERE $1 = '' OR entity_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2
	`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var value []byte
		if err := rows.Scan(
			&e.ID, &e.RecordedAt, &e.Event, &e.CommandID, &e.EntityID, &e.CommandType, &e.Action, &value,
			&e.Source, &e.ErrorCode, &e.ErrorMessage, &e.Field, &e.CANFrames, &e.LatencyMS, &e.Message,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Value = value
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
