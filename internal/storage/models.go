package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                  uuid.UUID  `json:"id"`
	Username            string     `json:"username"`
	PasswordHash        string     `json:"-"` // never exposed
	Role                string     `json:"role"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLoginAt         *time.Time `json:"last_login_at"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
}

type MachineToken struct {
	ID              uuid.UUID      `json:"id"`
	TokenHash       string         `json:"-"`
	Name            string         `json:"name"`
	Permissions     []string       `json:"permissions"`
	CreatedAt       time.Time      `json:"created_at"`
	LastUsedAt      *time.Time     `json:"last_used_at"`
	CreatedByUserID *uuid.UUID     `json:"created_by_user_id"`
	Metadata        map[string]any `json:"metadata"`
}

// AuditEntry is one row of command_audit.
type AuditEntry struct {
	ID           int64           `json:"id"`
	RecordedAt   time.Time       `json:"timestamp"`
	Event        string          `json:"event"`
	CommandID    string          `json:"command_id,omitempty"`
	EntityID     string          `json:"entity_id,omitempty"`
	CommandType  string          `json:"command_type,omitempty"`
	Action       string          `json:"action,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	Source       string          `json:"source,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Field        string          `json:"field,omitempty"`
	CANFrames    []string        `json:"can_frames,omitempty"`
	LatencyMS    *float64        `json:"latency_ms,omitempty"`
	Message      string          `json:"message,omitempty"`
}
