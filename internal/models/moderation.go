package models

import (
	"encoding/json"
	"time"
)

// Shift is a staff on-duty interval. EndedAt is nil while the shift is open.
type Shift struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	PlayerID        string     `json:"player_id"`
	PlayerName      string     `json:"player_name"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
}

// Open reports whether the shift has not been closed.
func (s Shift) Open() bool {
	return s.EndedAt == nil
}

// Duration returns the recorded duration, or the elapsed time up to now for
// an open shift.
func (s Shift) Duration(now time.Time) time.Duration {
	if s.EndedAt == nil {
		return now.Sub(s.StartedAt)
	}
	return time.Duration(s.DurationSeconds) * time.Second
}

// PunishmentType is the kind of moderation action recorded.
type PunishmentType string

const (
	PunishmentWarn    PunishmentType = "Warn"
	PunishmentKick    PunishmentType = "Kick"
	PunishmentBan     PunishmentType = "Ban"
	PunishmentBanBolo PunishmentType = "Ban Bolo"
)

// Punishment is a moderation record against a player.
type Punishment struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Type        PunishmentType `json:"type"`
	TargetName  string         `json:"target_name"`
	TargetID    string         `json:"target_id"`
	Reason      string         `json:"reason"`
	Moderator   string         `json:"moderator"`
	ModeratorID string         `json:"moderator_id,omitempty"`
	Resolved    bool           `json:"resolved"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AuditKind classifies audit log entries.
type AuditKind string

const (
	AuditAutomation AuditKind = "AUTOMATION"
	AuditShift      AuditKind = "SHIFT"
	AuditShutdown   AuditKind = "SHUTDOWN"
)

// AuditEntry is an append-only log line. Entries carrying a Key are upserted
// so only the latest entry for that key is kept.
type AuditEntry struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Kind      AuditKind       `json:"kind"`
	Key       string          `json:"key,omitempty"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ShutdownMarker is the payload of the audit entry written by the shutdown
// command.
type ShutdownMarker struct {
	Timestamp       time.Time `json:"timestamp"`
	InitiatedBy     string    `json:"initiatedBy"`
	ShiftsEnded     int       `json:"shiftsEnded"`
	AffectedUserIDs []string  `json:"affectedUserIds"`
}
