package models

import (
	"fmt"
	"time"
)

// RecordType identifies the upstream log stream an activity record came from.
type RecordType string

const (
	RecordTypeJoin    RecordType = "join"
	RecordTypeKill    RecordType = "kill"
	RecordTypeCommand RecordType = "command"
)

// ActivityRecord is a normalized, tenant-scoped upstream log entry.
//
// For join records the actor is the player and IsJoin distinguishes joins
// from leaves. For kill records the actor is the killer and the target is the
// victim. For command records the actor is the issuer and Command holds the
// raw command text.
type ActivityRecord struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	Type            RecordType `json:"type"`
	ActorName       string     `json:"actor_name,omitempty"`
	ActorID         string     `json:"actor_id,omitempty"`
	TargetName      string     `json:"target_name,omitempty"`
	TargetID        string     `json:"target_id,omitempty"`
	IsJoin          bool       `json:"is_join,omitempty"`
	Command         string     `json:"command,omitempty"`
	RemoteTimestamp time.Time  `json:"remote_timestamp"`
	CreatedAt       time.Time  `json:"created_at"`
}

// DedupKey returns the uniqueness tuple used to make ingestion idempotent.
func (r ActivityRecord) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", r.TenantID, r.Type, r.ActorID, r.TargetID, r.RemoteTimestamp.Unix())
}
