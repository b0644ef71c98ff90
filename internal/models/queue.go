package models

import "time"

// QueueKind is the outbound delivery kind.
type QueueKind string

const (
	QueueMessage QueueKind = "MESSAGE"
	QueueDM      QueueKind = "DM"
	QueueRoleAdd QueueKind = "ROLE_ADD"
)

// QueueStatus tracks an item through PENDING -> PROCESSING -> SENT|FAILED.
type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueProcessing QueueStatus = "PROCESSING"
	QueueSent       QueueStatus = "SENT"
	QueueFailed     QueueStatus = "FAILED"
)

// QueueItem is a unit of deferred chat-platform work.
type QueueItem struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	Kind        QueueKind   `json:"kind"`
	ChannelID   string      `json:"channel_id,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	RoleID      string      `json:"role_id,omitempty"`
	Content     string      `json:"content,omitempty"`
	Status      QueueStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	ClaimToken  string      `json:"-"`
	CreatedAt   time.Time   `json:"created_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}
