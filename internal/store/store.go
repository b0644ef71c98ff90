// Package store defines the persistence contract shared by ingestion, the
// automation engine and the outbound queue. Lookups return (nil, nil) when
// nothing matches.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/powhq/pow/internal/models"
)

// ErrNotProcessing is returned when a queue item is finalized while it is not
// PROCESSING, e.g. it was already settled or never claimed.
var ErrNotProcessing = errors.New("queue item is not processing")

// TenantRepository reads tenant configuration.
type TenantRepository interface {
	// ListSyncable returns tenants that have an upstream API key configured.
	ListSyncable(ctx context.Context) ([]models.Tenant, error)

	// GetByID retrieves a tenant.
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
}

// MemberRepository reads the staff roster.
type MemberRepository interface {
	// FindByPlayer returns the member registered under the game player id.
	FindByPlayer(ctx context.Context, tenantID, playerID string) (*models.Member, error)

	// ListPlayerIDs returns every registered player id for the tenant.
	ListPlayerIDs(ctx context.Context, tenantID string) ([]string, error)
}

// ActivityRepository persists normalized upstream log entries.
type ActivityRepository interface {
	// InsertNew inserts records, silently skipping any whose dedup key already
	// exists, and returns exactly the records that were inserted.
	InsertNew(ctx context.Context, records []models.ActivityRecord) ([]models.ActivityRecord, error)

	// LatestDeparture returns the most recent leave record since the given
	// time whose player name contains query (case-insensitive).
	LatestDeparture(ctx context.Context, tenantID, query string, since time.Time) (*models.ActivityRecord, error)
}

// ShiftRepository persists staff shifts.
type ShiftRepository interface {
	FindOpen(ctx context.Context, tenantID, playerID string) (*models.Shift, error)
	Start(ctx context.Context, shift models.Shift) error
	End(ctx context.Context, id string, endedAt time.Time, durationSeconds int64) error
	ListOpen(ctx context.Context, tenantID string) ([]models.Shift, error)

	// ListSince returns shifts for the player that started at or after since.
	ListSince(ctx context.Context, tenantID, playerID string, since time.Time) ([]models.Shift, error)
}

// PunishmentRepository persists moderation records.
type PunishmentRepository interface {
	Create(ctx context.Context, p models.Punishment) error
}

// AuditRepository persists audit log entries.
type AuditRepository interface {
	// Save appends the entry, or replaces the existing entry with the same
	// tenant and key when Key is set.
	Save(ctx context.Context, entry models.AuditEntry) error
}

// RuleRepository reads automation rules and records their runs.
type RuleRepository interface {
	// ListEnabled returns the tenant's enabled rules.
	ListEnabled(ctx context.Context, tenantID string) ([]models.AutomationRule, error)

	// ListEnabledByTrigger returns enabled rules for a trigger across tenants.
	ListEnabledByTrigger(ctx context.Context, trigger models.Trigger) ([]models.AutomationRule, error)

	// TouchLastRun unconditionally stamps the rule's last run time.
	TouchLastRun(ctx context.Context, id string, at time.Time) error

	// ClaimRun stamps last run time only if it still equals prev. It reports
	// whether this caller won the run.
	ClaimRun(ctx context.Context, id string, prev *time.Time, at time.Time) (bool, error)
}

// QueueRepository implements the outbound queue and its claim protocol.
type QueueRepository interface {
	Enqueue(ctx context.Context, item models.QueueItem) error

	// ListPendingIDs returns up to limit oldest PENDING item ids.
	ListPendingIDs(ctx context.Context, limit int) ([]string, error)

	// MarkProcessing moves the given ids from PENDING to PROCESSING under the
	// claim token. Items no longer PENDING are left untouched.
	MarkProcessing(ctx context.Context, ids []string, token string) (int, error)

	// ListClaimed returns the PROCESSING items owned by the claim token.
	ListClaimed(ctx context.Context, token string) ([]models.QueueItem, error)

	// MarkSent and MarkFailed settle a PROCESSING item. Any other current
	// status leaves the row untouched and yields ErrNotProcessing.
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errText string, at time.Time) error
}

// SettingsRepository reads runtime key/value settings.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// Repositories bundles every repository the pipeline needs.
type Repositories struct {
	Tenants     TenantRepository
	Members     MemberRepository
	Activity    ActivityRepository
	Shifts      ShiftRepository
	Punishments PunishmentRepository
	Audit       AuditRepository
	Rules       RuleRepository
	Queue       QueueRepository
	Settings    SettingsRepository
}
