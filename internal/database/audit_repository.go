package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/powhq/pow/internal/models"
)

// AuditRepository persists audit log entries.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates an audit repository.
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Save appends the entry. An entry with a Key replaces the tenant's previous
// entry under that key.
func (r *AuditRepository) Save(ctx context.Context, e models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var details any
	if len(e.Details) > 0 {
		details = []byte(e.Details)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, kind, key, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, key) WHERE key IS NOT NULL DO UPDATE SET
			kind = EXCLUDED.kind,
			message = EXCLUDED.message,
			details = EXCLUDED.details,
			created_at = EXCLUDED.created_at
	`, e.ID, e.TenantID, string(e.Kind), nullString(e.Key), e.Message, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save audit entry: %w", err)
	}
	return nil
}

// ListRecent returns the tenant's newest entries.
func (r *AuditRepository) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, kind, COALESCE(key, ''), message, details, created_at
		FROM audit_log
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e       models.AuditEntry
			details sql.RawBytes
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Kind, &e.Key, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			e.Details = append([]byte(nil), details...)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
