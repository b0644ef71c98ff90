package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/store"
)

// QueueRepository implements the outbound queue on the outbound_queue table.
//
// Claiming is a two-step protocol: a batch of PENDING ids is selected, then
// flipped to PROCESSING under a fresh claim token. The conditional UPDATE
// only matches rows still PENDING, so concurrent consumers end up owning
// disjoint sets and each reads back only its own rows by token.
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a queue repository.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue inserts a PENDING item.
func (r *QueueRepository) Enqueue(ctx context.Context, item models.QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbound_queue (id, tenant_id, kind, channel_id, user_id, role_id, content, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', $8)
	`, item.ID, item.TenantID, string(item.Kind), nullString(item.ChannelID), nullString(item.UserID),
		nullString(item.RoleID), item.Content, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s item: %w", item.Kind, err)
	}
	return nil
}

// ListPendingIDs returns up to limit oldest PENDING ids.
func (r *QueueRepository) ListPendingIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM outbound_queue
		WHERE status = 'PENDING'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkProcessing claims the ids that are still PENDING.
func (r *QueueRepository) MarkProcessing(ctx context.Context, ids []string, token string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbound_queue SET status = 'PROCESSING', claim_token = $2
		WHERE id = ANY($1) AND status = 'PENDING'
	`, pq.Array(ids), token)
	if err != nil {
		return 0, fmt.Errorf("failed to claim queue items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListClaimed returns the PROCESSING items owned by token.
func (r *QueueRepository) ListClaimed(ctx context.Context, token string) ([]models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, kind, COALESCE(channel_id, ''), COALESCE(user_id, ''),
			COALESCE(role_id, ''), COALESCE(content, ''), status, COALESCE(claim_token, ''), created_at
		FROM outbound_queue
		WHERE claim_token = $1 AND status = 'PROCESSING'
		ORDER BY created_at
	`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimed queue items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var item models.QueueItem
		if err := rows.Scan(&item.ID, &item.TenantID, &item.Kind, &item.ChannelID, &item.UserID,
			&item.RoleID, &item.Content, &item.Status, &item.ClaimToken, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkSent finalizes a delivered item.
func (r *QueueRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.finish(ctx, id, models.QueueSent, "", at)
}

// MarkFailed finalizes a failed item. FAILED is terminal.
// Both only match rows still PROCESSING.
func (r *QueueRepository) MarkFailed(ctx context.Context, id, errText string, at time.Time) error {
	return r.finish(ctx, id, models.QueueFailed, errText, at)
}

func (r *QueueRepository) finish(ctx context.Context, id string, status models.QueueStatus, errText string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbound_queue SET status = $2, error = $3, processed_at = $4
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, string(status), nullString(errText), at)
	if err != nil {
		return fmt.Errorf("failed to mark queue item %s %s: %w", id, status, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark queue item %s %s: %w", id, status, err)
	}
	if n == 0 {
		return fmt.Errorf("mark queue item %s %s: %w", id, status, store.ErrNotProcessing)
	}
	return nil
}
