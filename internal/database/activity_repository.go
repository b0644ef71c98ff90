package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/powhq/pow/internal/models"
)

// insertChunkSize bounds rows per INSERT so the statement stays well under
// the 65535 bind parameter limit.
const insertChunkSize = 500

const activityColumnCount = 11

// ActivityRepository stores normalized upstream log entries.
type ActivityRepository struct {
	db *sql.DB
}

// NewActivityRepository creates an activity repository.
func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// InsertNew bulk-inserts records, skipping dedup-key conflicts, and returns
// the inserted records in input order.
func (r *ActivityRepository) InsertNew(ctx context.Context, records []models.ActivityRecord) ([]models.ActivityRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	prepared := make([]models.ActivityRecord, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.RemoteTimestamp = rec.RemoteTimestamp.UTC().Truncate(time.Second)
		prepared[i] = rec
	}

	inserted := make(map[string]bool, len(prepared))
	for start := 0; start < len(prepared); start += insertChunkSize {
		end := min(start+insertChunkSize, len(prepared))
		if err := r.insertChunk(ctx, prepared[start:end], inserted); err != nil {
			return nil, err
		}
	}

	out := make([]models.ActivityRecord, 0, len(inserted))
	for _, rec := range prepared {
		if inserted[rec.ID] {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *ActivityRepository) insertChunk(ctx context.Context, chunk []models.ActivityRecord, inserted map[string]bool) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO activity_records (id, tenant_id, type, actor_name, actor_id,
		target_name, target_id, is_join, command, remote_timestamp, created_at) VALUES `)

	args := make([]any, 0, len(chunk)*activityColumnCount)
	for i, rec := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := 0; c < activityColumnCount; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*activityColumnCount+c+1)
		}
		sb.WriteString(")")
		args = append(args, rec.ID, rec.TenantID, string(rec.Type), rec.ActorName, rec.ActorID,
			rec.TargetName, rec.TargetID, rec.IsJoin, rec.Command, rec.RemoteTimestamp, rec.CreatedAt)
	}
	sb.WriteString(" ON CONFLICT ON CONSTRAINT activity_records_dedup DO NOTHING RETURNING id")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to insert activity records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan inserted id: %w", err)
		}
		inserted[id] = true
	}
	return rows.Err()
}

// LatestDeparture returns the newest leave record since the given time whose
// player name contains query, case-insensitively.
func (r *ActivityRepository) LatestDeparture(ctx context.Context, tenantID, query string, since time.Time) (*models.ActivityRecord, error) {
	var rec models.ActivityRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, type, actor_name, actor_id, target_name, target_id,
			is_join, command, remote_timestamp, created_at
		FROM activity_records
		WHERE tenant_id = $1
			AND type = 'join'
			AND is_join = FALSE
			AND remote_timestamp >= $2
			AND actor_name ILIKE '%' || $3 || '%' ESCAPE '\'
		ORDER BY remote_timestamp DESC
		LIMIT 1
	`, tenantID, since, escapeLike(query)).Scan(
		&rec.ID, &rec.TenantID, &rec.Type, &rec.ActorName, &rec.ActorID, &rec.TargetName,
		&rec.TargetID, &rec.IsJoin, &rec.Command, &rec.RemoteTimestamp, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find departure: %w", err)
	}
	return &rec, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
