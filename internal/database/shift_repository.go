package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/powhq/pow/internal/models"
)

const shiftColumns = `id, tenant_id, player_id, player_name, started_at, ended_at, duration_seconds`

// ShiftRepository persists staff shifts.
type ShiftRepository struct {
	db *sql.DB
}

// NewShiftRepository creates a shift repository.
func NewShiftRepository(db *sql.DB) *ShiftRepository {
	return &ShiftRepository{db: db}
}

// FindOpen returns the player's open shift, or nil.
func (r *ShiftRepository) FindOpen(ctx context.Context, tenantID, playerID string) (*models.Shift, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE tenant_id = $1 AND player_id = $2 AND ended_at IS NULL
	`, tenantID, playerID)
	s, err := scanShift(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open shift: %w", err)
	}
	return &s, nil
}

// Start inserts an open shift. The partial unique index rejects a second
// open shift for the same player.
func (r *ShiftRepository) Start(ctx context.Context, s models.Shift) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shifts (id, tenant_id, player_id, player_name, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.TenantID, s.PlayerID, s.PlayerName, s.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to start shift: %w", err)
	}
	return nil
}

// End closes a shift that is still open.
func (r *ShiftRepository) End(ctx context.Context, id string, endedAt time.Time, durationSeconds int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE shifts SET ended_at = $2, duration_seconds = $3
		WHERE id = $1 AND ended_at IS NULL
	`, id, endedAt, durationSeconds)
	if err != nil {
		return fmt.Errorf("failed to end shift %s: %w", id, err)
	}
	return nil
}

// ListOpen returns the tenant's open shifts.
func (r *ShiftRepository) ListOpen(ctx context.Context, tenantID string) ([]models.Shift, error) {
	return r.list(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE tenant_id = $1 AND ended_at IS NULL
		ORDER BY started_at
	`, tenantID)
}

// ListSince returns the player's shifts started at or after since.
func (r *ShiftRepository) ListSince(ctx context.Context, tenantID, playerID string, since time.Time) ([]models.Shift, error) {
	return r.list(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE tenant_id = $1 AND player_id = $2 AND started_at >= $3
		ORDER BY started_at
	`, tenantID, playerID, since)
}

func (r *ShiftRepository) list(ctx context.Context, query string, args ...any) ([]models.Shift, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list shifts: %w", err)
	}
	defer rows.Close()

	var shifts []models.Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, s)
	}
	return shifts, rows.Err()
}

func scanShift(s rowScanner) (models.Shift, error) {
	var (
		shift   models.Shift
		endedAt sql.NullTime
	)
	err := s.Scan(&shift.ID, &shift.TenantID, &shift.PlayerID, &shift.PlayerName,
		&shift.StartedAt, &endedAt, &shift.DurationSeconds)
	if endedAt.Valid {
		shift.EndedAt = &endedAt.Time
	}
	return shift, err
}

// PunishmentRepository persists moderation records.
type PunishmentRepository struct {
	db *sql.DB
}

// NewPunishmentRepository creates a punishment repository.
func NewPunishmentRepository(db *sql.DB) *PunishmentRepository {
	return &PunishmentRepository{db: db}
}

// Create stores a punishment.
func (r *PunishmentRepository) Create(ctx context.Context, p models.Punishment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO punishments (id, tenant_id, type, target_name, target_id, reason,
			moderator, moderator_id, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.TenantID, string(p.Type), p.TargetName, p.TargetID, p.Reason,
		p.Moderator, p.ModeratorID, p.Resolved, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create punishment: %w", err)
	}
	return nil
}
