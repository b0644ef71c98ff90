package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/powhq/pow/internal/models"
)

const tenantColumns = `
	id, name, COALESCE(api_key, ''), COALESCE(discord_guild_id, ''),
	COALESCE(raid_alert_channel_id, ''), COALESCE(staff_role_id, ''),
	raid_detection, automation_cache_ttl_ms, created_at
`

// TenantRepository reads tenant configuration.
type TenantRepository struct {
	db *sql.DB
}

// NewTenantRepository creates a tenant repository.
func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// ListSyncable returns tenants with an API key, ordered by id.
func (r *TenantRepository) ListSyncable(ctx context.Context) ([]models.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE api_key IS NOT NULL AND api_key <> ''
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// GetByID retrieves a tenant, or nil when it does not exist.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Upsert creates or replaces a tenant. Used by the CLI and integration tests.
func (r *TenantRepository) Upsert(ctx context.Context, t models.Tenant) error {
	var ttl sql.NullInt64
	if t.AutomationCacheTTL != nil {
		ttl = sql.NullInt64{Int64: t.AutomationCacheTTL.Milliseconds(), Valid: true}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, api_key, discord_guild_id, raid_alert_channel_id,
			staff_role_id, raid_detection, automation_cache_ttl_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			api_key = EXCLUDED.api_key,
			discord_guild_id = EXCLUDED.discord_guild_id,
			raid_alert_channel_id = EXCLUDED.raid_alert_channel_id,
			staff_role_id = EXCLUDED.staff_role_id,
			raid_detection = EXCLUDED.raid_detection,
			automation_cache_ttl_ms = EXCLUDED.automation_cache_ttl_ms
	`, t.ID, t.Name, nullString(t.APIKey), nullString(t.DiscordGuildID), nullString(t.RaidAlertChannelID),
		nullString(t.StaffRoleID), t.RaidDetection, ttl, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant %s: %w", t.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(s rowScanner) (models.Tenant, error) {
	var (
		t   models.Tenant
		ttl sql.NullInt64
	)
	err := s.Scan(&t.ID, &t.Name, &t.APIKey, &t.DiscordGuildID, &t.RaidAlertChannelID,
		&t.StaffRoleID, &t.RaidDetection, &ttl, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	if ttl.Valid {
		d := time.Duration(ttl.Int64) * time.Millisecond
		t.AutomationCacheTTL = &d
	}
	return t, nil
}

// MemberRepository reads the staff roster.
type MemberRepository struct {
	db *sql.DB
}

// NewMemberRepository creates a member repository.
func NewMemberRepository(db *sql.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// FindByPlayer returns the member registered under the player id, or nil.
func (r *MemberRepository) FindByPlayer(ctx context.Context, tenantID, playerID string) (*models.Member, error) {
	var m models.Member
	err := r.db.QueryRowContext(ctx, `
		SELECT tenant_id, player_id, player_name, COALESCE(discord_id, ''), quota_minutes
		FROM members
		WHERE tenant_id = $1 AND player_id = $2
	`, tenantID, playerID).Scan(&m.TenantID, &m.PlayerID, &m.PlayerName, &m.DiscordID, &m.QuotaMinutes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find member: %w", err)
	}
	return &m, nil
}

// ListPlayerIDs returns every registered player id for the tenant.
func (r *MemberRepository) ListPlayerIDs(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT player_id FROM members WHERE tenant_id = $1 ORDER BY player_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
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

// Upsert registers or updates a staff member.
func (r *MemberRepository) Upsert(ctx context.Context, m models.Member) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO members (tenant_id, player_id, player_name, discord_id, quota_minutes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, player_id) DO UPDATE SET
			player_name = EXCLUDED.player_name,
			discord_id = EXCLUDED.discord_id,
			quota_minutes = EXCLUDED.quota_minutes
	`, m.TenantID, m.PlayerID, m.PlayerName, nullString(m.DiscordID), m.QuotaMinutes)
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}
