package models

import "time"

// Tenant is one connected game server and its integration settings.
type Tenant struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	APIKey             string         `json:"-"`
	DiscordGuildID     string         `json:"discord_guild_id,omitempty"`
	RaidAlertChannelID string         `json:"raid_alert_channel_id,omitempty"`
	StaffRoleID        string         `json:"staff_role_id,omitempty"`
	RaidDetection      bool           `json:"raid_detection"`
	AutomationCacheTTL *time.Duration `json:"automation_cache_ttl,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Member is a registered staff member of a tenant, keyed by game player id.
type Member struct {
	TenantID     string `json:"tenant_id"`
	PlayerID     string `json:"player_id"`
	PlayerName   string `json:"player_name"`
	DiscordID    string `json:"discord_id,omitempty"`
	QuotaMinutes int    `json:"quota_minutes"`
}
