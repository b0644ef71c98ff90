package models

import (
	"encoding/json"
	"time"
)

// Trigger is the event kind an automation rule fires on.
type Trigger string

const (
	TriggerPlayerJoin       Trigger = "PLAYER_JOIN"
	TriggerPlayerLeave      Trigger = "PLAYER_LEAVE"
	TriggerPlayerKill       Trigger = "PLAYER_KILL"
	TriggerCommandUsed      Trigger = "COMMAND_USED"
	TriggerShiftStart       Trigger = "SHIFT_START"
	TriggerShiftEnd         Trigger = "SHIFT_END"
	TriggerPunishmentIssued Trigger = "PUNISHMENT_ISSUED"
	TriggerWarnIssued       Trigger = "WARN_ISSUED"
	TriggerKickIssued       Trigger = "KICK_ISSUED"
	TriggerBanIssued        Trigger = "BAN_ISSUED"
	TriggerBoloCreated      Trigger = "BOLO_CREATED"
	TriggerBoloCleared      Trigger = "BOLO_CLEARED"
	TriggerMemberRoleUpdate Trigger = "MEMBER_ROLE_UPDATED"
	TriggerServerStartup    Trigger = "SERVER_STARTUP"
	TriggerDiscordMessage   Trigger = "DISCORD_MESSAGE_RECEIVED"
	TriggerTimeInterval     Trigger = "TIME_INTERVAL"
)

// AutomationRule is a tenant-configured trigger/conditions/actions rule.
// Conditions and Actions are kept in their stored JSON form and decoded by the
// automation engine, which treats malformed payloads as non-matching.
type AutomationRule struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Name       string          `json:"name"`
	Trigger    Trigger         `json:"trigger"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
	Actions    json.RawMessage `json:"actions"`
	Enabled    bool            `json:"enabled"`
	LastRunAt  *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PlayerContext describes the player an event is about.
type PlayerContext struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Team     string `json:"team,omitempty"`
	Vehicle  string `json:"vehicle,omitempty"`
	Callsign string `json:"callsign,omitempty"`
}

// PunishmentContext describes a punishment an event is about.
type PunishmentContext struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Issuer string `json:"issuer"`
	Target string `json:"target"`
}

// TriggerContext is the event payload passed to the rule engine.
type TriggerContext struct {
	Player     *PlayerContext     `json:"player,omitempty"`
	Punishment *PunishmentContext `json:"punishment,omitempty"`
	Details    map[string]string  `json:"details,omitempty"`
}
