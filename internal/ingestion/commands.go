package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/prc"
)

const noReason = "No reason provided"

var punishmentTypes = map[string]models.PunishmentType{
	"warn": models.PunishmentWarn,
	"kick": models.PunishmentKick,
	"ban":  models.PunishmentBan,
	"bolo": models.PunishmentBanBolo,
}

// specificTriggers maps a punishment type to its dedicated trigger.
var specificTriggers = map[models.PunishmentType]models.Trigger{
	models.PunishmentWarn:    models.TriggerWarnIssued,
	models.PunishmentKick:    models.TriggerKickIssued,
	models.PunishmentBan:     models.TriggerBanIssued,
	models.PunishmentBanBolo: models.TriggerBoloCreated,
}

// handleCommand reacts to embedded ":log" and ":shutdown" commands.
func (s *Syncer) handleCommand(ctx context.Context, tenant models.Tenant, r models.ActivityRecord) {
	fields := strings.Fields(r.Command)
	if len(fields) == 0 {
		return
	}

	switch strings.ToLower(fields[0]) {
	case ":log":
		if len(fields) < 2 {
			return
		}
		kind := strings.ToLower(fields[1])
		if kind == "shift" {
			sub := ""
			if len(fields) > 2 {
				sub = strings.ToLower(fields[2])
			}
			s.handleShift(ctx, tenant, r, sub)
			return
		}
		if ptype, ok := punishmentTypes[kind]; ok && len(fields) >= 3 {
			reason := strings.Join(fields[3:], " ")
			if reason == "" {
				reason = noReason
			}
			s.handlePunishment(ctx, tenant, r, ptype, fields[2], reason)
		}

	case ":shutdown":
		s.handleShutdown(ctx, tenant, r)
	}
}

func (s *Syncer) handleShift(ctx context.Context, tenant models.Tenant, r models.ActivityRecord, sub string) {
	if sub != "start" && sub != "end" && sub != "status" {
		return
	}

	member, err := s.repos.Members.FindByPlayer(ctx, tenant.ID, r.ActorID)
	if err != nil {
		s.logger.Warn("member lookup failed", "tenant_id", tenant.ID, "player_id", r.ActorID, "error", err)
		return
	}
	if member == nil {
		s.reply(ctx, tenant, r.ActorName, "You are not registered as staff.")
		return
	}

	open, err := s.repos.Shifts.FindOpen(ctx, tenant.ID, r.ActorID)
	if err != nil {
		s.logger.Warn("shift lookup failed", "tenant_id", tenant.ID, "player_id", r.ActorID, "error", err)
		return
	}

	now := s.now()
	switch sub {
	case "start":
		if open != nil {
			s.reply(ctx, tenant, r.ActorName, fmt.Sprintf("You are already on shift! (%s)", formatHM(open.Duration(now))))
			return
		}
		players, err := s.upstream.Players(ctx, tenant.APIKey)
		if err != nil {
			s.reply(ctx, tenant, r.ActorName, "Cannot go on duty - server appears offline")
			return
		}
		if len(players) == 0 {
			s.reply(ctx, tenant, r.ActorName, "Cannot go on duty - server has no players")
			return
		}
		shift := models.Shift{
			ID:         uuid.NewString(),
			TenantID:   tenant.ID,
			PlayerID:   r.ActorID,
			PlayerName: r.ActorName,
			StartedAt:  now,
		}
		if err := s.repos.Shifts.Start(ctx, shift); err != nil {
			s.logger.Warn("failed to start shift", "tenant_id", tenant.ID, "player_id", r.ActorID, "error", err)
			return
		}
		s.reply(ctx, tenant, r.ActorName, fmt.Sprintf("Shift started on %s.", tenant.Name))
		s.trigger(ctx, tenant, models.TriggerShiftStart, models.TriggerContext{
			Player: &models.PlayerContext{Name: r.ActorName, ID: r.ActorID},
		})

	case "end":
		if open == nil {
			s.reply(ctx, tenant, r.ActorName, "You are not currently on shift.")
			return
		}
		duration := now.Sub(open.StartedAt)
		if err := s.repos.Shifts.End(ctx, open.ID, now, int64(duration/time.Second)); err != nil {
			s.logger.Warn("failed to end shift", "tenant_id", tenant.ID, "shift_id", open.ID, "error", err)
			return
		}
		s.reply(ctx, tenant, r.ActorName, fmt.Sprintf("Shift ended. Duration: %s", formatHM(duration)))
		s.trigger(ctx, tenant, models.TriggerShiftEnd, models.TriggerContext{
			Player:  &models.PlayerContext{Name: r.ActorName, ID: r.ActorID},
			Details: map[string]string{"duration_seconds": fmt.Sprint(int64(duration / time.Second))},
		})

	case "status":
		shifts, err := s.repos.Shifts.ListSince(ctx, tenant.ID, r.ActorID, WeekStart(now))
		if err != nil {
			s.logger.Warn("failed to list shifts", "tenant_id", tenant.ID, "player_id", r.ActorID, "error", err)
			return
		}
		var total time.Duration
		for _, sh := range shifts {
			total += sh.Duration(now)
		}
		state := "OFF DUTY"
		if open != nil {
			state = "ON DUTY"
		}
		s.reply(ctx, tenant, r.ActorName, fmt.Sprintf("%s | Weekly: %s (%d%% of quota)",
			state, formatHM(total), quotaPercent(total, member.QuotaMinutes)))
	}
}

func (s *Syncer) handlePunishment(ctx context.Context, tenant models.Tenant, r models.ActivityRecord, ptype models.PunishmentType, query, reason string) {
	target, err := s.resolveTarget(ctx, tenant, query)
	if err != nil {
		s.logger.Warn("target lookup failed", "tenant_id", tenant.ID, "query", query, "error", err)
	}
	if target == nil {
		s.reply(ctx, tenant, r.ActorName, "Player not found.")
		return
	}

	p := models.Punishment{
		ID:          uuid.NewString(),
		TenantID:    tenant.ID,
		Type:        ptype,
		TargetName:  target.Name,
		TargetID:    target.ID,
		Reason:      fmt.Sprintf("[Game Command by %s] %s", r.ActorName, reason),
		Moderator:   r.ActorName,
		ModeratorID: r.ActorID,
		CreatedAt:   s.now(),
	}
	if err := s.repos.Punishments.Create(ctx, p); err != nil {
		s.logger.Warn("failed to record punishment", "tenant_id", tenant.ID, "error", err)
		return
	}

	s.reply(ctx, tenant, r.ActorName, fmt.Sprintf("%s logged for %s", ptype, target.Name))

	tc := models.TriggerContext{
		Player: &models.PlayerContext{Name: target.Name, ID: target.ID},
		Punishment: &models.PunishmentContext{
			Type:   string(ptype),
			Reason: reason,
			Issuer: r.ActorName,
			Target: target.Name,
		},
	}
	s.trigger(ctx, tenant, models.TriggerPunishmentIssued, tc)
	if specific, ok := specificTriggers[ptype]; ok {
		s.trigger(ctx, tenant, specific, tc)
	}
}

// resolveTarget finds the punishment target: a unique online roster match
// (an exact name wins over partial matches), else the latest departure
// within the lookback window.
func (s *Syncer) resolveTarget(ctx context.Context, tenant models.Tenant, query string) (*prc.Identity, error) {
	q := strings.ToLower(query)

	players, err := s.upstream.Players(ctx, tenant.APIKey)
	if err != nil {
		s.logger.Debug("roster unavailable for target lookup", "tenant_id", tenant.ID, "error", err)
		players = nil
	}

	var matches []prc.Identity
	for _, p := range players {
		id := p.Identity()
		name := strings.ToLower(id.Name)
		if name == q {
			return &id, nil
		}
		if strings.Contains(name, q) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 1:
		return &matches[0], nil
	case 0:
	default:
		return nil, nil
	}

	left, err := s.repos.Activity.LatestDeparture(ctx, tenant.ID, q, s.now().Add(-s.lookback))
	if err != nil || left == nil {
		return nil, err
	}
	return &prc.Identity{Name: left.ActorName, ID: left.ActorID}, nil
}

func (s *Syncer) handleShutdown(ctx context.Context, tenant models.Tenant, r models.ActivityRecord) {
	now := s.now()

	open, err := s.repos.Shifts.ListOpen(ctx, tenant.ID)
	if err != nil {
		s.logger.Warn("failed to list open shifts", "tenant_id", tenant.ID, "error", err)
		return
	}

	affected := make([]string, 0, len(open))
	for _, sh := range open {
		secs := int64(now.Sub(sh.StartedAt) / time.Second)
		if err := s.repos.Shifts.End(ctx, sh.ID, now, secs); err != nil {
			s.logger.Warn("failed to close shift on shutdown", "tenant_id", tenant.ID, "shift_id", sh.ID, "error", err)
			continue
		}
		affected = append(affected, sh.PlayerID)
	}

	marker := models.ShutdownMarker{
		Timestamp:       now,
		InitiatedBy:     r.ActorName,
		ShiftsEnded:     len(open),
		AffectedUserIDs: affected,
	}
	details, _ := json.Marshal(marker)

	err = s.repos.Audit.Save(ctx, models.AuditEntry{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Kind:      models.AuditShutdown,
		Key:       "ssd_" + tenant.ID,
		Message:   fmt.Sprintf("Server shutdown by %s, %d shifts ended", r.ActorName, len(open)),
		Details:   details,
		CreatedAt: now,
	})
	if err != nil {
		s.logger.Warn("failed to record shutdown", "tenant_id", tenant.ID, "error", err)
	}
}

func (s *Syncer) trigger(ctx context.Context, tenant models.Tenant, trigger models.Trigger, tc models.TriggerContext) {
	if err := s.dispatcher.Trigger(ctx, tenant, trigger, tc); err != nil {
		s.logger.Warn("automation dispatch failed", "tenant_id", tenant.ID, "trigger", trigger, "error", err)
	}
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

func formatHM(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
}

// quotaPercent is total over quota, rounded; a zero quota counts as met.
func quotaPercent(total time.Duration, quotaMinutes int) int {
	if quotaMinutes <= 0 {
		return 100
	}
	return int(math.Round(total.Seconds() / (float64(quotaMinutes) * 60) * 100))
}
