package ingestion

import (
	"github.com/google/uuid"

	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/prc"
)

// normalize converts the three upstream streams into tenant-scoped records
// in stream order: joins, kills, then commands.
func normalize(tenantID string, joins []prc.JoinLog, kills []prc.KillLog, commands []prc.CommandLog) []models.ActivityRecord {
	records := make([]models.ActivityRecord, 0, len(joins)+len(kills)+len(commands))

	for _, l := range joins {
		p := prc.ParseIdentity(l.Player)
		records = append(records, models.ActivityRecord{
			ID:              uuid.NewString(),
			TenantID:        tenantID,
			Type:            models.RecordTypeJoin,
			ActorName:       p.Name,
			ActorID:         p.ID,
			IsJoin:          l.Join,
			RemoteTimestamp: prc.Time(l.Timestamp),
		})
	}

	for _, l := range kills {
		killer := prc.ParseIdentity(l.Killer)
		victim := prc.ParseIdentity(l.Killed)
		records = append(records, models.ActivityRecord{
			ID:              uuid.NewString(),
			TenantID:        tenantID,
			Type:            models.RecordTypeKill,
			ActorName:       killer.Name,
			ActorID:         killer.ID,
			TargetName:      victim.Name,
			TargetID:        victim.ID,
			RemoteTimestamp: prc.Time(l.Timestamp),
		})
	}

	for _, l := range commands {
		p := prc.ParseIdentity(l.Player)
		records = append(records, models.ActivityRecord{
			ID:              uuid.NewString(),
			TenantID:        tenantID,
			Type:            models.RecordTypeCommand,
			ActorName:       p.Name,
			ActorID:         p.ID,
			Command:         l.Command,
			RemoteTimestamp: prc.Time(l.Timestamp),
		})
	}

	return records
}

// triggersFor maps a new record to the automation triggers it raises.
func triggersFor(r models.ActivityRecord) []dispatch {
	actor := &models.PlayerContext{Name: orUnknown(r.ActorName), ID: r.ActorID}

	switch r.Type {
	case models.RecordTypeJoin:
		trigger := models.TriggerPlayerLeave
		if r.IsJoin {
			trigger = models.TriggerPlayerJoin
		}
		return []dispatch{{trigger, models.TriggerContext{Player: actor}}}

	case models.RecordTypeKill:
		details := map[string]string{"target_name": r.TargetName, "target_id": r.TargetID}
		return []dispatch{{models.TriggerPlayerKill, models.TriggerContext{Player: actor, Details: details}}}

	case models.RecordTypeCommand:
		return []dispatch{{models.TriggerCommandUsed, models.TriggerContext{Player: actor, Details: map[string]string{"command": r.Command}}}}
	}
	return nil
}

type dispatch struct {
	trigger models.Trigger
	context models.TriggerContext
}

func orUnknown(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}
