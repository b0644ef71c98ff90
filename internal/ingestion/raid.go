package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/powhq/pow/internal/models"
)

// Detection types raised by the raid scan.
const (
	DetectionPrivilegedCommand = "UNAUTHORIZED_PRIVILEGED_COMMAND"
	DetectionCommandBurst      = "COMMAND_BURST"
)

const (
	burstThreshold = 5
	burstWindow    = 10 * time.Second
)

var privilegedCommands = map[string]bool{
	":admin":    true,
	":unadmin":  true,
	":mod":      true,
	":unmod":    true,
	":helper":   true,
	":unhelper": true,
	":ban":      true,
	":unban":    true,
	":tban":     true,
	":pban":     true,
	":kick":     true,
	":kill":     true,
	":shutdown": true,
}

// Detection is one suspicious pattern by one actor.
type Detection struct {
	Type     string
	UserName string
	UserID   string
	Details  string
}

// DetectRaid scans command records issued by unauthorized actors.
func DetectRaid(records []models.ActivityRecord) []Detection {
	var detections []Detection

	byActor := make(map[string][]models.ActivityRecord)
	var actors []string
	for _, r := range records {
		key := r.ActorID + "|" + r.ActorName
		if _, ok := byActor[key]; !ok {
			actors = append(actors, key)
		}
		byActor[key] = append(byActor[key], r)
	}

	for _, key := range actors {
		list := byActor[key]
		sort.SliceStable(list, func(i, j int) bool { return list[i].RemoteTimestamp.Before(list[j].RemoteTimestamp) })
		actor := list[0]

		var privileged []string
		for _, r := range list {
			fields := strings.Fields(strings.ToLower(r.Command))
			if len(fields) > 0 && privilegedCommands[fields[0]] {
				privileged = append(privileged, r.Command)
			}
		}
		if len(privileged) > 0 {
			detections = append(detections, Detection{
				Type:     DetectionPrivilegedCommand,
				UserName: actor.ActorName,
				UserID:   actor.ActorID,
				Details:  "Ran " + strings.Join(privileged, ", "),
			})
		}

		if n := maxInWindow(list, burstWindow); n >= burstThreshold {
			detections = append(detections, Detection{
				Type:     DetectionCommandBurst,
				UserName: actor.ActorName,
				UserID:   actor.ActorID,
				Details:  fmt.Sprintf("%d commands within %s", n, burstWindow),
			})
		}
	}
	return detections
}

// maxInWindow returns the largest number of time-sorted records falling in
// any window of the given width.
func maxInWindow(list []models.ActivityRecord, width time.Duration) int {
	best, start := 0, 0
	for end := range list {
		for list[end].RemoteTimestamp.Sub(list[start].RemoteTimestamp) > width {
			start++
		}
		if n := end - start + 1; n > best {
			best = n
		}
	}
	return best
}

// scanForRaid filters new commands to unauthorized actors, runs detection and
// enqueues one aggregated alert.
func (s *Syncer) scanForRaid(ctx context.Context, tenant models.Tenant, commands []models.ActivityRecord) {
	if !tenant.RaidDetection || tenant.RaidAlertChannelID == "" {
		return
	}

	var suspicious []models.ActivityRecord
	for _, r := range commands {
		if s.authorized(ctx, tenant, r) {
			continue
		}
		suspicious = append(suspicious, r)
	}
	if len(suspicious) == 0 {
		return
	}

	detections := DetectRaid(suspicious)
	if len(detections) == 0 {
		return
	}

	content, err := raidAlert(tenant, detections, s.now())
	if err != nil {
		s.logger.Warn("failed to build raid alert", "tenant_id", tenant.ID, "error", err)
		return
	}

	err = s.repos.Queue.Enqueue(ctx, models.QueueItem{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Kind:      models.QueueMessage,
		ChannelID: tenant.RaidAlertChannelID,
		Content:   content,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue raid alert", "tenant_id", tenant.ID, "error", err)
		return
	}
	s.logger.Warn("raid activity detected", "tenant_id", tenant.ID, "detections", len(detections))
}

// authorized reports whether the actor is the server console or a registered
// staff member. Lookup failures are treated as authorized so a storage error
// never raises a false alarm.
func (s *Syncer) authorized(ctx context.Context, tenant models.Tenant, r models.ActivityRecord) bool {
	if r.ActorName == "Remote Server" || r.ActorID == "" || r.ActorID == "0" {
		return true
	}
	member, err := s.repos.Members.FindByPlayer(ctx, tenant.ID, r.ActorID)
	if err != nil {
		s.logger.Warn("member lookup failed during raid scan", "tenant_id", tenant.ID, "error", err)
		return true
	}
	return member != nil
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields"`
	Timestamp   string       `json:"timestamp"`
}

func raidAlert(tenant models.Tenant, detections []Detection, now time.Time) (string, error) {
	ping := "@staff"
	if tenant.StaffRoleID != "" {
		ping = "<@&" + tenant.StaffRoleID + ">"
	}

	e := embed{
		Title:       "RAID DETECTION ALERT",
		Description: fmt.Sprintf("Suspicious activity detected on **%s**\n%s Please investigate immediately.", tenant.Name, ping),
		Color:       0xFF0000,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	for _, d := range detections {
		e.Fields = append(e.Fields, embedField{
			Name:  d.Type,
			Value: fmt.Sprintf("**User:** %s (ID: `%s`)\n**Details:** %s", d.UserName, d.UserID, d.Details),
		})
	}

	b, err := json.Marshal(map[string]any{"content": ping, "embeds": []embed{e}})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
