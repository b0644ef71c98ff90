package automation

import (
	"strconv"
	"strings"
	"time"

	"github.com/powhq/pow/internal/models"
)

var serverTokens = []string{"{server_name}", "{player_count}", "{max_players}", "{join_key}"}

// renderer substitutes placeholders for one rule evaluation. Tokens whose
// source data is unavailable are left verbatim.
type renderer struct {
	tenantID string
	tc       models.TriggerContext
	snapshot snapshotFunc
	now      func() time.Time
}

func (r renderer) render(text string) string {
	if !strings.ContainsAny(text, "{%") {
		return text
	}

	pairs := []string{"{server_id}", r.tenantID}

	if p := r.tc.Player; p != nil {
		pairs = append(pairs,
			"{player_name}", p.Name,
			"{player_id}", p.ID,
			"{player_team}", orDefault(p.Team, "Unknown"),
			"{player_vehicle}", orDefault(p.Vehicle, "None"),
			"{player_callsign}", orDefault(p.Callsign, "None"),
			"%player%", p.Name,
			"%id%", p.ID,
		)
	}

	if pc := r.tc.Punishment; pc != nil {
		pairs = append(pairs,
			"{punishment_type}", pc.Type,
			"{punishment_reason}", pc.Reason,
			"{punishment_issuer}", pc.Issuer,
			"{punishment_target}", pc.Target,
		)
	}

	if containsAny(text, serverTokens) && r.snapshot != nil {
		if status, err := r.snapshot(); err == nil && status != nil {
			pairs = append(pairs,
				"{server_name}", orDefault(status.Name, "Unknown Server"),
				"{player_count}", strconv.Itoa(status.CurrentPlayers),
				"{max_players}", strconv.Itoa(status.MaxPlayers),
				"{join_key}", status.JoinKey,
			)
		}
	}

	now := time.Now
	if r.now != nil {
		now = r.now
	}
	pairs = append(pairs, "{timestamp}", now().UTC().Format(time.RFC3339Nano))

	return strings.NewReplacer(pairs...).Replace(text)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
