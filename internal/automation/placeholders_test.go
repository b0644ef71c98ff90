package automation

import (
	"errors"
	"testing"
	"time"

	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/prc"
)

func TestRender(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bob := &models.PlayerContext{Name: "Bob", ID: "42"}
	snap := staticSnapshot(&prc.ServerStatus{Name: "River City", CurrentPlayers: 12, MaxPlayers: 40, JoinKey: "rc"}, nil)

	tests := []struct {
		name string
		tc   models.TriggerContext
		snap snapshotFunc
		in   string
		want string
	}{
		{"player name", models.TriggerContext{Player: bob}, nil, "{player_name} joined", "Bob joined"},
		{"unknown token kept", models.TriggerContext{Player: bob}, nil, "{unknown_field}", "{unknown_field}"},
		{"legacy tokens", models.TriggerContext{Player: bob}, nil, "%player% (%id%)", "Bob (42)"},
		{"player defaults", models.TriggerContext{Player: bob}, nil, "{player_team}/{player_vehicle}/{player_callsign}", "Unknown/None/None"},
		{"no player leaves token", models.TriggerContext{}, nil, "{player_name}", "{player_name}"},
		{"server fields", models.TriggerContext{}, snap, "{server_name} {player_count}/{max_players} {join_key}", "River City 12/40 rc"},
		{"server unavailable", models.TriggerContext{}, staticSnapshot(nil, errors.New("down")), "{server_name}", "{server_name}"},
		{"server id", models.TriggerContext{}, nil, "{server_id}", "tenant-1"},
		{"timestamp", models.TriggerContext{}, nil, "{timestamp}", "2026-03-01T12:00:00Z"},
		{
			"punishment",
			models.TriggerContext{Punishment: &models.PunishmentContext{Type: "Kick", Reason: "RDM", Issuer: "Mod", Target: "Bob"}},
			nil,
			"{punishment_issuer} {punishment_type} {punishment_target}: {punishment_reason}",
			"Mod Kick Bob: RDM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := renderer{tenantID: "tenant-1", tc: tt.tc, snapshot: tt.snap, now: func() time.Time { return fixed }}
			if got := r.render(tt.in); got != tt.want {
				t.Errorf("render(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderSkipsSnapshotWithoutServerTokens(t *testing.T) {
	calls := 0
	r := renderer{
		tenantID: "t",
		snapshot: func() (*prc.ServerStatus, error) {
			calls++
			return &prc.ServerStatus{}, nil
		},
	}
	r.render("{server_id} only")
	if calls != 0 {
		t.Errorf("snapshot fetched %d times for text without server tokens", calls)
	}
}
