package automation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/prc"
	"github.com/powhq/pow/internal/store"
)

type fakeUpstream struct {
	mu          sync.Mutex
	status      *prc.ServerStatus
	err         error
	serverCalls int
	commands    []string
}

func (f *fakeUpstream) Server(ctx context.Context, apiKey string) (*prc.ServerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serverCalls++
	return f.status, f.err
}

func (f *fakeUpstream) ExecuteCommand(ctx context.Context, apiKey, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return nil
}

var testTenant = models.Tenant{ID: "tenant-1", Name: "River City", APIKey: "key-1"}

func newTestEngine(t *testing.T, ttl time.Duration) (*Engine, *store.Memory, *fakeUpstream) {
	t.Helper()
	mem := store.NewMemory()
	mem.PutTenant(testTenant)
	up := &fakeUpstream{status: &prc.ServerStatus{Name: "River City", CurrentPlayers: 15, MaxPlayers: 40}}
	engine := NewEngine(mem.Repositories(), up, NewRuleCache(mem, ttl), slog.New(slog.DiscardHandler))
	return engine, mem, up
}

func rule(id string, trigger models.Trigger, conditions, actions string) models.AutomationRule {
	return models.AutomationRule{
		ID:         id,
		TenantID:   testTenant.ID,
		Name:       id,
		Trigger:    trigger,
		Conditions: json.RawMessage(conditions),
		Actions:    json.RawMessage(actions),
		Enabled:    true,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestTriggerEnqueuesRenderedMessage(t *testing.T) {
	engine, mem, _ := newTestEngine(t, time.Minute)
	mem.PutRule(rule("welcome", models.TriggerPlayerJoin, `[]`,
		`[{"type":"DISCORD_MESSAGE","target":"chan-1","content":"{player_name} joined"}]`))

	err := engine.Trigger(context.Background(), testTenant, models.TriggerPlayerJoin, models.TriggerContext{
		Player: &models.PlayerContext{Name: "Bob", ID: "42"},
	})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	items := mem.QueueItems()
	if len(items) != 1 {
		t.Fatalf("expected 1 queue item, got %d", len(items))
	}
	if items[0].Kind != models.QueueMessage || items[0].ChannelID != "chan-1" || items[0].Content != "Bob joined" {
		t.Errorf("unexpected queue item %+v", items[0])
	}
	if r, _ := mem.Rule("welcome"); r.LastRunAt == nil {
		t.Error("expected lastRunAt to be stamped")
	}
}

func TestTriggerIgnoresOtherTriggersAndUnmetConditions(t *testing.T) {
	engine, mem, _ := newTestEngine(t, time.Minute)
	mem.PutRule(rule("leave", models.TriggerPlayerLeave, `[]`,
		`[{"type":"DISCORD_MESSAGE","target":"c","content":"x"}]`))
	mem.PutRule(rule("vip", models.TriggerPlayerJoin, `[{"field":"player.name","operator":"EQUALS","value":"Alice"}]`,
		`[{"type":"DISCORD_MESSAGE","target":"c","content":"x"}]`))

	engine.Trigger(context.Background(), testTenant, models.TriggerPlayerJoin, models.TriggerContext{
		Player: &models.PlayerContext{Name: "Bob", ID: "42"},
	})

	if n := len(mem.QueueItems()); n != 0 {
		t.Fatalf("expected no queue items, got %d", n)
	}
	if r, _ := mem.Rule("vip"); r.LastRunAt != nil {
		t.Error("unmatched rule must not be stamped")
	}
}

func TestTriggerSkipsMalformedRule(t *testing.T) {
	engine, mem, _ := newTestEngine(t, time.Minute)
	mem.PutRule(rule("broken", models.TriggerPlayerJoin, `[{"field":`, `[]`))
	mem.PutRule(rule("ok", models.TriggerPlayerJoin, `[]`, `[{"type":"LOG_ENTRY","content":"{player_name} in"}]`))

	if err := engine.Trigger(context.Background(), testTenant, models.TriggerPlayerJoin, models.TriggerContext{
		Player: &models.PlayerContext{Name: "Bob", ID: "42"},
	}); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	entries := mem.AuditEntries()
	if len(entries) != 1 || entries[0].Message != "Bob in" || entries[0].Kind != models.AuditAutomation {
		t.Fatalf("unexpected audit entries %+v", entries)
	}
	if r, _ := mem.Rule("broken"); r.LastRunAt != nil {
		t.Error("malformed rule must not fire")
	}
}

func TestTriggerFetchesSnapshotOncePerPass(t *testing.T) {
	engine, mem, up := newTestEngine(t, time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		mem.PutRule(rule(id, models.TriggerPlayerJoin,
			`[{"field":"server.playerCount","operator":"GREATER_THAN","value":"10"}]`,
			`[{"type":"DISCORD_MESSAGE","target":"c","content":"{server_name}"}]`))
	}

	engine.Trigger(context.Background(), testTenant, models.TriggerPlayerJoin, models.TriggerContext{})

	if up.serverCalls != 1 {
		t.Errorf("expected 1 snapshot fetch, got %d", up.serverCalls)
	}
	if n := len(mem.QueueItems()); n != 3 {
		t.Errorf("expected 3 messages, got %d", n)
	}
}

func TestTriggerRemoteCommands(t *testing.T) {
	engine, mem, up := newTestEngine(t, time.Minute)
	mem.PutRule(rule("kick", models.TriggerPlayerKill, `[]`, `[
		{"type":"KICK_PLAYER","content":"RDM by {player_name}"},
		{"type":"ANNOUNCEMENT","content":"{player_name} was kicked"},
		{"type":"WARN_PLAYER","content":"auto warn"}
	]`))

	engine.Trigger(context.Background(), testTenant, models.TriggerPlayerKill, models.TriggerContext{
		Player: &models.PlayerContext{Name: "Bob", ID: "42"},
	})

	want := []string{":kick 42 RDM by Bob", ":m Bob was kicked"}
	if len(up.commands) != len(want) {
		t.Fatalf("expected %d commands, got %v", len(want), up.commands)
	}
	for i := range want {
		if up.commands[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, up.commands[i], want[i])
		}
	}

	ps := mem.Punishments()
	if len(ps) != 1 || ps[0].Moderator != "AUTOMATION" || !ps[0].Resolved || ps[0].TargetID != "42" {
		t.Errorf("unexpected punishments %+v", ps)
	}
}

func TestTriggerPlayerActionsWithoutPlayerAreSkipped(t *testing.T) {
	engine, mem, up := newTestEngine(t, time.Minute)
	mem.PutRule(rule("kill", models.TriggerCommandUsed, `[]`, `[{"type":"KILL_PLAYER"}]`))

	engine.Trigger(context.Background(), testTenant, models.TriggerCommandUsed, models.TriggerContext{})

	if len(up.commands) != 0 {
		t.Errorf("expected no commands, got %v", up.commands)
	}
}

func TestRuleCacheHonorsTTL(t *testing.T) {
	engine, mem, _ := newTestEngine(t, time.Hour)
	ctx := context.Background()
	action := `[{"type":"DISCORD_MESSAGE","target":"c","content":"x"}]`

	engine.Trigger(ctx, testTenant, models.TriggerPlayerJoin, models.TriggerContext{})
	mem.PutRule(rule("late", models.TriggerPlayerJoin, `[]`, action))

	engine.Trigger(ctx, testTenant, models.TriggerPlayerJoin, models.TriggerContext{})
	if n := len(mem.QueueItems()); n != 0 {
		t.Fatalf("rule added within TTL should not be visible yet, got %d items", n)
	}

	zero := time.Duration(0)
	override := testTenant
	override.AutomationCacheTTL = &zero
	engine.Trigger(ctx, override, models.TriggerPlayerJoin, models.TriggerContext{})
	if n := len(mem.QueueItems()); n != 1 {
		t.Fatalf("tenant TTL override should force a reload, got %d items", n)
	}
}
