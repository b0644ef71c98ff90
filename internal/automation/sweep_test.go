package automation

import (
	"context"
	"testing"
	"time"

	"github.com/powhq/pow/internal/models"
)

func TestDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }

	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{"never run", nil, true},
		{"interval elapsed", at(61 * time.Minute), true},
		{"exactly on interval", at(60 * time.Minute), true},
		{"not yet", at(10 * time.Minute), false},
	}
	for _, tt := range tests {
		if got := Due(tt.last, 60, now); got != tt.want {
			t.Errorf("%s: Due = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSweepFiresDueRulesAndAdvancesLastRun(t *testing.T) {
	engine, mem, _ := newTestEngine(t, time.Minute)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	elapsed := now.Add(-2 * time.Hour)
	recent := now.Add(-10 * time.Minute)

	due := rule("due", models.TriggerTimeInterval, `{"intervalMinutes":60}`,
		`[{"type":"DISCORD_MESSAGE","target":"c","content":"hourly {timestamp}"}]`)
	due.LastRunAt = &elapsed
	notDue := rule("not-due", models.TriggerTimeInterval, `{"intervalMinutes":60}`,
		`[{"type":"DISCORD_MESSAGE","target":"c","content":"x"}]`)
	notDue.LastRunAt = &recent
	mem.PutRule(due)
	mem.PutRule(notDue)

	fired, err := engine.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected 1 rule fired, got %d", fired)
	}

	items := mem.QueueItems()
	if len(items) != 1 || items[0].Content != "hourly 2026-05-01T12:00:00Z" {
		t.Fatalf("unexpected queue items %+v", items)
	}

	got, _ := mem.Rule("due")
	if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
		t.Errorf("expected lastRunAt %v, got %v", now, got.LastRunAt)
	}
	got, _ = mem.Rule("not-due")
	if !got.LastRunAt.Equal(recent) {
		t.Errorf("not-due rule lastRunAt changed to %v", got.LastRunAt)
	}

	fired, _ = engine.Sweep(context.Background())
	if fired != 0 {
		t.Errorf("second sweep at the same instant fired %d rules", fired)
	}
}

func TestSweepTenantDefaultsInterval(t *testing.T) {
	engine, mem, _ := newTestEngine(t, time.Minute)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	last := now.Add(-59 * time.Minute)
	r := rule("default", models.TriggerTimeInterval, ``, `[{"type":"LOG_ENTRY","content":"tick"}]`)
	r.LastRunAt = &last
	mem.PutRule(r)

	fired, err := engine.SweepTenant(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("SweepTenant: %v", err)
	}
	if fired != 0 {
		t.Fatalf("rule within the default 60 minute interval fired")
	}

	engine.now = func() time.Time { return now.Add(2 * time.Minute) }
	fired, _ = engine.SweepTenant(context.Background(), testTenant)
	if fired != 1 || len(mem.AuditEntries()) != 1 {
		t.Fatalf("expected rule to fire once the interval elapsed, fired=%d", fired)
	}
}

func TestSweepClaimPreventsDoubleFire(t *testing.T) {
	engine, mem, _ := newTestEngine(t, time.Minute)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	r := rule("once", models.TriggerTimeInterval, `{"intervalMinutes":5}`, `[{"type":"LOG_ENTRY","content":"tick"}]`)
	mem.PutRule(r)

	// A concurrent sweep already claimed this run.
	if ok, _ := mem.ClaimRun(context.Background(), "once", nil, now); !ok {
		t.Fatal("setup claim failed")
	}

	if engine.fireIfDue(context.Background(), testTenant, r, now) {
		t.Fatal("stale rule copy must lose the claim")
	}
	if len(mem.AuditEntries()) != 0 {
		t.Error("actions ran without winning the claim")
	}
}
