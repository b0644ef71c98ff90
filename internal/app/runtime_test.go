package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/powhq/pow/internal/config"
	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/prc"
	"github.com/powhq/pow/internal/queue"
	"github.com/powhq/pow/internal/store"
)

type fakeUpstream struct{}

func (fakeUpstream) JoinLogs(ctx context.Context, apiKey string) ([]prc.JoinLog, error) {
	return []prc.JoinLog{{Join: true, Timestamp: 1776268800, Player: "Bob:42"}}, nil
}

func (fakeUpstream) KillLogs(ctx context.Context, apiKey string) ([]prc.KillLog, error) {
	return nil, nil
}

func (fakeUpstream) CommandLogs(ctx context.Context, apiKey string) ([]prc.CommandLog, error) {
	return nil, nil
}

func (fakeUpstream) Players(ctx context.Context, apiKey string) ([]prc.Player, error) {
	return nil, nil
}

func (fakeUpstream) Server(ctx context.Context, apiKey string) (*prc.ServerStatus, error) {
	return &prc.ServerStatus{Name: "River City", CurrentPlayers: 3, MaxPlayers: 40}, nil
}

func (fakeUpstream) ExecuteCommand(ctx context.Context, apiKey, command string) error {
	return nil
}

type fakeDeliverer struct {
	mu       sync.Mutex
	messages []string
}

func (d *fakeDeliverer) SendMessage(ctx context.Context, channelID string, p queue.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, channelID+":"+p.Content)
	return nil
}

func (d *fakeDeliverer) SendDirectMessage(ctx context.Context, userID string, p queue.Payload) error {
	return nil
}

func (d *fakeDeliverer) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return nil
}

// failingActivity rejects inserts for one tenant.
type failingActivity struct {
	store.ActivityRepository
	tenantID string
}

func (f failingActivity) InsertNew(ctx context.Context, records []models.ActivityRecord) ([]models.ActivityRecord, error) {
	if len(records) > 0 && records[0].TenantID == f.tenantID {
		return nil, errors.New("connection reset")
	}
	return f.ActivityRepository.InsertNew(ctx, records)
}

func testConfig() config.Config {
	return config.Config{
		PRC:        config.PRCConfig{BucketCapacity: 35, BucketWindow: time.Second},
		Sync:       config.SyncConfig{Concurrency: 2, DepartureLookback: 30 * time.Minute},
		Queue:      config.QueueConfig{Interval: 3 * time.Second, BatchSize: 10},
		Automation: config.AutomationConfig{CacheTTL: time.Minute},
	}
}

func newRuntime(t *testing.T) (*Runtime, *store.Memory, *fakeDeliverer) {
	t.Helper()
	mem := store.NewMemory()
	mem.PutTenant(models.Tenant{ID: "tenant-a", Name: "Alpha", APIKey: "key-a"})
	mem.PutTenant(models.Tenant{ID: "tenant-b", Name: "Bravo", APIKey: "key-b"})
	mem.PutTenant(models.Tenant{ID: "tenant-c", Name: "No Key"})

	repos := mem.Repositories()
	repos.Activity = failingActivity{ActivityRepository: repos.Activity, tenantID: "tenant-b"}

	d := &fakeDeliverer{}
	rt := New(testConfig(), repos, d, slog.New(slog.DiscardHandler), WithUpstream(fakeUpstream{}))
	return rt, mem, d
}

func TestSyncBatchIsolatesTenants(t *testing.T) {
	rt, mem, _ := newRuntime(t)
	mem.PutRule(models.AutomationRule{
		ID:         "hourly",
		TenantID:   "tenant-a",
		Name:       "hourly",
		Trigger:    models.TriggerTimeInterval,
		Conditions: json.RawMessage(`{"intervalMinutes":60}`),
		Actions:    json.RawMessage(`[{"type":"DISCORD_MESSAGE","target":"chan-1","content":"tick"}]`),
		Enabled:    true,
	})

	results, err := rt.SyncBatch(context.Background(), "")
	if err != nil {
		t.Fatalf("SyncBatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 syncable tenants, got %+v", results)
	}

	byID := map[string]TenantResult{}
	for _, r := range results {
		byID[r.TenantID] = r
	}
	if a := byID["tenant-a"]; a.Error != "" || a.NewRecords != 1 || a.RulesFired != 1 {
		t.Errorf("tenant-a result = %+v", a)
	}
	if b := byID["tenant-b"]; b.Error == "" || b.NewRecords != 0 {
		t.Errorf("tenant-b should report its storage failure, got %+v", b)
	}
	if len(mem.QueueItems()) != 1 {
		t.Errorf("expected the time rule to enqueue one message, got %d", len(mem.QueueItems()))
	}

	results, err = rt.SyncBatch(context.Background(), "")
	if err != nil {
		t.Fatalf("second SyncBatch: %v", err)
	}
	for _, r := range results {
		if r.TenantID == "tenant-a" && (r.NewRecords != 0 || r.RulesFired != 0) {
			t.Errorf("re-sync must be idempotent and the rule not yet due, got %+v", r)
		}
	}
}

func TestSyncBatchSingleTenant(t *testing.T) {
	rt, _, _ := newRuntime(t)

	tests := []struct {
		name     string
		tenantID string
		want     int
	}{
		{"known tenant", "tenant-a", 1},
		{"tenant without key", "tenant-c", 0},
		{"unknown tenant", "missing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := rt.SyncBatch(context.Background(), tt.tenantID)
			if err != nil {
				t.Fatalf("SyncBatch: %v", err)
			}
			if len(results) != tt.want {
				t.Fatalf("got %d results, want %d", len(results), tt.want)
			}
			if tt.want == 1 && results[0].TenantID != tt.tenantID {
				t.Errorf("unexpected tenant %q", results[0].TenantID)
			}
		})
	}
}

func TestDrainDeliversQueuedItems(t *testing.T) {
	rt, mem, d := newRuntime(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := mem.Enqueue(ctx, models.QueueItem{TenantID: "tenant-a", Kind: models.QueueMessage, ChannelID: "chan-1", Content: "hi"}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := rt.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Sent != 3 || len(d.messages) != 3 {
		t.Errorf("sent %d, delivered %d", res.Sent, len(d.messages))
	}
}

func TestQueueInterval(t *testing.T) {
	tests := []struct {
		name    string
		setting string
		want    time.Duration
	}{
		{"unset uses config", "", 3 * time.Second},
		{"valid setting", "750", 750 * time.Millisecond},
		{"zero ignored", "0", 3 * time.Second},
		{"garbage ignored", "soon", 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, mem, _ := newRuntime(t)
			if tt.setting != "" {
				mem.SetSetting(QueueIntervalSetting, tt.setting)
			}
			if got := rt.QueueInterval(context.Background()); got != tt.want {
				t.Errorf("QueueInterval = %v, want %v", got, tt.want)
			}
		})
	}
}
