package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/powhq/pow/internal/models"
)

// Memory implements every repository in memory for testing/development.
type Memory struct {
	mu          sync.Mutex
	tenants     map[string]models.Tenant
	members     map[string]models.Member
	records     []models.ActivityRecord
	recordKeys  map[string]struct{}
	shifts      []models.Shift
	punishments []models.Punishment
	audit       []models.AuditEntry
	rules       map[string]models.AutomationRule
	queue       []models.QueueItem
	settings    map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tenants:    make(map[string]models.Tenant),
		members:    make(map[string]models.Member),
		recordKeys: make(map[string]struct{}),
		rules:      make(map[string]models.AutomationRule),
		settings:   make(map[string]string),
	}
}

// Repositories exposes the memory store through the repository bundle.
func (m *Memory) Repositories() Repositories {
	return Repositories{
		Tenants:     m,
		Members:     m,
		Activity:    m,
		Shifts:      m,
		Punishments: m,
		Audit:       m,
		Rules:       m,
		Queue:       m,
		Settings:    m,
	}
}

// PutTenant inserts or replaces a tenant.
func (m *Memory) PutTenant(t models.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
}

// PutMember inserts or replaces a staff member.
func (m *Memory) PutMember(member models.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.TenantID+"|"+member.PlayerID] = member
}

// PutRule inserts or replaces an automation rule.
func (m *Memory) PutRule(rule models.AutomationRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	m.rules[rule.ID] = rule
}

// Rule returns a copy of the stored rule.
func (m *Memory) Rule(id string) (models.AutomationRule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	return r, ok
}

// SetSetting stores a runtime setting.
func (m *Memory) SetSetting(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
}

// Records returns all stored activity records in insertion order.
func (m *Memory) Records() []models.ActivityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ActivityRecord(nil), m.records...)
}

// QueueItems returns all queue items in insertion order.
func (m *Memory) QueueItems() []models.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.QueueItem(nil), m.queue...)
}

// Shifts returns all shifts.
func (m *Memory) Shifts() []models.Shift {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Shift(nil), m.shifts...)
}

// Punishments returns all punishments.
func (m *Memory) Punishments() []models.Punishment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Punishment(nil), m.punishments...)
}

// AuditEntries returns all audit entries.
func (m *Memory) AuditEntries() []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditEntry(nil), m.audit...)
}

// ListSyncable returns tenants with an API key, ordered by id.
func (m *Memory) ListSyncable(ctx context.Context) ([]models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Tenant
	for _, t := range m.tenants {
		if t.APIKey != "" {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetByID retrieves a tenant.
func (m *Memory) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// FindByPlayer returns the member registered under the player id.
func (m *Memory) FindByPlayer(ctx context.Context, tenantID, playerID string) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[tenantID+"|"+playerID]
	if !ok {
		return nil, nil
	}
	return &member, nil
}

// ListPlayerIDs returns registered player ids for the tenant.
func (m *Memory) ListPlayerIDs(ctx context.Context, tenantID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, member := range m.members {
		if member.TenantID == tenantID {
			ids = append(ids, member.PlayerID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// InsertNew stores records whose dedup key is unseen.
func (m *Memory) InsertNew(ctx context.Context, records []models.ActivityRecord) ([]models.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var inserted []models.ActivityRecord
	for _, r := range records {
		key := r.DedupKey()
		if _, ok := m.recordKeys[key]; ok {
			continue
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		m.recordKeys[key] = struct{}{}
		m.records = append(m.records, r)
		inserted = append(inserted, r)
	}
	return inserted, nil
}

// LatestDeparture finds the newest matching leave record.
func (m *Memory) LatestDeparture(ctx context.Context, tenantID, query string, since time.Time) (*models.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	var best *models.ActivityRecord
	for i := range m.records {
		r := m.records[i]
		if r.TenantID != tenantID || r.Type != models.RecordTypeJoin || r.IsJoin {
			continue
		}
		if r.RemoteTimestamp.Before(since) || !strings.Contains(strings.ToLower(r.ActorName), q) {
			continue
		}
		if best == nil || r.RemoteTimestamp.After(best.RemoteTimestamp) {
			best = &r
		}
	}
	return best, nil
}

// FindOpen returns the player's open shift.
func (m *Memory) FindOpen(ctx context.Context, tenantID, playerID string) (*models.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shifts {
		if s.TenantID == tenantID && s.PlayerID == playerID && s.Open() {
			return &s, nil
		}
	}
	return nil, nil
}

// Start records a new open shift.
func (m *Memory) Start(ctx context.Context, shift models.Shift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if shift.ID == "" {
		shift.ID = uuid.NewString()
	}
	m.shifts = append(m.shifts, shift)
	return nil
}

// End closes a shift.
func (m *Memory) End(ctx context.Context, id string, endedAt time.Time, durationSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.shifts {
		if m.shifts[i].ID == id {
			end := endedAt
			m.shifts[i].EndedAt = &end
			m.shifts[i].DurationSeconds = durationSeconds
			return nil
		}
	}
	return nil
}

// ListOpen returns every open shift for the tenant.
func (m *Memory) ListOpen(ctx context.Context, tenantID string) ([]models.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Shift
	for _, s := range m.shifts {
		if s.TenantID == tenantID && s.Open() {
			out = append(out, s)
		}
	}
	return out, nil
}

// ListSince returns the player's shifts started at or after since.
func (m *Memory) ListSince(ctx context.Context, tenantID, playerID string, since time.Time) ([]models.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Shift
	for _, s := range m.shifts {
		if s.TenantID == tenantID && s.PlayerID == playerID && !s.StartedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Create stores a punishment.
func (m *Memory) Create(ctx context.Context, p models.Punishment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.punishments = append(m.punishments, p)
	return nil
}

// Save appends or upserts an audit entry.
func (m *Memory) Save(ctx context.Context, entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Key != "" {
		for i, existing := range m.audit {
			if existing.TenantID == entry.TenantID && existing.Key == entry.Key {
				m.audit[i] = entry
				return nil
			}
		}
	}
	m.audit = append(m.audit, entry)
	return nil
}

// ListEnabled returns the tenant's enabled rules.
func (m *Memory) ListEnabled(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AutomationRule
	for _, r := range m.rules {
		if r.TenantID == tenantID && r.Enabled {
			out = append(out, r)
		}
	}
	sortRules(out)
	return out, nil
}

// ListEnabledByTrigger returns enabled rules for the trigger across tenants.
func (m *Memory) ListEnabledByTrigger(ctx context.Context, trigger models.Trigger) ([]models.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AutomationRule
	for _, r := range m.rules {
		if r.Trigger == trigger && r.Enabled {
			out = append(out, r)
		}
	}
	sortRules(out)
	return out, nil
}

// TouchLastRun stamps the rule's last run time.
func (m *Memory) TouchLastRun(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[id]; ok {
		t := at
		r.LastRunAt = &t
		m.rules[id] = r
	}
	return nil
}

// ClaimRun stamps the last run time if it still equals prev.
func (m *Memory) ClaimRun(ctx context.Context, id string, prev *time.Time, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return false, nil
	}
	switch {
	case prev == nil && r.LastRunAt != nil:
		return false, nil
	case prev != nil && (r.LastRunAt == nil || !r.LastRunAt.Equal(*prev)):
		return false, nil
	}
	t := at
	r.LastRunAt = &t
	m.rules[id] = r
	return true, nil
}

// Enqueue appends a queue item in PENDING state.
func (m *Memory) Enqueue(ctx context.Context, item models.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Status = models.QueuePending
	m.queue = append(m.queue, item)
	return nil
}

// ListPendingIDs returns the oldest pending ids.
func (m *Memory) ListPendingIDs(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := make([]models.QueueItem, 0, len(m.queue))
	for _, item := range m.queue {
		if item.Status == models.QueuePending {
			pending = append(pending, item)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	var ids []string
	for i := 0; i < len(pending) && i < limit; i++ {
		ids = append(ids, pending[i].ID)
	}
	return ids, nil
}

// MarkProcessing claims the listed items that are still pending.
func (m *Memory) MarkProcessing(ctx context.Context, ids []string, token string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	n := 0
	for i := range m.queue {
		if _, ok := want[m.queue[i].ID]; !ok || m.queue[i].Status != models.QueuePending {
			continue
		}
		m.queue[i].Status = models.QueueProcessing
		m.queue[i].ClaimToken = token
		n++
	}
	return n, nil
}

// ListClaimed returns the items owned by the claim token.
func (m *Memory) ListClaimed(ctx context.Context, token string) ([]models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QueueItem
	for _, item := range m.queue {
		if item.ClaimToken == token && item.Status == models.QueueProcessing {
			out = append(out, item)
		}
	}
	return out, nil
}

// MarkSent finalizes a delivered item.
func (m *Memory) MarkSent(ctx context.Context, id string, at time.Time) error {
	return m.finish(id, models.QueueSent, "", at)
}

// MarkFailed finalizes a failed item with the error text.
func (m *Memory) MarkFailed(ctx context.Context, id string, errText string, at time.Time) error {
	return m.finish(id, models.QueueFailed, errText, at)
}

func (m *Memory) finish(id string, status models.QueueStatus, errText string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.queue {
		if m.queue[i].ID != id {
			continue
		}
		if m.queue[i].Status != models.QueueProcessing {
			break
		}
		t := at
		m.queue[i].Status = status
		m.queue[i].Error = errText
		m.queue[i].ProcessedAt = &t
		return nil
	}
	return fmt.Errorf("mark queue item %s %s: %w", id, status, ErrNotProcessing)
}

// Get reads a runtime setting.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func sortRules(rules []models.AutomationRule) {
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}
