package automation

import (
	"context"
	"sync"
	"time"

	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/store"
)

// compiledRule is a rule with its conditions and actions decoded. err is set
// when either payload is malformed.
type compiledRule struct {
	rule       models.AutomationRule
	conditions []Condition
	actions    []Action
	err        error
}

func compile(rule models.AutomationRule) compiledRule {
	c := compiledRule{rule: rule}
	if c.conditions, c.err = ParseConditions(rule.Conditions); c.err != nil {
		return c
	}
	c.actions, c.err = ParseActions(rule.Actions)
	return c
}

// RuleCache caches each tenant's enabled rules for a bounded time so that
// bursts of events do not reload rules from storage.
type RuleCache struct {
	rules      store.RuleRepository
	defaultTTL time.Duration

	mu    sync.RWMutex
	cache map[string]ruleCacheEntry
}

type ruleCacheEntry struct {
	rules     []compiledRule
	timestamp time.Time
}

// NewRuleCache creates a cache whose entries expire after ttl unless the
// tenant overrides it.
func NewRuleCache(rules store.RuleRepository, ttl time.Duration) *RuleCache {
	return &RuleCache{
		rules:      rules,
		defaultTTL: ttl,
		cache:      make(map[string]ruleCacheEntry),
	}
}

func (c *RuleCache) ttlFor(tenant models.Tenant) time.Duration {
	if tenant.AutomationCacheTTL != nil && *tenant.AutomationCacheTTL >= 0 {
		return *tenant.AutomationCacheTTL
	}
	return c.defaultTTL
}

// Rules returns the tenant's enabled rules, loading them when the cached set
// is older than the TTL.
func (c *RuleCache) Rules(ctx context.Context, tenant models.Tenant) ([]compiledRule, error) {
	c.mu.RLock()
	entry, exists := c.cache[tenant.ID]
	c.mu.RUnlock()

	if exists && time.Since(entry.timestamp) < c.ttlFor(tenant) {
		return entry.rules, nil
	}

	loaded, err := c.rules.ListEnabled(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	compiled := make([]compiledRule, 0, len(loaded))
	for _, r := range loaded {
		compiled = append(compiled, compile(r))
	}

	c.mu.Lock()
	c.cache[tenant.ID] = ruleCacheEntry{rules: compiled, timestamp: time.Now()}
	c.mu.Unlock()

	return compiled, nil
}

// Invalidate drops the tenant's cached rules.
func (c *RuleCache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.cache, tenantID)
	c.mu.Unlock()
}
