package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/powhq/pow/internal/models"
)

// Sweep fires every due time-interval rule across all tenants and returns how
// many fired.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	rules, err := e.rules.ListEnabledByTrigger(ctx, models.TriggerTimeInterval)
	if err != nil {
		return 0, fmt.Errorf("list time rules: %w", err)
	}

	now := e.now()
	tenants := make(map[string]*models.Tenant)
	fired := 0
	for _, rule := range rules {
		tenant, ok := tenants[rule.TenantID]
		if !ok {
			tenant, err = e.tenants.GetByID(ctx, rule.TenantID)
			if err != nil {
				e.logger.Warn("failed to load tenant for time rule", "tenant_id", rule.TenantID, "error", err)
				continue
			}
			tenants[rule.TenantID] = tenant
		}
		if tenant == nil {
			continue
		}
		if e.fireIfDue(ctx, *tenant, rule, now) {
			fired++
		}
	}
	return fired, nil
}

// SweepTenant fires the tenant's due time-interval rules.
func (e *Engine) SweepTenant(ctx context.Context, tenant models.Tenant) (int, error) {
	rules, err := e.rules.ListEnabled(ctx, tenant.ID)
	if err != nil {
		return 0, fmt.Errorf("list rules for tenant %s: %w", tenant.ID, err)
	}

	now := e.now()
	fired := 0
	for _, rule := range rules {
		if rule.Trigger != models.TriggerTimeInterval {
			continue
		}
		if e.fireIfDue(ctx, tenant, rule, now) {
			fired++
		}
	}
	return fired, nil
}

// Due reports whether a time rule with the given last run is due at now.
func Due(lastRunAt *time.Time, intervalMinutes int, now time.Time) bool {
	if lastRunAt == nil {
		return true
	}
	return !now.Before(lastRunAt.Add(time.Duration(intervalMinutes) * time.Minute))
}

// fireIfDue claims the rule's run by conditionally advancing lastRunAt to now,
// so concurrent sweeps fire it at most once per interval.
func (e *Engine) fireIfDue(ctx context.Context, tenant models.Tenant, rule models.AutomationRule, now time.Time) bool {
	if !Due(rule.LastRunAt, IntervalMinutes(rule.Conditions), now) {
		return false
	}

	cr := compile(rule)
	if cr.err != nil {
		e.logger.Debug("skipping malformed time rule", "rule_id", rule.ID, "error", cr.err)
		e.observe(models.TriggerTimeInterval, "malformed")
		return false
	}

	claimed, err := e.rules.ClaimRun(ctx, rule.ID, rule.LastRunAt, now)
	if err != nil {
		e.logger.Warn("failed to claim time rule", "rule_id", rule.ID, "error", err)
		return false
	}
	if !claimed {
		return false
	}

	var tc models.TriggerContext
	snapshot := e.snapshot(ctx, tenant)
	if evaluate(cr.conditions, tc, snapshot) {
		e.run(ctx, tenant, rule, cr.actions, tc, snapshot)
	}
	e.observe(models.TriggerTimeInterval, "fired")
	return true
}
