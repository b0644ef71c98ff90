package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/powhq/pow/internal/models"
)

const ruleColumns = `id, tenant_id, name, trigger, conditions, actions, enabled, last_run_at, created_at`

// RuleRepository reads automation rules and records their runs.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository creates a rule repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// ListEnabled returns the tenant's enabled rules in creation order.
func (r *RuleRepository) ListEnabled(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	return r.list(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules
		WHERE tenant_id = $1 AND enabled
		ORDER BY created_at, id
	`, tenantID)
}

// ListEnabledByTrigger returns enabled rules for a trigger across tenants.
func (r *RuleRepository) ListEnabledByTrigger(ctx context.Context, trigger models.Trigger) ([]models.AutomationRule, error) {
	return r.list(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules
		WHERE trigger = $1 AND enabled
		ORDER BY created_at, id
	`, string(trigger))
}

// TouchLastRun stamps the rule's last run time.
func (r *RuleRepository) TouchLastRun(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE automation_rules SET last_run_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch rule %s: %w", id, err)
	}
	return nil
}

// ClaimRun is a compare-and-set on last_run_at; only one caller can move it
// forward from a given previous value.
func (r *RuleRepository) ClaimRun(ctx context.Context, id string, prev *time.Time, at time.Time) (bool, error) {
	var prevArg sql.NullTime
	if prev != nil {
		prevArg = sql.NullTime{Time: *prev, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE automation_rules SET last_run_at = $3
		WHERE id = $1 AND last_run_at IS NOT DISTINCT FROM $2::timestamptz
	`, id, prevArg, at)
	if err != nil {
		return false, fmt.Errorf("failed to claim rule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Create stores a rule.
func (r *RuleRepository) Create(ctx context.Context, rule models.AutomationRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	var conditions any
	if len(rule.Conditions) > 0 {
		conditions = []byte(rule.Conditions)
	}
	actions := []byte(rule.Actions)
	if len(actions) == 0 {
		actions = []byte("[]")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rule.ID, rule.TenantID, rule.Name, string(rule.Trigger), conditions, actions,
		rule.Enabled, rule.LastRunAt, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *RuleRepository) list(ctx context.Context, query string, args ...any) ([]models.AutomationRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.AutomationRule
	for rows.Next() {
		var (
			rule                models.AutomationRule
			conditions, actions []byte
			lastRun             sql.NullTime
		)
		if err := rows.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.Trigger, &conditions,
			&actions, &rule.Enabled, &lastRun, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Conditions = conditions
		rule.Actions = actions
		if lastRun.Valid {
			rule.LastRunAt = &lastRun.Time
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
