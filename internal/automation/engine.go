// Package automation evaluates tenant rules against pipeline events and runs
// their actions.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/prc"
	"github.com/powhq/pow/internal/store"
)

// ErrLoopbackTarget is returned for webhook actions aimed at the local host.
var ErrLoopbackTarget = errors.New("automation: webhook target is a loopback address")

// Upstream is the slice of the game-server API the engine uses.
type Upstream interface {
	Server(ctx context.Context, apiKey string) (*prc.ServerStatus, error)
	ExecuteCommand(ctx context.Context, apiKey, command string) error
}

// Observer receives rule outcome telemetry.
type Observer interface {
	ObserveRuleRun(trigger, outcome string)
}

// Engine matches rules to events and executes their actions.
type Engine struct {
	rules       store.RuleRepository
	tenants     store.TenantRepository
	queue       store.QueueRepository
	audit       store.AuditRepository
	punishments store.PunishmentRepository
	upstream    Upstream
	cache       *RuleCache
	http        *http.Client
	logger      *slog.Logger
	observer    Observer
	now         func() time.Time
}

// NewEngine wires an engine to storage, the upstream client and a rule cache.
func NewEngine(repos store.Repositories, upstream Upstream, cache *RuleCache, logger *slog.Logger) *Engine {
	return &Engine{
		rules:       repos.Rules,
		tenants:     repos.Tenants,
		queue:       repos.Queue,
		audit:       repos.Audit,
		punishments: repos.Punishments,
		upstream:    upstream,
		cache:       cache,
		http:        newWebhookClient(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithObserver attaches telemetry and returns the engine.
func (e *Engine) WithObserver(o Observer) *Engine {
	e.observer = o
	return e
}

// Trigger runs every enabled rule of the tenant registered for the trigger
// whose conditions hold. Action failures are logged and never returned; the
// only error is a failure to load the rules.
func (e *Engine) Trigger(ctx context.Context, tenant models.Tenant, trigger models.Trigger, tc models.TriggerContext) error {
	rules, err := e.cache.Rules(ctx, tenant)
	if err != nil {
		return fmt.Errorf("load rules for tenant %s: %w", tenant.ID, err)
	}

	snapshot := e.snapshot(ctx, tenant)

	for _, cr := range rules {
		if cr.rule.Trigger != trigger {
			continue
		}
		if cr.err != nil {
			e.logger.Debug("skipping malformed rule", "rule_id", cr.rule.ID, "error", cr.err)
			e.observe(trigger, "malformed")
			continue
		}
		if !evaluate(cr.conditions, tc, snapshot) {
			continue
		}

		e.run(ctx, tenant, cr.rule, cr.actions, tc, snapshot)

		if err := e.rules.TouchLastRun(ctx, cr.rule.ID, e.now()); err != nil {
			e.logger.Warn("failed to stamp rule run", "rule_id", cr.rule.ID, "error", err)
		}
		e.observe(trigger, "fired")
	}
	return nil
}

// snapshot returns a loader that fetches the server snapshot on first use
// and shares it for the rest of the pass.
func (e *Engine) snapshot(ctx context.Context, tenant models.Tenant) snapshotFunc {
	return sync.OnceValues(func() (*prc.ServerStatus, error) {
		status, err := e.upstream.Server(ctx, tenant.APIKey)
		if err != nil {
			e.logger.Debug("server snapshot unavailable", "tenant_id", tenant.ID, "error", err)
		}
		return status, err
	})
}

func (e *Engine) run(ctx context.Context, tenant models.Tenant, rule models.AutomationRule, actions []Action, tc models.TriggerContext, snapshot snapshotFunc) {
	r := renderer{tenantID: tenant.ID, tc: tc, snapshot: snapshot, now: e.now}
	for _, a := range actions {
		if err := e.execute(ctx, tenant, a, tc, r); err != nil {
			e.logger.Warn("automation action failed",
				"tenant_id", tenant.ID,
				"rule_id", rule.ID,
				"action", fmt.Sprintf("%T", a),
				"error", err,
			)
			e.observe(rule.Trigger, "action_error")
		}
	}
}

func (e *Engine) execute(ctx context.Context, tenant models.Tenant, action Action, tc models.TriggerContext, r renderer) error {
	switch a := action.(type) {
	case SendMessage:
		return e.queue.Enqueue(ctx, models.QueueItem{
			ID:        uuid.NewString(),
			TenantID:  tenant.ID,
			Kind:      models.QueueMessage,
			ChannelID: r.render(a.ChannelID),
			Content:   r.render(a.Content),
		})

	case SendDirectMessage:
		return e.queue.Enqueue(ctx, models.QueueItem{
			ID:       uuid.NewString(),
			TenantID: tenant.ID,
			Kind:     models.QueueDM,
			UserID:   r.render(a.UserID),
			Content:  r.render(a.Content),
		})

	case GrantRole:
		return e.queue.Enqueue(ctx, models.QueueItem{
			ID:       uuid.NewString(),
			TenantID: tenant.ID,
			Kind:     models.QueueRoleAdd,
			UserID:   r.render(a.UserID),
			RoleID:   r.render(a.RoleID),
		})

	case AppendLog:
		details, _ := json.Marshal(tc)
		return e.audit.Save(ctx, models.AuditEntry{
			ID:        uuid.NewString(),
			TenantID:  tenant.ID,
			Kind:      a.Kind,
			Message:   r.render(a.Content),
			Details:   details,
			CreatedAt: e.now(),
		})

	case WarnPlayer:
		if tc.Player == nil || tc.Player.ID == "" {
			return nil
		}
		return e.punishments.Create(ctx, models.Punishment{
			ID:         uuid.NewString(),
			TenantID:   tenant.ID,
			Type:       models.PunishmentWarn,
			TargetName: tc.Player.Name,
			TargetID:   tc.Player.ID,
			Reason:     r.render(a.Reason),
			Moderator:  "AUTOMATION",
			Resolved:   true,
			CreatedAt:  e.now(),
		})

	case RemoteCommand:
		ref := playerRef(tc)
		if a.NeedsPlayer() && ref == "" {
			return nil
		}
		rendered := RemoteCommand{Verb: a.Verb, Content: r.render(a.Content), Target: r.render(a.Target)}
		return e.upstream.ExecuteCommand(ctx, tenant.APIKey, rendered.Build(ref))

	case Webhook:
		return e.postWebhook(ctx, r.render(a.URL), r.render(a.Body))

	case Delay:
		timer := time.NewTimer(a.Duration())
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	return fmt.Errorf("unhandled action %T", action)
}

func playerRef(tc models.TriggerContext) string {
	if tc.Player == nil {
		return ""
	}
	if tc.Player.ID != "" {
		return tc.Player.ID
	}
	return tc.Player.Name
}

func (e *Engine) postWebhook(ctx context.Context, target, body string) error {
	if err := checkWebhookTarget(target); err != nil {
		return err
	}

	payload := []byte(body)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(map[string]string{"content": body})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// checkWebhookTarget rejects non-HTTP URLs and loopback or unspecified hosts.
func checkWebhookTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid webhook scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("webhook url has no host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return ErrLoopbackTarget
	}
	if ip := net.ParseIP(host); ip != nil && localIP(ip) {
		return ErrLoopbackTarget
	}
	return nil
}

func localIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsUnspecified()
}

// newWebhookClient returns a client that refuses to connect to local
// addresses after name resolution and re-checks every redirect hop.
func newWebhookClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip == nil || localIP(ip) {
				return ErrLoopbackTarget
			}
			return nil
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return &http.Client{
		Timeout:   8 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("webhook: too many redirects")
			}
			return checkWebhookTarget(req.URL.String())
		},
	}
}

func (e *Engine) observe(trigger models.Trigger, outcome string) {
	if e.observer != nil {
		e.observer.ObserveRuleRun(string(trigger), outcome)
	}
}
