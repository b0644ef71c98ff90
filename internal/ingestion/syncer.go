// Package ingestion pulls tenant activity logs from the game-server API,
// stores them idempotently and reacts to the entries that are new.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/prc"
	"github.com/powhq/pow/internal/store"
)

// Upstream is the slice of the game-server API ingestion uses.
type Upstream interface {
	JoinLogs(ctx context.Context, apiKey string) ([]prc.JoinLog, error)
	KillLogs(ctx context.Context, apiKey string) ([]prc.KillLog, error)
	CommandLogs(ctx context.Context, apiKey string) ([]prc.CommandLog, error)
	Players(ctx context.Context, apiKey string) ([]prc.Player, error)
	ExecuteCommand(ctx context.Context, apiKey, command string) error
}

// Dispatcher receives automation triggers.
type Dispatcher interface {
	Trigger(ctx context.Context, tenant models.Tenant, trigger models.Trigger, tc models.TriggerContext) error
}

// EventSink receives every newly stored record with its trigger.
type EventSink interface {
	Record(ctx context.Context, trigger models.Trigger, record models.ActivityRecord)
}

// Observer receives ingestion telemetry.
type Observer interface {
	ObserveIngested(recordType string, count int)
}

// Syncer runs ingestion passes.
type Syncer struct {
	repos      store.Repositories
	upstream   Upstream
	dispatcher Dispatcher
	events     EventSink
	observer   Observer
	logger     *slog.Logger
	lookback   time.Duration
	now        func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithEventSink publishes new records to sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Syncer) { s.events = sink }
}

// WithObserver attaches telemetry.
func WithObserver(o Observer) Option {
	return func(s *Syncer) { s.observer = o }
}

// WithDepartureLookback sets how far back manual punishments look for a
// player who already left.
func WithDepartureLookback(d time.Duration) Option {
	return func(s *Syncer) { s.lookback = d }
}

// NewSyncer creates a Syncer.
func NewSyncer(repos store.Repositories, upstream Upstream, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		repos:      repos,
		upstream:   upstream,
		dispatcher: dispatcher,
		logger:     logger,
		lookback:   30 * time.Minute,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncTenant runs one ingestion pass and returns the number of new records.
// Only a storage failure is returned as an error; upstream stream failures
// count as empty streams and per-record side-effect failures are logged.
func (s *Syncer) SyncTenant(ctx context.Context, tenant models.Tenant) (int, error) {
	joins, kills, commands := s.fetchStreams(ctx, tenant)

	records := normalize(tenant.ID, joins, kills, commands)
	if len(records) == 0 {
		return 0, nil
	}

	// Insert, skipping records already stored
	inserted, err := s.repos.Activity.InsertNew(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("store activity for tenant %s: %w", tenant.ID, err)
	}
	if len(inserted) == 0 {
		return 0, nil
	}

	s.logger.Info("ingested new activity",
		"tenant_id", tenant.ID,
		"fetched", len(records),
		"new", len(inserted),
	)

	// React only to newly stored records
	var newCommands []models.ActivityRecord
	for _, r := range inserted {
		s.observeIngested(r)

		if r.Type == models.RecordTypeCommand {
			s.handleCommand(ctx, tenant, r)
			newCommands = append(newCommands, r)
		}

		for _, d := range triggersFor(r) {
			if s.events != nil {
				s.events.Record(ctx, d.trigger, r)
			}
			if err := s.dispatcher.Trigger(ctx, tenant, d.trigger, d.context); err != nil {
				s.logger.Warn("automation dispatch failed",
					"tenant_id", tenant.ID,
					"trigger", d.trigger,
					"error", err,
				)
			}
		}
	}

	// Raid detection looks at this batch's commands only
	if len(newCommands) > 0 {
		s.scanForRaid(ctx, tenant, newCommands)
	}

	return len(inserted), nil
}

// fetchStreams pulls the three log streams concurrently. A failed stream is
// logged and treated as empty.
func (s *Syncer) fetchStreams(ctx context.Context, tenant models.Tenant) ([]prc.JoinLog, []prc.KillLog, []prc.CommandLog) {
	var (
		joins    []prc.JoinLog
		kills    []prc.KillLog
		commands []prc.CommandLog
	)

	var g errgroup.Group
	g.Go(func() error {
		var err error
		if joins, err = s.upstream.JoinLogs(ctx, tenant.APIKey); err != nil {
			s.streamFailed(tenant, "join", err)
			joins = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if kills, err = s.upstream.KillLogs(ctx, tenant.APIKey); err != nil {
			s.streamFailed(tenant, "kill", err)
			kills = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if commands, err = s.upstream.CommandLogs(ctx, tenant.APIKey); err != nil {
			s.streamFailed(tenant, "command", err)
			commands = nil
		}
		return nil
	})
	g.Wait()

	return joins, kills, commands
}

func (s *Syncer) streamFailed(tenant models.Tenant, stream string, err error) {
	s.logger.Warn("failed to fetch log stream",
		"tenant_id", tenant.ID,
		"key_hash", prc.KeyHash(tenant.APIKey),
		"stream", stream,
		"error", err,
	)
}

func (s *Syncer) observeIngested(r models.ActivityRecord) {
	if s.observer != nil {
		s.observer.ObserveIngested(string(r.Type), 1)
	}
}

// reply sends a private in-game message to a player. Failures are ignored.
func (s *Syncer) reply(ctx context.Context, tenant models.Tenant, playerName, text string) {
	cmd := fmt.Sprintf(":pm %s [POW] %s", playerName, text)
	if err := s.upstream.ExecuteCommand(ctx, tenant.APIKey, cmd); err != nil {
		s.logger.Debug("failed to send in-game reply", "tenant_id", tenant.ID, "error", err)
	}
}
