// Package queue drains the outbound action queue into the chat platform.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/store"
)

// DefaultBatchSize is the number of items claimed per cycle.
const DefaultBatchSize = 10

// Delivery failures recorded on items.
var (
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrGuildNotSet      = errors.New("tenant has no guild configured")
	ErrMissingRecipient = errors.New("queue item has no recipient")
	ErrUnknownKind      = errors.New("unknown queue item kind")
)

// Deliverer performs chat-platform side effects.
type Deliverer interface {
	SendMessage(ctx context.Context, channelID string, p Payload) error
	SendDirectMessage(ctx context.Context, userID string, p Payload) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error
}

// Observer receives per-item outcomes.
type Observer interface {
	ObserveQueueItem(kind, outcome string)
}

// Result summarizes one consumer cycle.
type Result struct {
	Claimed int
	Sent    int
	Failed  int
}

// Consumer claims and delivers queue items.
type Consumer struct {
	queue     store.QueueRepository
	tenants   store.TenantRepository
	deliverer Deliverer
	observer  Observer
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// NewConsumer creates a consumer. A non-positive batch size uses the default.
func NewConsumer(repos store.Repositories, deliverer Deliverer, batchSize int, logger *slog.Logger) *Consumer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Consumer{
		queue:     repos.Queue,
		tenants:   repos.Tenants,
		deliverer: deliverer,
		logger:    logger,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithObserver attaches telemetry.
func (c *Consumer) WithObserver(o Observer) *Consumer {
	c.observer = o
	return c
}

// ProcessBatch runs one claim-and-deliver cycle. Items are delivered
// concurrently and settle independently; only claim failures are returned.
func (c *Consumer) ProcessBatch(ctx context.Context) (Result, error) {
	items, err := c.claim(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(items) == 0 {
		return Result{}, nil
	}

	res := Result{Claimed: len(items)}
	outcomes := make([]bool, len(items))

	var g errgroup.Group
	for i, item := range items {
		g.Go(func() error {
			outcomes[i] = c.process(ctx, item)
			return nil
		})
	}
	g.Wait()

	for _, ok := range outcomes {
		if ok {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	c.logger.Info("processed queue batch",
		"claimed", res.Claimed,
		"sent", res.Sent,
		"failed", res.Failed,
	)
	return res, nil
}

// Drain runs cycles until a claim comes back empty.
func (c *Consumer) Drain(ctx context.Context) (Result, error) {
	var total Result
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := c.ProcessBatch(ctx)
		if err != nil {
			return total, err
		}
		if res.Claimed == 0 {
			return total, nil
		}
		total.Claimed += res.Claimed
		total.Sent += res.Sent
		total.Failed += res.Failed
	}
}

func (c *Consumer) claim(ctx context.Context) ([]models.QueueItem, error) {
	ids, err := c.queue.ListPendingIDs(ctx, c.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	token := uuid.NewString()
	n, err := c.queue.MarkProcessing(ctx, ids, token)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	items, err := c.queue.ListClaimed(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("read claimed: %w", err)
	}
	return items, nil
}

// process delivers one item and settles it. It reports success.
func (c *Consumer) process(ctx context.Context, item models.QueueItem) bool {
	err := c.deliver(ctx, item)
	if err == nil {
		if markErr := c.queue.MarkSent(ctx, item.ID, c.now()); markErr != nil {
			c.logMarkError("sent", item, markErr)
		}
		c.observe(item.Kind, "sent")
		return true
	}

	c.logger.Warn("queue item delivery failed",
		"item_id", item.ID,
		"tenant_id", item.TenantID,
		"kind", item.Kind,
		"error", err,
	)
	if markErr := c.queue.MarkFailed(ctx, item.ID, err.Error(), c.now()); markErr != nil {
		c.logMarkError("failed", item, markErr)
	}
	c.observe(item.Kind, "failed")
	return false
}

func (c *Consumer) logMarkError(outcome string, item models.QueueItem, err error) {
	if errors.Is(err, store.ErrNotProcessing) {
		c.logger.Warn("queue item settled elsewhere, keeping its status", "item_id", item.ID, "outcome", outcome)
		return
	}
	c.logger.Error("failed to mark queue item "+outcome, "item_id", item.ID, "error", err)
}

func (c *Consumer) deliver(ctx context.Context, item models.QueueItem) error {
	switch item.Kind {
	case models.QueueMessage:
		if item.ChannelID == "" {
			return ErrMissingRecipient
		}
		return c.deliverer.SendMessage(ctx, item.ChannelID, ParsePayload(item.Content))

	case models.QueueDM:
		if item.UserID == "" {
			return ErrMissingRecipient
		}
		return c.deliverer.SendDirectMessage(ctx, item.UserID, Payload{Content: item.Content})

	case models.QueueRoleAdd:
		if item.UserID == "" || item.RoleID == "" {
			return ErrMissingRecipient
		}
		tenant, err := c.tenants.GetByID(ctx, item.TenantID)
		if err != nil {
			return fmt.Errorf("load tenant: %w", err)
		}
		if tenant == nil {
			return ErrTenantNotFound
		}
		if tenant.DiscordGuildID == "" {
			return ErrGuildNotSet
		}
		return c.deliverer.AddRole(ctx, tenant.DiscordGuildID, item.UserID, item.RoleID)
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, item.Kind)
}

func (c *Consumer) observe(kind models.QueueKind, outcome string) {
	if c.observer != nil {
		c.observer.ObserveQueueItem(string(kind), outcome)
	}
}
