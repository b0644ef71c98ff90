// Package events fans newly ingested activity out to NATS subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/powhq/pow/internal/models"
)

// SubjectPrefix roots every published subject.
const SubjectPrefix = "pow.event"

// Event is the published message body.
type Event struct {
	Trigger     models.Trigger        `json:"trigger"`
	Record      models.ActivityRecord `json:"record"`
	PublishedAt time.Time             `json:"published_at"`
}

// Publisher is the subset of a NATS connection the sink needs.
type Publisher interface {
	Publish(subject string, payload []byte) error
}

// Sink publishes events and never fails the caller; publish errors are
// logged.
type Sink struct {
	pub    Publisher
	logger *slog.Logger
}

// NewSink wraps a publisher.
func NewSink(pub Publisher, logger *slog.Logger) *Sink {
	return &Sink{pub: pub, logger: logger}
}

// Record publishes one record under its trigger subject.
func (s *Sink) Record(ctx context.Context, trigger models.Trigger, record models.ActivityRecord) {
	payload, err := json.Marshal(Event{Trigger: trigger, Record: record, PublishedAt: time.Now().UTC()})
	if err != nil {
		s.logger.Warn("failed to encode event", "error", err)
		return
	}
	subject := Subject(record.TenantID, trigger)
	if err := s.pub.Publish(subject, payload); err != nil {
		s.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// Subject returns pow.event.<tenant>.<trigger> with both tokens sanitized so
// they cannot add levels or wildcards.
func Subject(tenantID string, trigger models.Trigger) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, token(tenantID), token(string(trigger)))
}

func token(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}

// Conn is a NATS connection that can be closed on shutdown.
type Conn struct {
	nc *nats.Conn
}

// Connect dials NATS with unlimited reconnects.
func Connect(url string, logger *slog.Logger) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("pow"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Conn{nc: nc}, nil
}

// Publish sends a core NATS message.
func (c *Conn) Publish(subject string, payload []byte) error {
	return c.nc.Publish(subject, payload)
}

// Connected reports whether the connection is currently up.
func (c *Conn) Connected() bool {
	return c.nc.Status() == nats.CONNECTED
}

// Close flushes pending messages and closes the connection.
func (c *Conn) Close() {
	if c == nil || c.nc == nil {
		return
	}
	_ = c.nc.Drain()
}
