// Package audit forwards recorded object log entries to external sinks (a webhook, a JSON
// lines file, a redis channel) so a SIEM or log aggregator can consume the trail
// independently of the database. Shipping happens after the entry is committed and its
// failures never fail the record operation.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/telemetry"
)

// Event is the wire form of a shipped entry.
type Event struct {
	ID          string              `json:"id"`
	Timestamp   time.Time           `json:"timestamp"`
	Action      string              `json:"action"`
	ActorID     string              `json:"actor_id,omitempty"`
	Actor       string              `json:"actor,omitempty"`
	Description string              `json:"description,omitempty"`
	Message     string              `json:"message"`
	Subjects    []models.SubjectRef `json:"subjects"`
	Data        map[string]any      `json:"data,omitempty"`
}

// NewEvent converts a persisted entry into its shipped form.
func NewEvent(e *models.LogEntry) *Event {
	ev := &Event{
		ID:          e.ID,
		Timestamp:   e.CreatedAt,
		Action:      e.Action,
		Description: e.Description,
		Message:     e.Message(),
		Subjects:    e.Subjects,
		Data:        e.Data,
	}
	if e.ActorID != nil {
		ev.ActorID = *e.ActorID
	}
	if e.Actor != nil {
		ev.Actor = e.Actor.Username
	}
	return ev
}

// Shipper defines the interface for entry shipping
type Shipper interface {
	// Ship sends an event to the destination
	Ship(ctx context.Context, ev *Event) error
	// Close flushes pending events and releases resources
	Close() error
}

type namedShipper struct {
	name string
	Shipper
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []namedShipper
	mu       sync.RWMutex
}

// NewMultiShipper builds every enabled shipper in cfgs. rdb is only required when a redis
// shipper is configured.
func NewMultiShipper(cfgs []config.ShipperConfig, rdb redis.UniversalClient) (*MultiShipper, error) {
	ms := &MultiShipper{shippers: make([]namedShipper, 0)}

	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				err = fmt.Errorf("webhook config is required for webhook shipper")
				break
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				err = fmt.Errorf("file config is required for file shipper")
				break
			}
			shipper, err = NewFileShipper(cfg.File)
		case "redis":
			if cfg.Redis == nil || rdb == nil {
				err = fmt.Errorf("redis channel and connection are required for redis shipper")
				break
			}
			shipper = NewRedisShipper(rdb, cfg.Redis.Channel)
		default:
			err = fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, namedShipper{name: cfg.Type, Shipper: shipper})
	}

	return ms, nil
}

// Len returns the number of active shippers.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an event to every shipper. A failing shipper does not stop the others; the
// failures are logged, counted and joined into the returned error.
func (ms *MultiShipper) Ship(ctx context.Context, ev *Event) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, ev); err != nil {
			telemetry.ShipErrorsTotal.WithLabelValues(s.name).Inc()
			slog.Error("entry shipper failed", "shipper", s.name, "entry_id", ev.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
