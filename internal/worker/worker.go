// Package worker consumes change events to keep node-local caches coherent
// across a multi-node deployment.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pantryhq/pantry/internal/crud"
	"github.com/pantryhq/pantry/internal/domain"
)

// Topics are the change topics the worker listens to.
var Topics = []string{
	domain.TopicRecordCreated,
	domain.TopicRecordUpdated,
	domain.TopicRecordDeleted,
}

// Worker evicts local cache entries for records changed on other nodes.
type Worker struct {
	bus     domain.EventBus
	evicter domain.LocalEvicter
	nodeID  string

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to follow. Empty follows every
	// tenant through a wildcard subscription.
	TenantIDs []string
}

// NewWorker creates a new cache-invalidation worker. Events whose origin
// metadata equals nodeID are ignored.
func NewWorker(bus domain.EventBus, evicter domain.LocalEvicter, nodeID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		evicter: evicter,
		nodeID:  nodeID,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the change topics.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		if err := w.subscribeTenant(domain.AllTenants); err != nil {
			return err
		}
		slog.Info("global worker started", "node_id", w.nodeID)
		return nil
	}

	// Rows without a tenant are announced under the global id.
	tenants := append([]string{domain.GlobalTenantID}, cfg.TenantIDs...)
	for _, tenantID := range tenants {
		if err := w.subscribeTenant(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"node_id", w.nodeID,
	)

	return nil
}

func (w *Worker) subscribeTenant(tenantID string) error {
	for _, topic := range Topics {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, w.handleMessage)
		if err != nil {
			return fmt.Errorf("subscribe %s for %s: %w", topic, tenantID, err)
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	slog.Debug("tenant worker started",
		"tenant_id", tenantID,
		"topics", Topics,
	)
	return nil
}

// handleMessage evicts the local copy of the changed record.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	if w.nodeID != "" && msg.Metadata[domain.MetaOrigin] == w.nodeID {
		w.skipped.Add(1)
		return nil
	}

	var event domain.ChangeEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse change event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}

	if err := w.evicter.EvictLocal(ctx, msg.TenantID, crud.CacheKey(event.Entity, event.ID)); err != nil {
		w.failed.Add(1)
		slog.Error("failed to evict cached record",
			"tenant_id", msg.TenantID,
			"entity", event.Entity,
			"id", event.ID,
			"error", err,
		)
		return err
	}

	w.processed.Add(1)
	slog.Debug("evicted cached record",
		"tenant_id", msg.TenantID,
		"entity", event.Entity,
		"id", event.ID,
		"topic", msg.Topic,
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Skipped           int64    `json:"skipped"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, 0, len(w.subscriptions))
	for _, sub := range w.subscriptions {
		topics = append(topics, sub.Topic())
	}

	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Skipped:           w.skipped.Load(),
		Failed:            w.failed.Load(),
	}
}
