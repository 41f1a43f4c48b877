package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pantryhq/pantry/internal/bus"
	"github.com/pantryhq/pantry/internal/cache"
	"github.com/pantryhq/pantry/internal/crud"
	"github.com/pantryhq/pantry/internal/domain"
)

func publishChange(t *testing.T, b domain.EventBus, tenantID, topic, entity, id, origin string) {
	t.Helper()
	payload, _ := json.Marshal(domain.ChangeEvent{Entity: entity, ID: id, TenantID: tenantID})
	if err := b.Publish(context.Background(), tenantID, topic, payload, map[string]string{domain.MetaOrigin: origin}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for worker")
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	local := cache.NewLRUCache(100)

	worker := NewWorker(eventBus, local, "node-a")

	t.Run("StartAndStop", func(t *testing.T) {
		if err := worker.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		// Three topics for tenant-001 and three for the global tenant.
		if stats.SubscriptionCount != 6 {
			t.Errorf("expected 6 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := worker.Stop(); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		if worker.GetStats().SubscriptionCount != 0 {
			t.Error("expected 0 subscriptions after stop")
		}
	})
}

func TestWorkerEviction(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	local := cache.NewLRUCache(100)

	worker := NewWorker(eventBus, local, "node-a")
	if err := worker.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	key := crud.CacheKey("diners", "DNR-0000000001")
	_ = local.Set(ctx, "tenant-001", key, []byte(`{}`), time.Minute)

	t.Run("OwnEventsSkipped", func(t *testing.T) {
		publishChange(t, eventBus, "tenant-001", domain.TopicRecordUpdated, "diners", "DNR-0000000001", "node-a")
		waitFor(t, func() bool { return worker.GetStats().Skipped == 1 })

		if val, _ := local.Get(ctx, "tenant-001", key); val == nil {
			t.Error("own event must not evict the local entry")
		}
	})

	t.Run("RemoteEventsEvict", func(t *testing.T) {
		publishChange(t, eventBus, "tenant-001", domain.TopicRecordDeleted, "diners", "DNR-0000000001", "node-b")
		waitFor(t, func() bool { return worker.GetStats().Processed == 1 })

		if val, _ := local.Get(ctx, "tenant-001", key); val != nil {
			t.Error("expected remote event to evict the local entry")
		}
	})

	t.Run("OtherTenantUntouched", func(t *testing.T) {
		_ = local.Set(ctx, "tenant-002", key, []byte(`{}`), time.Minute)
		publishChange(t, eventBus, "tenant-001", domain.TopicRecordUpdated, "diners", "DNR-0000000001", "node-b")
		waitFor(t, func() bool { return worker.GetStats().Processed == 2 })

		if val, _ := local.Get(ctx, "tenant-002", key); val == nil {
			t.Error("eviction must stay within the event's tenant")
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		_ = eventBus.Publish(ctx, "tenant-001", domain.TopicRecordCreated, []byte("not json"), nil)
		waitFor(t, func() bool { return worker.GetStats().Failed == 1 })
	})
}
