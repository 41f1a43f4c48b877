package bus

import (
	"fmt"

	"github.com/pantryhq/pantry/internal/domain"
)

// New creates a new event bus based on configuration.
// "channel" returns a ChannelBus, "nats" a NATSBus. "none" (or empty)
// returns nil: change events are not published.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil

	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(tenantID, topic string, payload []byte, metadata map[string]string, now int64, id string) *domain.Message {
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	return &domain.Message{
		ID:        id,
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  meta,
		Timestamp: now,
	}
}
