// Package bus carries submissions and decision events between the API,
// the async worker and downstream consumers.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
)

// MetadataRequestID carries the originating request ID across the bus.
const MetadataRequestID = "request_id"

// New creates an event bus from configuration.
// Type "none" returns a nil bus; callers treat that as publishing disabled.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "none":
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage builds the envelope shared by both implementations.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	meta := make(map[string]string)
	if id := logging.RequestID(ctx); id != "" {
		meta[MetadataRequestID] = id
	}
	return &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  meta,
		Timestamp: time.Now().UnixNano(),
	}
}

// HandlerContext returns ctx carrying the request ID stored in msg, if any.
func HandlerContext(ctx context.Context, msg *domain.Message) context.Context {
	if id := msg.Metadata[MetadataRequestID]; id != "" {
		return logging.WithRequestID(ctx, id)
	}
	return ctx
}
