package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"
)

// DefaultAlertTypes are the event types forwarded to operators.
var DefaultAlertTypes = []string{
	EventLoginRateLimited,
	EventLoginRiskRejected,
	EventMFADeliveryFailed,
	EventRoleChanged,
	EventAccountDeactivated,
	EventPasswordReset,
}

// Publisher delivers an alert payload to an operator channel.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) error
}

// AlertSink forwards alert-worthy events to a Publisher. Publish failures
// are logged and dropped.
type AlertSink struct {
	publisher Publisher
	types     map[string]struct{}
	logger    *slog.Logger
}

// NewAlertSink forwards events whose type is in types, or DefaultAlertTypes
// when types is empty.
func NewAlertSink(publisher Publisher, logger *slog.Logger, types ...string) *AlertSink {
	if len(types) == 0 {
		types = DefaultAlertTypes
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertSink{publisher: publisher, types: set, logger: logger}
}

func (s *AlertSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.publisher == nil {
		return
	}
	if _, ok := s.types[event.EventType]; !ok {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	attrs := map[string]string{
		"event_type": event.EventType,
		"audit_id":   event.ID,
	}
	if event.AccountID != "" {
		attrs["account_id"] = event.AccountID
	}
	if event.RequestID != "" {
		attrs["request_id"] = event.RequestID
	}

	if err := s.publisher.Publish(ctx, data, attrs); err != nil {
		s.logger.Warn("security alert publish failed",
			slog.String("event_type", event.EventType),
			slog.String("audit_id", event.ID),
			slog.String("error", err.Error()),
		)
	}
}

// PubSubPublisher publishes alerts to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// NewPubSubPublisher connects to projectID and publishes to topicID.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return &PubSubPublisher{
		client:    client,
		publisher: client.Publisher(topicID),
	}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) error {
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("pubsub publish: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
