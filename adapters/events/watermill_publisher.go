// Package events publishes session lifecycle notifications through
// watermill, so other installed instances (and other tabs of this one) learn
// about connects and disconnects.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/layer-3/bifrost/bus"
	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

// WatermillPublisher implements ports.EventPublisher on any watermill
// publisher: the in-process gochannel bus locally, a redis stream across
// instances.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher publishes to the session events topic.
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     bus.TopicSessionEvents,
	}
}

// PublishSessionChanged emits a best-effort, uncorrelated broadcast.
// Receivers must reconcile against persisted state rather than trusting the
// payload's freshness.
func (p *WatermillPublisher) PublishSessionChanged(_ context.Context, event core.SessionChangedEvent) error {
	env, err := core.NewEnvelope(core.TagSessionChanged, "", event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}
	return nil
}
