package interfaces

import "liveclass/pkg/types"

// EventPublisher receives session lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(event types.SessionEvent)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(types.SessionEvent) {}
