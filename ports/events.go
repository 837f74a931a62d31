package ports

import (
	"context"

	"github.com/layer-3/bifrost/core"
)

// EventPublisher fans out session lifecycle notifications to other
// installed instances. Delivery is best-effort; receivers must reconcile
// against persisted state.
type EventPublisher interface {
	PublishSessionChanged(ctx context.Context, event core.SessionChangedEvent) error
}

// Pinger probes the background executor for liveness.
type Pinger interface {
	Ping(ctx context.Context) (core.PongPayload, error)
}

// KeepAliver receives lease heartbeats that keep the executor from being
// idle-suspended during long operations.
type KeepAliver interface {
	KeepAlive(ctx context.Context, leaseID string) error
}
