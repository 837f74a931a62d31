package ports

import (
	"context"

	"github.com/layer-3/bifrost/core"
)

// DurableStore is the storage compartment that survives a full browser
// restart: connection facts and the persisted auth flow record. Loads return
// (nil, nil) when the record is absent.
type DurableStore interface {
	SaveRecord(ctx context.Context, record *core.DurableRecord) error
	LoadRecord(ctx context.Context) (*core.DurableRecord, error)
	ClearRecord(ctx context.Context) error

	SaveFlow(ctx context.Context, flow *core.AuthFlow) error
	LoadFlow(ctx context.Context) (*core.AuthFlow, error)
	ClearFlow(ctx context.Context) error
}

// VolatileStore holds the session token only. It is intentionally scoped to
// the browser session as a security boundary and must not survive a restart.
type VolatileStore interface {
	SetToken(ctx context.Context, token string) error
	Token(ctx context.Context) (string, error)
	ClearToken(ctx context.Context) error
}
