package ports

import (
	"context"

	"github.com/layer-3/bifrost/core"
)

// WalletProvider is the wallet object reachable from the injected context.
// Calls may suspend indefinitely on user interaction; callers own timeouts.
type WalletProvider interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (uint64, error)
	PersonalSign(ctx context.Context, message, address string) (string, error)
}

// WalletEventSource delivers provider events as typed values until the
// returned cancel func runs. The channel is closed on unsubscription; there
// are no implicit global listeners.
type WalletEventSource interface {
	Subscribe(ctx context.Context) (<-chan core.WalletEvent, func(), error)
}

// RPCError is a provider error carrying the EIP-1193 numeric code. Code 4001
// is a user rejection and always recoverable.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return e.Message }

// UserRejectedCode is the EIP-1193 code for a rejected prompt.
const UserRejectedCode = 4001
