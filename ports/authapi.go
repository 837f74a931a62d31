package ports

import (
	"context"

	"github.com/layer-3/bifrost/core"
)

// ChallengeGrant is the verifier's answer to a challenge request.
type ChallengeGrant struct {
	Message string
	Nonce   string
}

// VerifiedGrant is the verifier's answer to a successful signature check.
type VerifiedGrant struct {
	SessionToken string
	UserID       string
}

// AuthAPI is the remote authentication collaborator. Calls are opaque,
// timeout-bound and retried by the adapter; the flow machine only consumes
// their outcomes.
type AuthAPI interface {
	Challenge(ctx context.Context, address string, chainID uint64, mode core.AccountMode) (*ChallengeGrant, error)
	Verify(ctx context.Context, message, signature string, mode core.AccountMode) (*VerifiedGrant, error)
	ValidateSession(ctx context.Context, token string) (bool, error)
	Disconnect(ctx context.Context, token string) error
}
