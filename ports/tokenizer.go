package ports

import (
	"context"
	"time"

	"github.com/layer-3/bifrost/core"
)

// Tokenizer converts verifier domain objects to and from signed tokens.
type Tokenizer interface {
	// Challenge token operations
	ChallengeToToken(challenge *core.Challenge) (string, error)
	TokenToChallenge(token string) (*core.Challenge, error)

	// Session token operations
	SessionToToken(session *core.ServerSession) (string, error)
	TokenToSession(token string) (*core.ServerSession, error)

	// VerifySignature checks a personal_sign signature over the challenge
	// message against the expected address.
	VerifySignature(challenge *core.Challenge, signature string, address string) error
}

// InvalidationStore tracks revoked session ids until their natural expiry.
type InvalidationStore interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}
