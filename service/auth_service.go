package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

// AuthService implements the verifier side of the SIWE handshake: it issues
// challenges, checks signatures and mints session tokens.
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.InvalidationStore

	challengeTTL time.Duration
	sessionTTL   time.Duration
}

// NewAuthService creates a new authentication service
func NewAuthService(tokenizer ports.Tokenizer, store ports.InvalidationStore) *AuthService {
	return &AuthService{
		tokenizer:    tokenizer,
		store:        store,
		challengeTTL: 5 * time.Minute,
		sessionTTL:   24 * time.Hour,
	}
}

// CreateChallenge generates a signing challenge for the address. The
// returned challenge token travels inside the human-readable message, so
// verification needs no server-side challenge storage.
func (s *AuthService) CreateChallenge(address string, chainID uint64, mode core.AccountMode) (string, string, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)

	now := time.Now()
	challenge := &core.Challenge{
		ID:          uuid.New().String(),
		Address:     address,
		ChainID:     chainID,
		AccountMode: mode,
		Nonce:       nonce,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.challengeTTL),
	}
	challenge.Message = challengeMessage(challenge)

	token, err := s.tokenizer.ChallengeToToken(challenge)
	if err != nil {
		return "", "", fmt.Errorf("failed to create challenge token: %w", err)
	}

	// The token doubles as the nonce the client echoes back; the message
	// embeds it so the signature covers the whole challenge.
	return challenge.Message + "\n\nChallenge: " + token, nonce, nil
}

// Verify checks the signed challenge and mints a session token.
func (s *AuthService) Verify(ctx context.Context, signedMessage, signature string, mode core.AccountMode) (string, *core.ServerSession, error) {
	token, err := extractChallengeToken(signedMessage)
	if err != nil {
		return "", nil, err
	}

	challenge, err := s.tokenizer.TokenToChallenge(token)
	if err != nil {
		return "", nil, fmt.Errorf("invalid challenge token: %w", err)
	}
	if time.Now().After(challenge.ExpiresAt) {
		return "", nil, core.ErrTokenExpired
	}
	if mode != "" && mode != challenge.AccountMode {
		return "", nil, core.ErrInvalidChallenge
	}

	// The signature covers the full message including the embedded token.
	challenge.Message = signedMessage
	if err := s.tokenizer.VerifySignature(challenge, signature, challenge.Address); err != nil {
		return "", nil, fmt.Errorf("signature verification failed: %w", err)
	}

	now := time.Now()
	session := &core.ServerSession{
		ID:          uuid.New().String(),
		Address:     challenge.Address,
		ChainID:     challenge.ChainID,
		AccountMode: challenge.AccountMode,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.sessionTTL),
	}

	sessionToken, err := s.tokenizer.SessionToToken(session)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session token: %w", err)
	}

	return sessionToken, session, nil
}

// ValidateSession parses and checks a session token, including revocation.
func (s *AuthService) ValidateSession(ctx context.Context, tokenStr string) (*core.ServerSession, error) {
	session, err := s.tokenizer.TokenToSession(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}

	invalidated, err := s.store.IsTokenInvalidated(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if invalidated {
		return nil, core.ErrTokenInvalidated
	}

	return session, nil
}

// Logout invalidates a session token for its remaining lifetime. Expired
// tokens are still marked for an hour so clock skew cannot resurrect them.
func (s *AuthService) Logout(ctx context.Context, tokenStr string) error {
	session, err := s.tokenizer.TokenToSession(tokenStr)
	if err != nil {
		return fmt.Errorf("invalid session token: %w", err)
	}

	remaining := time.Until(session.ExpiresAt)
	if remaining <= 0 {
		remaining = time.Hour
	}

	if err := s.store.InvalidateToken(ctx, session.ID, remaining); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	return nil
}

func challengeMessage(c *core.Challenge) string {
	return fmt.Sprintf(
		"bifrost wants you to sign in with your Ethereum account:\n%s\n\nChain ID: %d\nMode: %s\nNonce: %s\nIssued At: %s",
		c.Address, c.ChainID, c.AccountMode, c.Nonce, c.IssuedAt.UTC().Format(time.RFC3339),
	)
}

func extractChallengeToken(message string) (string, error) {
	const marker = "\n\nChallenge: "
	for i := len(message) - 1; i >= 0; i-- {
		if i+len(marker) <= len(message) && message[i:i+len(marker)] == marker {
			return message[i+len(marker):], nil
		}
	}
	return "", core.ErrInvalidChallenge
}
