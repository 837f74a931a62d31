package tokenizer

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

const AudienceChallenge = "session:challenge"
const AudienceSession = "session:access"

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.Tokenizer {
	return &JWTTokenizer{signKey: signKey}
}

// ChallengeToToken converts a Challenge to a JWT token
func (j *JWTTokenizer) ChallengeToToken(challenge *core.Challenge) (string, error) {
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   challenge.Address,
			ID:        challenge.ID,
			ExpiresAt: jwt.NewNumericDate(challenge.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(challenge.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceChallenge},
		},
		Nonce:   challenge.Nonce,
		ChainID: challenge.ChainID,
		Mode:    string(challenge.AccountMode),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge token: %w", err)
	}

	return signedToken, nil
}

// TokenToChallenge converts a JWT token to a Challenge
func (j *JWTTokenizer) TokenToChallenge(tokenStr string) (*core.Challenge, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ChallengeClaims{}, j.keyFunc, jwt.WithAudience(AudienceChallenge))
	if err != nil {
		return nil, fmt.Errorf("failed to parse challenge token: %w", err)
	}
	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*ChallengeClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	return &core.Challenge{
		ID:          claims.ID,
		Address:     claims.Subject,
		ChainID:     claims.ChainID,
		AccountMode: core.AccountMode(claims.Mode),
		Nonce:       claims.Nonce,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// SessionToToken converts a ServerSession to a signed session token
func (j *JWTTokenizer) SessionToToken(session *core.ServerSession) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Address,
			ID:        session.ID,
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceSession},
		},
		ChainID: session.ChainID,
		Mode:    string(session.AccountMode),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signedToken, nil
}

// TokenToSession parses a session token and returns the associated session
func (j *JWTTokenizer) TokenToSession(tokenStr string) (*core.ServerSession, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, j.keyFunc, jwt.WithAudience(AudienceSession))
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	return &core.ServerSession{
		ID:          claims.ID,
		Address:     claims.Subject,
		ChainID:     claims.ChainID,
		AccountMode: core.AccountMode(claims.Mode),
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// VerifySignature verifies a personal_sign (EIP-191) signature over the
// challenge message against the expected address.
func (j *JWTTokenizer) VerifySignature(challenge *core.Challenge, signatureStr string, addressStr string) error {
	if !common.IsHexAddress(addressStr) {
		return fmt.Errorf("malformed address: %w", core.ErrInvalidSignature)
	}
	if common.HexToAddress(challenge.Address) != common.HexToAddress(addressStr) {
		return fmt.Errorf("address mismatch: %w", core.ErrInvalidSignature)
	}

	decodedSig, err := hexutil.Decode(signatureStr)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	if len(decodedSig) != 65 {
		return fmt.Errorf("signature must be 65 bytes: %w", core.ErrInvalidSignature)
	}
	// Wallets return V as 27/28; go-ethereum expects 0/1.
	if decodedSig[64] >= 27 {
		decodedSig[64] -= 27
	}

	digest := accounts.TextHash([]byte(challenge.Message))
	pubKey, err := crypto.SigToPub(digest, decodedSig)
	if err != nil {
		return fmt.Errorf("failed to recover public key: %w", core.ErrInvalidSignature)
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != common.HexToAddress(addressStr) {
		return core.ErrInvalidSignature
	}

	return nil
}

func (j *JWTTokenizer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &j.signKey.PublicKey, nil
}
