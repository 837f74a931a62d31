package tokenizer

import "github.com/golang-jwt/jwt/v5"

// ChallengeClaims combines standard claims with challenge-specific ones
type ChallengeClaims struct {
	jwt.RegisteredClaims
	Nonce   string `json:"nonce"`
	ChainID uint64 `json:"cid"`
	Mode    string `json:"mode"`
}

// SessionClaims combines standard claims with session-specific ones
type SessionClaims struct {
	jwt.RegisteredClaims
	ChainID uint64 `json:"cid"`
	Mode    string `json:"mode"`
}
