package core

import "time"

// Challenge is a verifier-issued signing challenge. The wallet proves
// address ownership by personal_sign-ing Message.
type Challenge struct {
	ID          string      // Unique identifier for the challenge
	Address     string      // Ethereum address expected to sign
	ChainID     uint64      // Chain the session is scoped to
	AccountMode AccountMode // demo or live surface
	Nonce       string      // Random nonce embedded in the message
	Message     string      // Full human-readable message to sign
	IssuedAt    time.Time   // When the challenge was created
	ExpiresAt   time.Time   // When the challenge expires
}

// ServerSession is the verifier-side record behind an issued session token.
type ServerSession struct {
	ID          string      // Unique session identifier
	Address     string      // Ethereum address of the user
	ChainID     uint64      // Chain the session is scoped to
	AccountMode AccountMode // demo or live surface
	IssuedAt    time.Time   // When the session was created
	ExpiresAt   time.Time   // When the session token expires
}
