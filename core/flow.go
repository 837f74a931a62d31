package core

import (
	"fmt"
	"time"
)

// FlowState enumerates the authentication flow states. No other values are
// permitted on the wire or in storage.
type FlowState string

const (
	StateIdle               FlowState = "IDLE"
	StateRequestingAccounts FlowState = "REQUESTING_ACCOUNTS"
	StateAccountsReceived   FlowState = "ACCOUNTS_RECEIVED"
	StateGettingChallenge   FlowState = "GETTING_CHALLENGE"
	StateChallengeReceived  FlowState = "CHALLENGE_RECEIVED"
	StateSigningMessage     FlowState = "SIGNING_MESSAGE"
	StateMessageSigned      FlowState = "MESSAGE_SIGNED"
	StateVerifyingSignature FlowState = "VERIFYING_SIGNATURE"
	StateAuthenticated      FlowState = "AUTHENTICATED"
	StateError              FlowState = "ERROR"
)

const (
	// FlowMaxAge is the hard abandonment horizon measured from StartedAt.
	FlowMaxAge = 10 * time.Minute

	// FlowMaxRetries bounds per-flow retry attempts; exceeding it requires
	// an explicit abort and a fresh flow.
	FlowMaxRetries = 3
)

// transitions is the closed transition table. Any state may additionally
// move to ERROR, and ERROR may move to IDLE or back to REQUESTING_ACCOUNTS.
var transitions = map[FlowState][]FlowState{
	StateIdle:               {StateRequestingAccounts},
	StateRequestingAccounts: {StateAccountsReceived},
	StateAccountsReceived:   {StateGettingChallenge},
	StateGettingChallenge:   {StateChallengeReceived},
	StateChallengeReceived:  {StateSigningMessage},
	StateSigningMessage:     {StateMessageSigned},
	StateMessageSigned:      {StateVerifyingSignature},
	StateVerifyingSignature: {StateAuthenticated},
	StateAuthenticated:      {StateIdle},
	StateError:              {StateIdle, StateRequestingAccounts},
}

// Valid reports whether s is a member of the enumeration.
func (s FlowState) Valid() bool {
	if s == StateError {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the table permits s -> next.
func (s FlowState) CanTransitionTo(next FlowState) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if next == StateError {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AuthFlow is the persisted record of one authentication attempt. Every
// field a resumed flow needs must live here; nothing in memory is
// load-bearing after an executor restart.
type AuthFlow struct {
	FlowID        string      `json:"flowId"`
	State         FlowState   `json:"state"`
	AccountMode   AccountMode `json:"accountMode"`
	StartedAt     time.Time   `json:"startedAt"`
	LastUpdatedAt time.Time   `json:"lastUpdatedAt"`

	Accounts         []string `json:"accounts,omitempty"`
	Address          string   `json:"address,omitempty"`
	ChainID          uint64   `json:"chainId,omitempty"`
	ChallengeMessage string   `json:"challengeMessage,omitempty"`
	Nonce            string   `json:"nonce,omitempty"`
	Signature        string   `json:"signature,omitempty"`
	SessionToken     string   `json:"sessionToken,omitempty"`
	LastError        string   `json:"lastError,omitempty"`
	RetryCount       int      `json:"retryCount"`
}

// Expired reports whether the flow passed its abandonment horizon.
func (f *AuthFlow) Expired(now time.Time) bool {
	return now.Sub(f.StartedAt) > FlowMaxAge
}

// CanRetry reports whether the retry budget permits another attempt.
func (f *AuthFlow) CanRetry() bool {
	return f.RetryCount < FlowMaxRetries
}

// Active reports whether the flow is in a non-terminal state. Starting a new
// flow while one is active resumes the existing flow instead.
func (f *AuthFlow) Active() bool {
	return f.State != StateIdle && f.State != StateAuthenticated
}

// Transition validates and applies a state change, recording the update
// time. The flow is left untouched on rejection.
func (f *AuthFlow) Transition(next FlowState, now time.Time) error {
	if !f.State.CanTransitionTo(next) {
		return fmt.Errorf("%s -> %s: %w", f.State, next, ErrInvalidTransition)
	}
	f.State = next
	f.LastUpdatedAt = now
	return nil
}

// ResumePoint is the answer to "where may a restarted executor safely pick
// this flow up".
type ResumePoint struct {
	CanResume bool
	State     FlowState
	Rewritten bool
}

// ResumePointFor maps a persisted state to its safe resume point.
//
// ACCOUNTS_RECEIVED, CHALLENGE_RECEIVED and MESSAGE_SIGNED mark a completed
// step with nothing dangling and resume in place. REQUESTING_ACCOUNTS,
// SIGNING_MESSAGE and VERIFYING_SIGNATURE mark an in-flight external call
// whose outcome is unknowable after a restart (a user prompt or a
// non-idempotent network call), so they rewrite to the nearest prior stable
// state and the step is retried.
func ResumePointFor(state FlowState) ResumePoint {
	switch state {
	case StateAccountsReceived, StateChallengeReceived, StateMessageSigned:
		return ResumePoint{CanResume: true, State: state}
	case StateRequestingAccounts:
		return ResumePoint{CanResume: true, State: StateIdle, Rewritten: true}
	case StateSigningMessage:
		return ResumePoint{CanResume: true, State: StateChallengeReceived, Rewritten: true}
	case StateVerifyingSignature:
		return ResumePoint{CanResume: true, State: StateMessageSigned, Rewritten: true}
	case StateError:
		return ResumePoint{CanResume: true, State: StateError}
	default:
		return ResumePoint{State: state}
	}
}
