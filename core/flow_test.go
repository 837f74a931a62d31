package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	happyPath := []FlowState{
		StateIdle,
		StateRequestingAccounts,
		StateAccountsReceived,
		StateGettingChallenge,
		StateChallengeReceived,
		StateSigningMessage,
		StateMessageSigned,
		StateVerifyingSignature,
		StateAuthenticated,
		StateIdle,
	}

	now := time.Now()
	flow := &AuthFlow{FlowID: "f1", State: StateIdle, StartedAt: now}
	for i := 1; i < len(happyPath); i++ {
		require.NoError(t, flow.Transition(happyPath[i], now))
		assert.Equal(t, happyPath[i], flow.State)
	}
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	now := time.Now()
	flow := &AuthFlow{FlowID: "f1", State: StateIdle, StartedAt: now}

	err := flow.Transition(StateAuthenticated, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateIdle, flow.State)
}

func TestAnyStateMayError(t *testing.T) {
	now := time.Now()
	for from := range map[FlowState]struct{}{
		StateIdle: {}, StateRequestingAccounts: {}, StateAccountsReceived: {},
		StateGettingChallenge: {}, StateChallengeReceived: {}, StateSigningMessage: {},
		StateMessageSigned: {}, StateVerifyingSignature: {}, StateAuthenticated: {},
	} {
		flow := &AuthFlow{State: from}
		require.NoError(t, flow.Transition(StateError, now), "from %s", from)
	}
}

func TestErrorStateRecovery(t *testing.T) {
	assert.True(t, StateError.CanTransitionTo(StateIdle))
	assert.True(t, StateError.CanTransitionTo(StateRequestingAccounts))
	assert.False(t, StateError.CanTransitionTo(StateAuthenticated))
}

func TestResumePointStableStates(t *testing.T) {
	for _, state := range []FlowState{StateAccountsReceived, StateChallengeReceived, StateMessageSigned} {
		rp := ResumePointFor(state)
		assert.True(t, rp.CanResume, "state %s", state)
		assert.False(t, rp.Rewritten, "state %s", state)
		assert.Equal(t, state, rp.State)
	}
}

func TestResumePointRewritesInFlightStates(t *testing.T) {
	cases := map[FlowState]FlowState{
		StateRequestingAccounts: StateIdle,
		StateSigningMessage:     StateChallengeReceived,
		StateVerifyingSignature: StateMessageSigned,
	}
	for from, want := range cases {
		rp := ResumePointFor(from)
		assert.True(t, rp.CanResume, "state %s", from)
		assert.True(t, rp.Rewritten, "state %s", from)
		assert.Equal(t, want, rp.State, "state %s", from)
	}
}

func TestFlowExpiry(t *testing.T) {
	now := time.Now()
	flow := &AuthFlow{StartedAt: now.Add(-11 * time.Minute)}
	assert.True(t, flow.Expired(now))

	flow.StartedAt = now.Add(-9 * time.Minute)
	assert.False(t, flow.Expired(now))
}

func TestRetryBudget(t *testing.T) {
	flow := &AuthFlow{RetryCount: 2}
	assert.True(t, flow.CanRetry())

	flow.RetryCount = FlowMaxRetries
	assert.False(t, flow.CanRetry())
}
