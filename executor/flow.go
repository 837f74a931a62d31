// Package executor implements the background context: the persisted,
// resumable authentication flow, session compartment logic, and liveness
// reporting. The host may suspend and destroy this context between any two
// operations, so every step is reconstructible from storage alone.
package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

// FlowService drives the authentication state machine. Every successful
// transition is persisted before the call returns, which is what makes the
// flow survivable across executor restarts.
type FlowService struct {
	durable  ports.DurableStore
	volatile ports.VolatileStore
	api      ports.AuthAPI
	wallet   ports.WalletProvider
	sessions *SessionService
	clock    ports.Clock
	log      *zap.Logger
}

// NewFlowService wires the flow machine to its collaborators.
func NewFlowService(
	durable ports.DurableStore,
	volatile ports.VolatileStore,
	api ports.AuthAPI,
	wallet ports.WalletProvider,
	sessions *SessionService,
	clock ports.Clock,
	log *zap.Logger,
) *FlowService {
	return &FlowService{
		durable:  durable,
		volatile: volatile,
		api:      api,
		wallet:   wallet,
		sessions: sessions,
		clock:    clock,
		log:      log.Named("flow"),
	}
}

// GetAuthFlowState loads the persisted flow, clearing it when it passed the
// abandonment horizon. Returns (nil, nil) when no flow exists.
func (s *FlowService) GetAuthFlowState(ctx context.Context) (*core.AuthFlow, error) {
	flow, err := s.durable.LoadFlow(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load auth flow: %w", err)
	}
	if flow == nil {
		return nil, nil
	}
	if flow.Expired(s.clock.Now()) {
		s.log.Info("clearing expired auth flow",
			zap.String("flowId", flow.FlowID),
			zap.String("state", string(flow.State)))
		if err := s.durable.ClearFlow(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear expired flow: %w", err)
		}
		return nil, nil
	}
	return flow, nil
}

// GetResumePoint reports where a restarted executor may safely pick the flow
// up. States marking an in-flight external call are rewritten in storage to
// their nearest stable predecessor before being reported, so the dangling
// step is retried rather than assumed complete.
func (s *FlowService) GetResumePoint(ctx context.Context) (core.ResumePoint, *core.AuthFlow, error) {
	flow, err := s.GetAuthFlowState(ctx)
	if err != nil {
		return core.ResumePoint{}, nil, err
	}
	if flow == nil {
		return core.ResumePoint{State: core.StateIdle}, nil, nil
	}

	rp := core.ResumePointFor(flow.State)
	if rp.Rewritten {
		s.log.Info("rewriting unsafe flow state for resume",
			zap.String("flowId", flow.FlowID),
			zap.String("from", string(flow.State)),
			zap.String("to", string(rp.State)))
		flow.State = rp.State
		flow.LastUpdatedAt = s.clock.Now()
		if err := s.durable.SaveFlow(ctx, flow); err != nil {
			return core.ResumePoint{}, nil, fmt.Errorf("failed to persist rewritten flow: %w", err)
		}
	}
	return rp, flow, nil
}

// OpenAuth starts a fresh flow or resumes the active one, then drives it to
// completion. The deduplication layer upstream guarantees a single caller.
func (s *FlowService) OpenAuth(ctx context.Context, mode core.AccountMode) (core.OpenAuthResult, error) {
	rp, flow, err := s.GetResumePoint(ctx)
	if err != nil {
		return core.OpenAuthResult{}, err
	}

	switch {
	case flow == nil || !flow.Active():
		if mode == "" {
			mode = core.ModeLive
		}
		if !mode.Valid() {
			return core.OpenAuthResult{}, core.NewError(core.CodeInvalidRequest,
				fmt.Sprintf("unknown account mode %q", mode))
		}
		now := s.clock.Now()
		flow = &core.AuthFlow{
			FlowID:        uuid.New().String(),
			State:         core.StateIdle,
			AccountMode:   mode,
			StartedAt:     now,
			LastUpdatedAt: now,
		}
		if err := s.durable.SaveFlow(ctx, flow); err != nil {
			return core.OpenAuthResult{}, core.WrapError(core.CodeSessionStorageFailed,
				"failed to persist new flow", err)
		}
		s.log.Info("starting auth flow",
			zap.String("flowId", flow.FlowID), zap.String("mode", string(mode)))

	case flow.State == core.StateError:
		if !flow.CanRetry() {
			return core.OpenAuthResult{}, core.WrapError(core.CodeAlreadyInProgress,
				"auth flow retry budget exhausted, abort and start over", core.ErrRetryBudget)
		}
		if err := s.transition(ctx, flow, core.StateRequestingAccounts); err != nil {
			return core.OpenAuthResult{}, err
		}
		s.log.Info("retrying auth flow after error",
			zap.String("flowId", flow.FlowID), zap.Int("retry", flow.RetryCount))

	default:
		// Resuming an active flow; the requested mode must not conflict.
		if mode != "" && mode != flow.AccountMode {
			return core.OpenAuthResult{}, core.NewError(core.CodeInvalidRequest,
				"account mode cannot change while an auth flow is active")
		}
		s.log.Info("resuming auth flow",
			zap.String("flowId", flow.FlowID), zap.String("state", string(rp.State)))
	}

	return s.run(ctx, flow)
}

// Abort clears the active flow regardless of state.
func (s *FlowService) Abort(ctx context.Context) error {
	if err := s.durable.ClearFlow(ctx); err != nil {
		return fmt.Errorf("failed to abort flow: %w", err)
	}
	return nil
}

// run executes steps until the flow authenticates or fails.
func (s *FlowService) run(ctx context.Context, flow *core.AuthFlow) (core.OpenAuthResult, error) {
	for {
		switch flow.State {
		case core.StateIdle:
			if err := s.transition(ctx, flow, core.StateRequestingAccounts); err != nil {
				return core.OpenAuthResult{}, err
			}

		case core.StateRequestingAccounts:
			accounts, err := s.wallet.RequestAccounts(ctx)
			if err != nil {
				return s.fail(ctx, flow, err)
			}
			chainID, err := s.wallet.ChainID(ctx)
			if err != nil {
				return s.fail(ctx, flow, err)
			}
			flow.Accounts = accounts
			flow.Address = accounts[0]
			flow.ChainID = chainID
			if err := s.transition(ctx, flow, core.StateAccountsReceived); err != nil {
				return core.OpenAuthResult{}, err
			}

		case core.StateAccountsReceived:
			if err := s.transition(ctx, flow, core.StateGettingChallenge); err != nil {
				return core.OpenAuthResult{}, err
			}

		case core.StateGettingChallenge:
			grant, err := s.api.Challenge(ctx, flow.Address, flow.ChainID, flow.AccountMode)
			if err != nil {
				return s.fail(ctx, flow, err)
			}
			flow.ChallengeMessage = grant.Message
			flow.Nonce = grant.Nonce
			if err := s.transition(ctx, flow, core.StateChallengeReceived); err != nil {
				return core.OpenAuthResult{}, err
			}

		case core.StateChallengeReceived:
			if err := s.transition(ctx, flow, core.StateSigningMessage); err != nil {
				return core.OpenAuthResult{}, err
			}

		case core.StateSigningMessage:
			sig, err := s.wallet.PersonalSign(ctx, flow.ChallengeMessage, flow.Address)
			if err != nil {
				return s.fail(ctx, flow, err)
			}
			flow.Signature = sig
			if err := s.transition(ctx, flow, core.StateMessageSigned); err != nil {
				return core.OpenAuthResult{}, err
			}

		case core.StateMessageSigned:
			if err := s.transition(ctx, flow, core.StateVerifyingSignature); err != nil {
				return core.OpenAuthResult{}, err
			}

		case core.StateVerifyingSignature:
			grant, err := s.api.Verify(ctx, flow.ChallengeMessage, flow.Signature, flow.AccountMode)
			if err != nil {
				return s.fail(ctx, flow, err)
			}
			flow.SessionToken = grant.SessionToken
			if err := s.transition(ctx, flow, core.StateAuthenticated); err != nil {
				return core.OpenAuthResult{}, err
			}

		case core.StateAuthenticated:
			if err := s.sessions.StoreSession(ctx, core.StoreSessionRequest{
				Address: flow.Address,
				ChainID: flow.ChainID,
				Mode:    flow.AccountMode,
				Token:   flow.SessionToken,
			}); err != nil {
				return s.fail(ctx, flow, err)
			}
			result := core.OpenAuthResult{
				State:   core.StateAuthenticated,
				Address: flow.Address,
				ChainID: flow.ChainID,
			}
			// Cleanup: the flow record is destroyed on completion.
			if err := s.transition(ctx, flow, core.StateIdle); err != nil {
				return core.OpenAuthResult{}, err
			}
			if err := s.durable.ClearFlow(ctx); err != nil {
				return core.OpenAuthResult{}, fmt.Errorf("failed to clear completed flow: %w", err)
			}
			s.log.Info("auth flow completed",
				zap.String("flowId", flow.FlowID), zap.String("address", flow.Address))
			return result, nil

		case core.StateError:
			return core.OpenAuthResult{State: core.StateError},
				core.NewError(core.CodeUnknown, flow.LastError)

		default:
			return core.OpenAuthResult{}, core.NewError(core.CodeInvalidRequest,
				fmt.Sprintf("flow in unknown state %q", flow.State))
		}
	}
}

// transition persists the state change before returning; a write failure is
// surfaced as a storage error and the in-memory flow is reverted.
func (s *FlowService) transition(ctx context.Context, flow *core.AuthFlow, next core.FlowState) error {
	prev := flow.State
	if err := flow.Transition(next, s.clock.Now()); err != nil {
		return err
	}
	if err := s.durable.SaveFlow(ctx, flow); err != nil {
		flow.State = prev
		return core.WrapError(core.CodeSessionStorageFailed, "failed to persist flow transition", err)
	}
	return nil
}

func (s *FlowService) fail(ctx context.Context, flow *core.AuthFlow, cause error) (core.OpenAuthResult, error) {
	flow.LastError = core.MessageOf(cause)
	flow.RetryCount++
	if err := s.transition(ctx, flow, core.StateError); err != nil {
		s.log.Error("failed to persist error state", zap.Error(err))
	}
	s.log.Warn("auth flow step failed",
		zap.String("flowId", flow.FlowID),
		zap.String("code", string(core.CodeOf(cause))),
		zap.Int("retry", flow.RetryCount),
		zap.Error(cause))
	return core.OpenAuthResult{State: core.StateError}, cause
}
