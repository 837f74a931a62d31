// Package relay implements the message router between the page, the injected
// wallet bridge, and the background executor. It is the sole entry and exit
// point for cross-context traffic and enforces origin validation, rate
// limiting and request deduplication before any business logic runs.
package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/layer-3/bifrost/bus"
	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/health"
	"github.com/layer-3/bifrost/ports"
	"github.com/layer-3/bifrost/ratelimit"
)

// replayCacheSize bounds the requestId replay cache. Entries answer
// redelivered duplicates without re-executing the handler.
const replayCacheSize = 256

// Backend is the background executor as seen from the relay.
type Backend interface {
	OpenAuth(ctx context.Context, req core.OpenAuthRequest) (core.OpenAuthResult, error)
	GetSession(ctx context.Context) (core.GetSessionResult, error)
	Disconnect(ctx context.Context) error
	StoreSession(ctx context.Context, req core.StoreSessionRequest) error
	ClearSession(ctx context.Context) error
	SetAccountMode(ctx context.Context, mode core.AccountMode) error
}

// Router owns all relay mutable state: the limiter registry, the in-flight
// map and the replay cache. One instance is constructed at process start and
// passed to dependents; there are no package-level singletons.
type Router struct {
	origin  string
	version string

	wallet   ports.WalletProvider
	backend  Backend
	monitor  *health.Monitor
	leases   *health.Keeper
	limits   *ratelimit.Registry
	inflight *InFlight
	replay   *lru.Cache[string, core.Envelope]

	pub   message.Publisher
	sub   message.Subscriber
	clock ports.Clock
	log   *zap.Logger
}

// Config assembles a router.
type Config struct {
	Origin  string
	Version string
	Wallet  ports.WalletProvider
	Backend Backend
	Monitor *health.Monitor
	Leases  *health.Keeper
	Limits  *ratelimit.Registry
	Pub     message.Publisher
	Sub     message.Subscriber
	Clock   ports.Clock
	Log     *zap.Logger
}

// NewRouter builds the router and its owned state.
func NewRouter(cfg Config) (*Router, error) {
	replay, err := lru.New[string, core.Envelope](replayCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build replay cache: %w", err)
	}
	return &Router{
		origin:   cfg.Origin,
		version:  cfg.Version,
		wallet:   cfg.Wallet,
		backend:  cfg.Backend,
		monitor:  cfg.Monitor,
		leases:   cfg.Leases,
		limits:   cfg.Limits,
		inflight: NewInFlight(cfg.Clock),
		replay:   replay,
		pub:      cfg.Pub,
		sub:      cfg.Sub,
		clock:    cfg.Clock,
		log:      cfg.Log.Named("relay"),
	}, nil
}

// Run serves page traffic and injected wallet events until ctx is canceled.
func (r *Router) Run(ctx context.Context) error {
	pageMessages, err := r.sub.Subscribe(ctx, bus.TopicPageToRelay)
	if err != nil {
		return fmt.Errorf("failed to subscribe to page traffic: %w", err)
	}
	injectedMessages, err := r.sub.Subscribe(ctx, bus.TopicInjectedToRelay)
	if err != nil {
		return fmt.Errorf("failed to subscribe to injected traffic: %w", err)
	}
	go r.consumeWalletEvents(ctx, injectedMessages)

	for msg := range pageMessages {
		env, decodeErr := core.DecodeEnvelope(msg.Payload)
		origin := msg.Metadata.Get(bus.MetaOrigin)
		msg.Ack()
		if decodeErr != nil {
			r.log.Debug("dropping undecodable page message", zap.Error(decodeErr))
			continue
		}
		go func(env core.Envelope, origin string) {
			if resp := r.HandleIncoming(ctx, env, origin); resp != nil {
				r.post(*resp)
			}
		}(env, origin)
	}
	return nil
}

// HandleIncoming runs the full pipeline for one page message. A nil return
// means silent drop; errors are converted into typed ERROR responses at this
// boundary and never escape as faults.
func (r *Router) HandleIncoming(ctx context.Context, env core.Envelope, origin string) *core.Envelope {
	// 1. Origin check, and filter echoed internal control traffic before
	// it can loop.
	if origin != r.origin {
		r.log.Debug("dropping message from unexpected origin", zap.String("origin", origin))
		return nil
	}
	if env.Type.IsInternal() {
		r.log.Debug("filtered echoed internal message", zap.String("type", string(env.Type)))
		return nil
	}

	// 2. Type filter: unknown tags are ignored for forward compatibility.
	if !core.IsPageRequest(env.Type) {
		return nil
	}

	// Redelivered duplicate of a completed request: answer from the cache
	// without re-executing anything.
	if env.RequestID != "" {
		if cached, ok := r.replay.Get(env.RequestID); ok {
			return &cached
		}
	}

	// 3. Rate check. Detection and polling operations are exempt since
	// legitimate callers poll them at UI-refresh frequency, and so is a
	// duplicate that will coalesce into an execution already in flight:
	// joining opens no new wallet prompt.
	joins := false
	if key, ok := dedupKeyFor(env); ok {
		joins = r.inflight.Pending(key)
	}
	if cat, sensitive := categoryFor(env.Type); sensitive && !joins {
		if d := r.limits.Allow(cat, string(env.Type)); !d.Allowed {
			r.log.Debug("rate limited", zap.String("type", string(env.Type)),
				zap.Duration("retryAfter", d.RetryAfter))
			return r.errorResponse(env, &core.Error{
				Code:         core.CodeRateLimited,
				Message:      fmt.Sprintf("too many %s requests, retry in %s", env.Type, d.RetryAfter),
				RetryAfterMs: d.RetryAfter.Milliseconds(),
			})
		}
	}

	// 4-5. Dedup where required, then dispatch.
	payload, err := r.dispatch(ctx, env)
	if err != nil {
		return r.errorResponse(env, err)
	}

	resp, buildErr := core.NewEnvelope(core.ResultTag(env.Type), env.RequestID, payload)
	if buildErr != nil {
		return r.errorResponse(env, buildErr)
	}
	if env.RequestID != "" {
		r.replay.Add(env.RequestID, resp)
	}
	return &resp
}

// dispatch routes by tag. Operations that open a user-facing prompt run
// under the in-flight registry so concurrent duplicates share one execution.
func (r *Router) dispatch(ctx context.Context, env core.Envelope) (any, error) {
	switch env.Type {
	case core.TagCheckExtension:
		return core.CheckExtensionResult{Installed: true, Version: r.version}, nil

	case core.TagGetSession:
		return r.backend.GetSession(ctx)

	case core.TagOpenAuth:
		var req core.OpenAuthRequest
		if len(env.Payload) > 0 {
			if err := env.Decode(&req); err != nil {
				return nil, core.WrapError(core.CodeInvalidRequest, "malformed open_auth payload", err)
			}
		}
		return r.dedup(string(core.TagOpenAuth), func() (any, error) {
			if err := r.wakeExecutor(ctx); err != nil {
				return nil, err
			}
			lease := r.leases.Acquire(ctx, "open_auth")
			defer lease.Release()
			return r.backend.OpenAuth(ctx, req)
		})

	case core.TagWalletConnect:
		return r.dedup(string(core.TagWalletConnect), func() (any, error) {
			accounts, err := r.wallet.RequestAccounts(ctx)
			if err != nil {
				return nil, err
			}
			chainID, err := r.wallet.ChainID(ctx)
			if err != nil {
				return nil, err
			}
			return core.WalletConnectResult{
				Accounts: accounts,
				Address:  accounts[0],
				ChainID:  chainID,
			}, nil
		})

	case core.TagWalletSign:
		var req core.WalletSignRequest
		if err := env.Decode(&req); err != nil {
			return nil, core.WrapError(core.CodeInvalidRequest, "malformed wallet_sign payload", err)
		}
		// Distinct messages must never be coalesced against each other, so
		// the dedup key includes the canonical params.
		return r.dedup(signKey(req), func() (any, error) {
			sig, err := r.wallet.PersonalSign(ctx, req.Message, req.Address)
			if err != nil {
				return nil, err
			}
			return core.WalletSignResult{Signature: sig}, nil
		})

	case core.TagStoreSession:
		var req core.StoreSessionRequest
		if err := env.Decode(&req); err != nil {
			return nil, core.WrapError(core.CodeInvalidRequest, "malformed store_session payload", err)
		}
		if err := r.wakeExecutor(ctx); err != nil {
			return nil, err
		}
		if err := r.backend.StoreSession(ctx, req); err != nil {
			return nil, err
		}
		return core.AckResult{OK: true}, nil

	case core.TagClearSession:
		if err := r.wakeExecutor(ctx); err != nil {
			return nil, err
		}
		if err := r.backend.ClearSession(ctx); err != nil {
			return nil, err
		}
		return core.AckResult{OK: true}, nil

	case core.TagDisconnect:
		if err := r.wakeExecutor(ctx); err != nil {
			return nil, err
		}
		if err := r.backend.Disconnect(ctx); err != nil {
			return nil, err
		}
		return core.AckResult{OK: true}, nil

	case core.TagSetAccountMode:
		var req core.SetAccountModeRequest
		if err := env.Decode(&req); err != nil {
			return nil, core.WrapError(core.CodeInvalidRequest, "malformed set_account_mode payload", err)
		}
		if err := r.wakeExecutor(ctx); err != nil {
			return nil, err
		}
		if err := r.backend.SetAccountMode(ctx, req.Mode); err != nil {
			return nil, err
		}
		return core.AckResult{OK: true}, nil

	default:
		return nil, core.NewError(core.CodeInvalidRequest,
			fmt.Sprintf("unhandled request type %q", env.Type))
	}
}

func (r *Router) dedup(key string, fn func() (any, error)) (any, error) {
	value, shared, err := r.inflight.Do(key, fn)
	if shared {
		r.log.Debug("request joined in-flight duplicate", zap.String("key", key))
	}
	return value, err
}

// wakeExecutor runs the advisory health gate before operations that need
// the background context. Only a fatal init failure blocks the call.
func (r *Router) wakeExecutor(ctx context.Context) error {
	if r.monitor == nil {
		return nil
	}
	return r.monitor.EnsureAlive(ctx)
}

func (r *Router) errorResponse(req core.Envelope, cause error) *core.Envelope {
	r.log.Warn("request failed",
		zap.String("type", string(req.Type)),
		zap.String("requestId", req.RequestID),
		zap.Error(cause))
	env, err := core.NewEnvelope(core.TagError, req.RequestID,
		core.ErrorPayloadFor(cause, req.Type, req.RequestID))
	if err != nil {
		r.log.Error("failed to build error response", zap.Error(err))
		return nil
	}
	return &env
}

func (r *Router) post(env core.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		r.log.Error("failed to encode response", zap.Error(err))
		return
	}
	msg := message.NewMessage(uuid.New().String(), raw)
	msg.Metadata.Set(bus.MetaOrigin, r.origin)
	if err := r.pub.Publish(bus.TopicRelayToPage, msg); err != nil {
		r.log.Error("failed to post response to page", zap.Error(err))
	}
}

// consumeWalletEvents reconciles provider events against stored state. An
// empty accountsChanged means the wallet disconnected out from under us.
func (r *Router) consumeWalletEvents(ctx context.Context, messages <-chan *message.Message) {
	for msg := range messages {
		env, err := core.DecodeEnvelope(msg.Payload)
		msg.Ack()
		if err != nil || env.Type != core.TagWalletEvent {
			continue
		}
		var ev core.WalletEvent
		if err := env.Decode(&ev); err != nil {
			continue
		}
		switch ev.Kind {
		case core.WalletEventAccountsChanged:
			if len(ev.Accounts) == 0 {
				r.log.Info("wallet disconnected, clearing stored session")
				if err := r.backend.ClearSession(ctx); err != nil {
					r.log.Warn("failed to clear session after wallet disconnect", zap.Error(err))
				}
			}
		case core.WalletEventDisconnected:
			if err := r.backend.ClearSession(ctx); err != nil {
				r.log.Warn("failed to clear session after provider disconnect", zap.Error(err))
			}
		case core.WalletEventChainChanged:
			r.log.Info("wallet chain changed", zap.Uint64("chainId", ev.ChainID))
		}
	}
}

// categoryFor maps a tag to its limiter category. The second return is
// false for exempt polling operations.
func categoryFor(t core.Tag) (ratelimit.Category, bool) {
	switch t {
	case core.TagCheckExtension, core.TagGetSession:
		return "", false
	case core.TagOpenAuth:
		return ratelimit.CategoryAuthStart, true
	case core.TagWalletConnect, core.TagWalletSign:
		return ratelimit.CategoryWalletOp, true
	default:
		return ratelimit.CategoryPageMessage, true
	}
}

// dedupKeyFor returns the in-flight key for tags that run under the dedup
// registry. The second return is false for tags that never coalesce.
func dedupKeyFor(env core.Envelope) (string, bool) {
	switch env.Type {
	case core.TagOpenAuth, core.TagWalletConnect:
		return string(env.Type), true
	case core.TagWalletSign:
		var req core.WalletSignRequest
		if err := env.Decode(&req); err != nil {
			return "", false
		}
		return signKey(req), true
	default:
		return "", false
	}
}

func signKey(req core.WalletSignRequest) string {
	sum := sha256.Sum256([]byte(req.Address + "\x00" + req.Message))
	return string(core.TagWalletSign) + ":" + hex.EncodeToString(sum[:8])
}
