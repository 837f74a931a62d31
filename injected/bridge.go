// Package injected hosts the page-realm side of the wallet relay: the bridge
// that owns the wallet provider, and the bus client other contexts use to
// reach it.
package injected

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/bifrost/bus"
	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

// WalletCallTimeout bounds a single wallet RPC, which may be waiting on a
// user prompt the whole time.
const WalletCallTimeout = 45 * time.Second

// Bridge executes wallet RPCs on behalf of the relay and pumps provider
// events back to it.
type Bridge struct {
	provider ports.WalletProvider
	events   ports.WalletEventSource
	pub      message.Publisher
	sub      message.Subscriber
	origin   string
	log      *zap.Logger
}

// NewBridge wires the bridge to its provider. events may be nil when the
// provider has no event surface.
func NewBridge(
	provider ports.WalletProvider,
	events ports.WalletEventSource,
	pub message.Publisher,
	sub message.Subscriber,
	origin string,
	log *zap.Logger,
) *Bridge {
	return &Bridge{
		provider: provider,
		events:   events,
		pub:      pub,
		sub:      sub,
		origin:   origin,
		log:      log.Named("injected"),
	}
}

// Run serves wallet requests until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	messages, err := b.sub.Subscribe(ctx, bus.TopicRelayToInjected)
	if err != nil {
		return fmt.Errorf("failed to subscribe to wallet requests: %w", err)
	}

	if b.events != nil {
		eventCh, cancel, err := b.events.Subscribe(ctx)
		if err != nil {
			b.log.Warn("wallet event subscription unavailable", zap.Error(err))
		} else {
			go b.pumpEvents(eventCh, cancel)
		}
	}

	for msg := range messages {
		env, err := core.DecodeEnvelope(msg.Payload)
		msg.Ack()
		if err != nil || env.Type != core.TagWalletRequest {
			continue
		}
		go b.serve(ctx, env)
	}
	return nil
}

func (b *Bridge) serve(ctx context.Context, env core.Envelope) {
	var req core.WalletRequest
	resp := core.WalletResponse{}
	if err := env.Decode(&req); err != nil {
		resp.ErrCode = core.CodeInvalidRequest
		resp.ErrMsg = "malformed wallet request"
	} else {
		resp = b.execute(ctx, req)
	}
	b.reply(env.RequestID, resp)
}

func (b *Bridge) execute(ctx context.Context, req core.WalletRequest) core.WalletResponse {
	callCtx, cancel := context.WithTimeout(ctx, WalletCallTimeout)
	defer cancel()

	switch req.Call {
	case core.WalletCallRequestAccounts:
		accounts, err := b.provider.RequestAccounts(callCtx)
		if err != nil {
			return walletFailure(err, core.CodeWalletConnectionFailed)
		}
		if len(accounts) == 0 {
			return core.WalletResponse{ErrCode: core.CodeNoWallet, ErrMsg: "wallet returned no accounts"}
		}
		chainID, err := b.provider.ChainID(callCtx)
		if err != nil {
			return walletFailure(err, core.CodeWalletConnectionFailed)
		}
		return core.WalletResponse{Accounts: accounts, ChainID: chainID}

	case core.WalletCallChainID:
		chainID, err := b.provider.ChainID(callCtx)
		if err != nil {
			return walletFailure(err, core.CodeWalletConnectionFailed)
		}
		return core.WalletResponse{ChainID: chainID}

	case core.WalletCallPersonalSign:
		sig, err := b.provider.PersonalSign(callCtx, req.Message, req.Address)
		if err != nil {
			return walletFailure(err, core.CodeSigningFailed)
		}
		return core.WalletResponse{Signature: sig}

	default:
		return core.WalletResponse{ErrCode: core.CodeInvalidRequest, ErrMsg: fmt.Sprintf("unknown wallet call %q", req.Call)}
	}
}

// walletFailure maps provider errors onto the wire taxonomy. EIP-1193 code
// 4001 always becomes USER_REJECTED; timeouts stay distinct so the UI can
// offer a retry.
func walletFailure(err error, fallback core.Code) core.WalletResponse {
	var rpcErr *ports.RPCError
	switch {
	case errors.As(err, &rpcErr) && rpcErr.Code == ports.UserRejectedCode:
		return core.WalletResponse{ErrCode: core.CodeUserRejected, ErrMsg: "user rejected the request"}
	case errors.Is(err, context.DeadlineExceeded):
		return core.WalletResponse{ErrCode: core.CodeRequestTimeout, ErrMsg: "wallet request timed out"}
	default:
		return core.WalletResponse{ErrCode: fallback, ErrMsg: err.Error()}
	}
}

func (b *Bridge) reply(requestID string, resp core.WalletResponse) {
	env, err := core.NewEnvelope(core.TagWalletResponse, requestID, resp)
	if err != nil {
		b.log.Error("failed to build wallet response", zap.Error(err))
		return
	}
	b.publish(env)
}

func (b *Bridge) pumpEvents(events <-chan core.WalletEvent, cancel func()) {
	defer cancel()
	for ev := range events {
		env, err := core.NewEnvelope(core.TagWalletEvent, "", ev)
		if err != nil {
			b.log.Error("failed to build wallet event", zap.Error(err))
			continue
		}
		b.publish(env)
		b.log.Debug("wallet event forwarded", zap.String("kind", string(ev.Kind)))
	}
}

func (b *Bridge) publish(env core.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		b.log.Error("failed to encode envelope", zap.Error(err))
		return
	}
	msg := message.NewMessage(uuid.New().String(), raw)
	msg.Metadata.Set(bus.MetaOrigin, b.origin)
	if err := b.pub.Publish(bus.TopicInjectedToRelay, msg); err != nil {
		b.log.Error("failed to publish to relay", zap.Error(err))
	}
}
