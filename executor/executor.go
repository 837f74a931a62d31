package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/bifrost/bus"
	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

// Executor is the background context entry point. It serves forwarded page
// operations, answers liveness pings, and accepts lease heartbeats. All
// mutable state is owned by the instance; nothing lives at package level.
type Executor struct {
	flows    *FlowService
	sessions *SessionService
	pub      message.Publisher
	sub      message.Subscriber
	origin   string
	clock    ports.Clock
	log      *zap.Logger

	mu               sync.Mutex
	ready            bool
	mainModuleLoaded bool
	lastError        string
}

// New assembles an executor. It reports mainModuleLoaded=false until Run has
// attached to the bus, and ready=false until async initialization finished.
func New(
	flows *FlowService,
	sessions *SessionService,
	pub message.Publisher,
	sub message.Subscriber,
	origin string,
	clock ports.Clock,
	log *zap.Logger,
) *Executor {
	return &Executor{
		flows:    flows,
		sessions: sessions,
		pub:      pub,
		sub:      sub,
		origin:   origin,
		clock:    clock,
		log:      log.Named("executor"),
	}
}

// Run serves the background topic until ctx is canceled. Initialization
// failures are recorded so PONG responses can report them as fatal.
func (e *Executor) Run(ctx context.Context) error {
	messages, err := e.sub.Subscribe(ctx, bus.TopicRelayToBackground)
	if err != nil {
		e.setBootState(false, false, err.Error())
		return fmt.Errorf("failed to attach executor to bus: %w", err)
	}
	e.setBootState(false, true, "")

	// Startup recovery: rewrite any unsafe persisted flow state before
	// accepting operations, so a flow interrupted by suspension never
	// resumes into a dangling external call.
	if _, _, err := e.flows.GetResumePoint(ctx); err != nil {
		e.log.Warn("flow recovery on boot failed", zap.Error(err))
		e.setBootState(false, true, err.Error())
	} else {
		e.setBootState(true, true, "")
	}

	for msg := range messages {
		env, err := core.DecodeEnvelope(msg.Payload)
		msg.Ack()
		if err != nil {
			e.log.Debug("dropping undecodable message", zap.Error(err))
			continue
		}
		go e.handle(ctx, env)
	}
	return nil
}

// handle dispatches one envelope. Handler failures never escape as faults;
// they become typed error responses carrying the original tag and id.
func (e *Executor) handle(ctx context.Context, env core.Envelope) {
	var (
		payload any
		err     error
	)

	switch env.Type {
	case core.TagPing:
		e.reply(core.TagPong, env.RequestID, e.pong())
		return

	case core.TagKeepAlive:
		// A heartbeat only needs to arrive; processing it is what resets
		// the host's idle-suspension timer.
		e.reply(core.TagKeepAlive, env.RequestID, core.AckResult{OK: true})
		return

	case core.TagOpenAuth:
		var req core.OpenAuthRequest
		if len(env.Payload) > 0 {
			if decodeErr := env.Decode(&req); decodeErr != nil {
				err = core.WrapError(core.CodeInvalidRequest, "malformed open_auth payload", decodeErr)
				break
			}
		}
		payload, err = e.flows.OpenAuth(ctx, req.Mode)

	case core.TagGetSession:
		payload, err = e.sessions.GetSession(ctx)

	case core.TagDisconnect:
		err = e.sessions.Disconnect(ctx)
		payload = core.AckResult{OK: err == nil}

	case core.TagStoreSession:
		var req core.StoreSessionRequest
		if decodeErr := env.Decode(&req); decodeErr != nil {
			err = core.WrapError(core.CodeInvalidRequest, "malformed store_session payload", decodeErr)
			break
		}
		err = e.sessions.StoreSession(ctx, req)
		payload = core.AckResult{OK: err == nil}

	case core.TagClearSession:
		err = e.sessions.ClearSession(ctx)
		payload = core.AckResult{OK: err == nil}

	case core.TagSetAccountMode:
		var req core.SetAccountModeRequest
		if decodeErr := env.Decode(&req); decodeErr != nil {
			err = core.WrapError(core.CodeInvalidRequest, "malformed set_account_mode payload", decodeErr)
			break
		}
		err = e.sessions.SetAccountMode(ctx, req.Mode)
		payload = core.AckResult{OK: err == nil}

	default:
		// Unknown tags are ignored for forward compatibility.
		return
	}

	if err != nil {
		e.replyError(env, err)
		return
	}
	e.reply(core.ResultTag(env.Type), env.RequestID, payload)
}

func (e *Executor) pong() core.PongPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return core.PongPayload{
		Timestamp:        e.clock.Now(),
		Ready:            e.ready,
		MainModuleLoaded: e.mainModuleLoaded,
		LastError:        e.lastError,
	}
}

func (e *Executor) setBootState(ready, loaded bool, lastErr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = ready
	e.mainModuleLoaded = loaded
	e.lastError = lastErr
}

func (e *Executor) reply(tag core.Tag, requestID string, payload any) {
	env, err := core.NewEnvelope(tag, requestID, payload)
	if err != nil {
		e.log.Error("failed to build response", zap.Error(err))
		return
	}
	e.publish(env)
}

func (e *Executor) replyError(req core.Envelope, cause error) {
	env, err := core.NewEnvelope(core.TagError, req.RequestID,
		core.ErrorPayloadFor(cause, req.Type, req.RequestID))
	if err != nil {
		e.log.Error("failed to build error response", zap.Error(err))
		return
	}
	e.publish(env)
}

func (e *Executor) publish(env core.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		e.log.Error("failed to encode response", zap.Error(err))
		return
	}
	msg := message.NewMessage(uuid.New().String(), raw)
	msg.Metadata.Set(bus.MetaOrigin, e.origin)
	if err := e.pub.Publish(bus.TopicBackgroundToRelay, msg); err != nil {
		e.log.Error("failed to publish response", zap.Error(err))
	}
}
