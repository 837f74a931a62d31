package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

// SessionService reads and writes the two storage compartments and keeps the
// rest of the system informed when the stored session changes.
type SessionService struct {
	durable  ports.DurableStore
	volatile ports.VolatileStore
	api      ports.AuthAPI
	events   ports.EventPublisher
	clock    ports.Clock
	log      *zap.Logger
}

// NewSessionService wires the session compartments.
func NewSessionService(
	durable ports.DurableStore,
	volatile ports.VolatileStore,
	api ports.AuthAPI,
	events ports.EventPublisher,
	clock ports.Clock,
	log *zap.Logger,
) *SessionService {
	return &SessionService{
		durable:  durable,
		volatile: volatile,
		api:      api,
		events:   events,
		clock:    clock,
		log:      log.Named("session"),
	}
}

// GetSession derives the current session from both compartments. Partial
// state never authorizes; the display address still surfaces for UI.
func (s *SessionService) GetSession(ctx context.Context) (core.GetSessionResult, error) {
	record, err := s.durable.LoadRecord(ctx)
	if err != nil {
		return core.GetSessionResult{}, core.WrapError(core.CodeSessionStorageFailed,
			"failed to read durable session state", err)
	}
	token, err := s.volatile.Token(ctx)
	if err != nil {
		return core.GetSessionResult{}, core.WrapError(core.CodeSessionStorageFailed,
			"failed to read session token", err)
	}
	session, display := core.DeriveSession(record, token)
	return core.GetSessionResult{Session: session, DisplayAddress: display}, nil
}

// StoreSession persists a completed handshake into both compartments and
// broadcasts the change.
func (s *SessionService) StoreSession(ctx context.Context, req core.StoreSessionRequest) error {
	if req.Address == "" || req.Token == "" {
		return core.NewError(core.CodeInvalidRequest, "session requires both address and token")
	}
	if !req.Mode.Valid() {
		return core.NewError(core.CodeInvalidRequest, fmt.Sprintf("unknown account mode %q", req.Mode))
	}

	record := &core.DurableRecord{
		Address:         req.Address,
		ChainID:         req.ChainID,
		AccountMode:     req.Mode,
		LastConnectedAt: s.clock.Now(),
	}
	if err := s.durable.SaveRecord(ctx, record); err != nil {
		return core.WrapError(core.CodeSessionStorageFailed, "failed to store session record", err)
	}
	if err := s.volatile.SetToken(ctx, req.Token); err != nil {
		return core.WrapError(core.CodeSessionStorageFailed, "failed to store session token", err)
	}

	s.broadcast(ctx, core.SessionChangedEvent{
		Address:   req.Address,
		ChainID:   req.ChainID,
		Mode:      req.Mode,
		Connected: true,
		At:        s.clock.Now(),
	})
	return nil
}

// ClearSession wipes both compartments and broadcasts the disconnect.
func (s *SessionService) ClearSession(ctx context.Context) error {
	if err := s.volatile.ClearToken(ctx); err != nil {
		return core.WrapError(core.CodeSessionStorageFailed, "failed to clear session token", err)
	}
	if err := s.durable.ClearRecord(ctx); err != nil {
		return core.WrapError(core.CodeSessionStorageFailed, "failed to clear session record", err)
	}
	s.broadcast(ctx, core.SessionChangedEvent{Connected: false, At: s.clock.Now()})
	return nil
}

// Disconnect tells the verifier to drop the session, then clears local
// state. The remote call is best-effort; local cleanup always proceeds.
func (s *SessionService) Disconnect(ctx context.Context) error {
	token, err := s.volatile.Token(ctx)
	if err == nil && token != "" {
		if err := s.api.Disconnect(ctx, token); err != nil {
			s.log.Warn("remote disconnect failed, clearing local state anyway", zap.Error(err))
		}
	}
	return s.ClearSession(ctx)
}

// SetAccountMode switches the demo/live surface. The volatile token is
// cleared because a session never spans modes.
func (s *SessionService) SetAccountMode(ctx context.Context, mode core.AccountMode) error {
	if !mode.Valid() {
		return core.NewError(core.CodeInvalidRequest, fmt.Sprintf("unknown account mode %q", mode))
	}

	record, err := s.durable.LoadRecord(ctx)
	if err != nil {
		return core.WrapError(core.CodeSessionStorageFailed, "failed to read session record", err)
	}
	if record == nil {
		record = &core.DurableRecord{}
	}
	if record.AccountMode == mode {
		return nil
	}

	record.AccountMode = mode
	if err := s.durable.SaveRecord(ctx, record); err != nil {
		return core.WrapError(core.CodeSessionStorageFailed, "failed to store account mode", err)
	}
	if err := s.volatile.ClearToken(ctx); err != nil {
		return core.WrapError(core.CodeSessionStorageFailed, "failed to clear session token", err)
	}

	s.broadcast(ctx, core.SessionChangedEvent{
		Address:   record.Address,
		ChainID:   record.ChainID,
		Mode:      mode,
		Connected: false,
		At:        s.clock.Now(),
	})
	return nil
}

func (s *SessionService) broadcast(ctx context.Context, event core.SessionChangedEvent) {
	if s.events == nil {
		return
	}
	// Best-effort only; receivers reconcile against persisted state.
	if err := s.events.PublishSessionChanged(ctx, event); err != nil {
		s.log.Warn("failed to publish session change", zap.Error(err))
	}
}
