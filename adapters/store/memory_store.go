package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/bifrost/core"
)

// MemoryStore is an in-memory implementation of both compartments and the
// invalidation store. It backs the volatile compartment in production (the
// token must die with the process) and everything in tests.
type MemoryStore struct {
	mu          sync.RWMutex
	record      *core.DurableRecord
	flow        *core.AuthFlow
	token       string
	invalidated map[string]time.Time
	now         func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invalidated: make(map[string]time.Time),
		now:         time.Now,
	}
}

func (s *MemoryStore) SaveRecord(_ context.Context, record *core.DurableRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.record = &copied
	return nil
}

func (s *MemoryStore) LoadRecord(context.Context) (*core.DurableRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return nil, nil
	}
	copied := *s.record
	return &copied, nil
}

func (s *MemoryStore) ClearRecord(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	return nil
}

func (s *MemoryStore) SaveFlow(_ context.Context, flow *core.AuthFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *flow
	s.flow = &copied
	return nil
}

func (s *MemoryStore) LoadFlow(context.Context) (*core.AuthFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.flow == nil {
		return nil, nil
	}
	copied := *s.flow
	return &copied, nil
}

func (s *MemoryStore) ClearFlow(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow = nil
	return nil
}

func (s *MemoryStore) SetToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) ClearToken(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

func (s *MemoryStore) InvalidateToken(_ context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated[tokenID] = s.now().Add(expiry)
	return nil
}

func (s *MemoryStore) IsTokenInvalidated(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	until, ok := s.invalidated[tokenID]
	return ok && s.now().Before(until), nil
}

// Reset wipes everything, for tests.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	s.flow = nil
	s.token = ""
	s.invalidated = make(map[string]time.Time)
}
