// Package store provides the storage compartment adapters. The durable
// compartment lives in redis and survives restarts; the volatile compartment
// is process memory and is intentionally lost on restart, which is the
// security boundary keeping session tokens from outliving the browser
// session.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/bifrost/core"
)

const (
	recordKey      = "bifrost:session:record"
	flowKey        = "bifrost:auth:flow"
	invalidatedKey = "bifrost:invalidated:"
)

// flowTTL keeps abandoned flow records from lingering past their
// abandonment horizon even if nothing reads them again.
const flowTTL = core.FlowMaxAge + time.Minute

// RedisStore implements the durable compartment and the verifier's token
// invalidation store on redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SaveRecord stores the durable connection record.
func (s *RedisStore) SaveRecord(ctx context.Context, record *core.DurableRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := s.client.Set(ctx, recordKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to store session record: %w", err)
	}
	return nil
}

// LoadRecord returns (nil, nil) when no record exists.
func (s *RedisStore) LoadRecord(ctx context.Context) (*core.DurableRecord, error) {
	raw, err := s.client.Get(ctx, recordKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}
	var record core.DurableRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

// ClearRecord removes the durable record.
func (s *RedisStore) ClearRecord(ctx context.Context) error {
	if err := s.client.Del(ctx, recordKey).Err(); err != nil {
		return fmt.Errorf("failed to clear session record: %w", err)
	}
	return nil
}

// SaveFlow persists the auth flow record.
func (s *RedisStore) SaveFlow(ctx context.Context, flow *core.AuthFlow) error {
	raw, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal auth flow: %w", err)
	}
	if err := s.client.Set(ctx, flowKey, raw, flowTTL).Err(); err != nil {
		return fmt.Errorf("failed to store auth flow: %w", err)
	}
	return nil
}

// LoadFlow returns (nil, nil) when no flow exists.
func (s *RedisStore) LoadFlow(ctx context.Context) (*core.AuthFlow, error) {
	raw, err := s.client.Get(ctx, flowKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth flow: %w", err)
	}
	var flow core.AuthFlow
	if err := json.Unmarshal(raw, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auth flow: %w", err)
	}
	return &flow, nil
}

// ClearFlow removes the flow record.
func (s *RedisStore) ClearFlow(ctx context.Context) error {
	if err := s.client.Del(ctx, flowKey).Err(); err != nil {
		return fmt.Errorf("failed to clear auth flow: %w", err)
	}
	return nil
}

// InvalidateToken marks a verifier session id as revoked until its natural
// expiry.
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if err := s.client.Set(ctx, invalidatedKey+tokenID, "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	return nil
}

// IsTokenInvalidated checks the revocation mark.
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	count, err := s.client.Exists(ctx, invalidatedKey+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	return count > 0, nil
}
