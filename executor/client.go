package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/bifrost/bus"
	"github.com/layer-3/bifrost/core"
)

const (
	// RoundTripTimeout bounds a forwarded page operation end to end.
	RoundTripTimeout = 60 * time.Second

	// PingTimeout is deliberately short; an executor that cannot answer a
	// ping quickly is treated as suspended.
	PingTimeout = 2 * time.Second
)

// Client reaches the background executor over the bus. The relay owns one
// instance; it also serves as the health monitor's pinger and the lease
// keeper's heartbeat sink.
type Client struct {
	conduit *bus.Conduit
}

// NewClient wraps a conduit whose send topic is the background inbound topic.
func NewClient(conduit *bus.Conduit) *Client {
	return &Client{conduit: conduit}
}

func (c *Client) OpenAuth(ctx context.Context, req core.OpenAuthRequest) (core.OpenAuthResult, error) {
	var result core.OpenAuthResult
	err := c.roundTrip(ctx, core.TagOpenAuth, req, &result)
	return result, err
}

func (c *Client) GetSession(ctx context.Context) (core.GetSessionResult, error) {
	var result core.GetSessionResult
	err := c.roundTrip(ctx, core.TagGetSession, nil, &result)
	return result, err
}

func (c *Client) Disconnect(ctx context.Context) error {
	var ack core.AckResult
	return c.roundTrip(ctx, core.TagDisconnect, nil, &ack)
}

func (c *Client) StoreSession(ctx context.Context, req core.StoreSessionRequest) error {
	var ack core.AckResult
	return c.roundTrip(ctx, core.TagStoreSession, req, &ack)
}

func (c *Client) ClearSession(ctx context.Context) error {
	var ack core.AckResult
	return c.roundTrip(ctx, core.TagClearSession, nil, &ack)
}

func (c *Client) SetAccountMode(ctx context.Context, mode core.AccountMode) error {
	var ack core.AckResult
	return c.roundTrip(ctx, core.TagSetAccountMode, core.SetAccountModeRequest{Mode: mode}, &ack)
}

// Ping implements ports.Pinger.
func (c *Client) Ping(ctx context.Context) (core.PongPayload, error) {
	env, err := core.NewEnvelope(core.TagPing, "", nil)
	if err != nil {
		return core.PongPayload{}, err
	}
	reply, err := c.conduit.Request(ctx, env, PingTimeout)
	if err != nil {
		return core.PongPayload{}, err
	}
	var pong core.PongPayload
	if err := reply.Decode(&pong); err != nil {
		return core.PongPayload{}, fmt.Errorf("malformed pong: %w", err)
	}
	return pong, nil
}

// KeepAlive implements ports.KeepAliver. The exchange itself is the point:
// handling the message resets the host's idle-suspension timer.
func (c *Client) KeepAlive(ctx context.Context, leaseID string) error {
	env, err := core.NewEnvelope(core.TagKeepAlive, leaseID, nil)
	if err != nil {
		return err
	}
	_, err = c.conduit.Request(ctx, env, PingTimeout)
	return err
}

func (c *Client) roundTrip(ctx context.Context, tag core.Tag, payload, out any) error {
	env, err := core.NewEnvelope(tag, "", payload)
	if err != nil {
		return err
	}
	reply, err := c.conduit.Request(ctx, env, RoundTripTimeout)
	if err != nil {
		return err
	}
	if reply.Type == core.TagError {
		var ep core.ErrorPayload
		if decodeErr := reply.Decode(&ep); decodeErr != nil {
			return core.NewError(core.CodeUnknown, "executor returned an unreadable error")
		}
		return &core.Error{Code: ep.Code, Message: ep.Message, RetryAfterMs: ep.RetryAfterMs}
	}
	if out == nil {
		return nil
	}
	return reply.Decode(out)
}
