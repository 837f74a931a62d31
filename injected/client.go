package injected

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/bifrost/bus"
	"github.com/layer-3/bifrost/core"
)

// Client exposes the injected context's wallet as a ports.WalletProvider
// over the bus. The relay owns one instance.
type Client struct {
	conduit *bus.Conduit
	timeout time.Duration
}

// NewClient wraps a conduit whose send topic is the injected context's
// inbound topic.
func NewClient(conduit *bus.Conduit) *Client {
	return &Client{conduit: conduit, timeout: WalletCallTimeout}
}

func (c *Client) RequestAccounts(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, core.WalletRequest{Call: core.WalletCallRequestAccounts})
	if err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	resp, err := c.call(ctx, core.WalletRequest{Call: core.WalletCallChainID})
	if err != nil {
		return 0, err
	}
	return resp.ChainID, nil
}

func (c *Client) PersonalSign(ctx context.Context, msg, address string) (string, error) {
	resp, err := c.call(ctx, core.WalletRequest{
		Call:    core.WalletCallPersonalSign,
		Message: msg,
		Address: address,
	})
	if err != nil {
		return "", err
	}
	return resp.Signature, nil
}

func (c *Client) call(ctx context.Context, req core.WalletRequest) (core.WalletResponse, error) {
	env, err := core.NewEnvelope(core.TagWalletRequest, "", req)
	if err != nil {
		return core.WalletResponse{}, err
	}

	reply, err := c.conduit.Request(ctx, env, c.timeout)
	if err != nil {
		return core.WalletResponse{}, err
	}

	var resp core.WalletResponse
	if err := reply.Decode(&resp); err != nil {
		return core.WalletResponse{}, fmt.Errorf("malformed wallet response: %w", err)
	}
	if resp.ErrCode != "" {
		return core.WalletResponse{}, core.NewError(resp.ErrCode, resp.ErrMsg)
	}
	return resp, nil
}
