package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

// Conduit performs correlated request/response exchanges over a pair of
// topics. Responses are matched to requests purely by request id; uncorrelated
// messages on the reply topic are ignored.
type Conduit struct {
	pub       message.Publisher
	sendTopic string
	origin    string
	clock     ports.Clock
	log       *zap.Logger

	mu      sync.Mutex
	pending map[string]chan core.Envelope
}

// NewConduit subscribes to replyTopic and starts the demux loop, which runs
// until ctx is canceled.
func NewConduit(
	ctx context.Context,
	pub message.Publisher,
	sub message.Subscriber,
	sendTopic, replyTopic, origin string,
	clock ports.Clock,
	log *zap.Logger,
) (*Conduit, error) {
	messages, err := sub.Subscribe(ctx, replyTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", replyTopic, err)
	}

	c := &Conduit{
		pub:       pub,
		sendTopic: sendTopic,
		origin:    origin,
		clock:     clock,
		log:       log,
		pending:   make(map[string]chan core.Envelope),
	}
	go c.demux(messages)
	return c, nil
}

// Request publishes env and blocks until the correlated response arrives,
// ctx is canceled, or timeout elapses. Expiry is a reportable error, not a
// crash.
func (c *Conduit) Request(ctx context.Context, env core.Envelope, timeout time.Duration) (core.Envelope, error) {
	if env.RequestID == "" {
		env.RequestID = uuid.New().String()
	}

	ch := make(chan core.Envelope, 1)
	c.mu.Lock()
	c.pending[env.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.RequestID)
		c.mu.Unlock()
	}()

	if err := c.Publish(env); err != nil {
		return core.Envelope{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return core.Envelope{}, core.WrapError(core.CodeRequestTimeout,
			fmt.Sprintf("%s request canceled", env.Type), ctx.Err())
	case <-c.clock.After(timeout):
		return core.Envelope{}, core.NewError(core.CodeRequestTimeout,
			fmt.Sprintf("%s request timed out after %s", env.Type, timeout))
	}
}

// Publish sends env on the conduit's outbound topic without waiting.
func (c *Conduit) Publish(env core.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	msg := message.NewMessage(uuid.New().String(), raw)
	msg.Metadata.Set(MetaOrigin, c.origin)
	if err := c.pub.Publish(c.sendTopic, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", env.Type, c.sendTopic, err)
	}
	return nil
}

func (c *Conduit) demux(messages <-chan *message.Message) {
	for msg := range messages {
		env, err := core.DecodeEnvelope(msg.Payload)
		msg.Ack()
		if err != nil {
			c.log.Debug("dropping undecodable reply", zap.Error(err))
			continue
		}
		if env.RequestID == "" {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[env.RequestID]
		if ok {
			delete(c.pending, env.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}
