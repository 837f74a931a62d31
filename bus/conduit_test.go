package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

const testOrigin = "https://app.example.com"

func newTestConduit(t *testing.T, clock ports.Clock) (*Conduit, *gochannel.GoChannel) {
	t.Helper()
	channel := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = channel.Close() })

	conduit, err := NewConduit(context.Background(), channel, channel,
		TopicRelayToBackground, TopicBackgroundToRelay, testOrigin,
		clock, zap.NewNop())
	require.NoError(t, err)
	return conduit, channel
}

// echoBackend answers every request on the reply topic with a tagged result
// carrying the same request id.
func echoBackend(t *testing.T, channel *gochannel.GoChannel) {
	t.Helper()
	messages, err := channel.Subscribe(context.Background(), TopicRelayToBackground)
	require.NoError(t, err)
	go func() {
		for msg := range messages {
			env, err := core.DecodeEnvelope(msg.Payload)
			msg.Ack()
			if err != nil {
				continue
			}
			reply, err := core.NewEnvelope(core.ResultTag(env.Type), env.RequestID,
				core.AckResult{OK: true})
			if err != nil {
				continue
			}
			raw, _ := reply.Encode()
			out := message.NewMessage(watermill.NewUUID(), raw)
			_ = channel.Publish(TopicBackgroundToRelay, out)
		}
	}()
}

func TestConduitCorrelatesByRequestID(t *testing.T) {
	conduit, channel := newTestConduit(t, ports.SystemClock{})
	echoBackend(t, channel)

	env, err := core.NewEnvelope(core.TagClearSession, "req-1", nil)
	require.NoError(t, err)

	resp, err := conduit.Request(context.Background(), env, time.Second)
	require.NoError(t, err)
	assert.Equal(t, core.TagClearSessionResult, resp.Type)
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestConduitAssignsRequestID(t *testing.T) {
	conduit, channel := newTestConduit(t, ports.SystemClock{})
	echoBackend(t, channel)

	env, err := core.NewEnvelope(core.TagGetSession, "", nil)
	require.NoError(t, err)

	resp, err := conduit.Request(context.Background(), env, time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RequestID)
}

func TestConduitTimeout(t *testing.T) {
	// No backend subscribed: the request must expire, not hang.
	conduit, _ := newTestConduit(t, ports.SystemClock{})

	env, err := core.NewEnvelope(core.TagGetSession, "req-2", nil)
	require.NoError(t, err)

	_, err = conduit.Request(context.Background(), env, 20*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, core.CodeRequestTimeout, core.CodeOf(err))
}

func TestConduitIgnoresUncorrelatedReply(t *testing.T) {
	conduit, channel := newTestConduit(t, ports.SystemClock{})

	stray, err := core.NewEnvelope(core.TagGetSessionResult, "nobody-waits", nil)
	require.NoError(t, err)
	raw, err := stray.Encode()
	require.NoError(t, err)
	require.NoError(t, channel.Publish(TopicBackgroundToRelay,
		message.NewMessage(watermill.NewUUID(), raw)))

	env, err := core.NewEnvelope(core.TagGetSession, "req-3", nil)
	require.NoError(t, err)
	_, err = conduit.Request(context.Background(), env, 20*time.Millisecond)
	assert.Equal(t, core.CodeRequestTimeout, core.CodeOf(err))
}

func TestConduitContextCancellation(t *testing.T) {
	conduit, _ := newTestConduit(t, ports.SystemClock{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env, err := core.NewEnvelope(core.TagGetSession, "req-4", nil)
	require.NoError(t, err)
	_, err = conduit.Request(ctx, env, time.Second)
	require.Error(t, err)
	assert.Equal(t, core.CodeRequestTimeout, core.CodeOf(err))
}

func TestPublishStampsOrigin(t *testing.T) {
	conduit, channel := newTestConduit(t, ports.SystemClock{})
	messages, err := channel.Subscribe(context.Background(), TopicRelayToBackground)
	require.NoError(t, err)

	env, err := core.NewEnvelope(core.TagKeepAlive, "req-5", nil)
	require.NoError(t, err)
	require.NoError(t, conduit.Publish(env))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, testOrigin, msg.Metadata.Get(MetaOrigin))
	case <-time.After(time.Second):
		t.Fatal("published message never arrived")
	}
}
