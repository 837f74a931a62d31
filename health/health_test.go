package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

// fakeClock drives monitor and lease timing deterministically. When autoFire
// is set, After channels fire immediately so synchronous backoff loops do not
// block the test goroutine.
type fakeClock struct {
	mu       sync.Mutex
	now      time.Time
	autoFire bool
	afters   []chan time.Time
	delays   []time.Duration
	tickers  []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if c.autoFire {
		ch <- c.now
	}
	c.afters = append(c.afters, ch)
	c.delays = append(c.delays, d)
	return ch
}

func (c *fakeClock) fireAfters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.afters {
		select {
		case ch <- c.now:
		default:
		}
	}
	c.afters = nil
}

func (c *fakeClock) NewTicker(d time.Duration) ports.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		t.ch <- c.now
	}
}

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

// fakePinger scripts PONG responses. Each call pops the next response; the
// last one repeats.
type fakePinger struct {
	mu        sync.Mutex
	responses []pingResult
	calls     int
	keepAlive []string
}

type pingResult struct {
	pong core.PongPayload
	err  error
}

func (p *fakePinger) Ping(ctx context.Context) (core.PongPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	r := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return r.pong, r.err
}

func (p *fakePinger) KeepAlive(ctx context.Context, leaseID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keepAlive = append(p.keepAlive, leaseID)
	return nil
}

func (p *fakePinger) pingCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePinger) beats() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keepAlive)
}

func healthyPong() pingResult {
	return pingResult{pong: core.PongPayload{
		Timestamp:        time.Now(),
		Ready:            true,
		MainModuleLoaded: true,
	}}
}

func TestCheckCachesWithinTTL(t *testing.T) {
	clock := newFakeClock()
	pinger := &fakePinger{responses: []pingResult{healthyPong()}}
	monitor := NewMonitor(pinger, clock, Config{CacheTTL: 5 * time.Second}, zap.NewNop())

	first := monitor.Check(context.Background(), false)
	require.True(t, first.Healthy)
	require.True(t, first.Ready)

	clock.Advance(2 * time.Second)
	monitor.Check(context.Background(), false)
	assert.Equal(t, 1, pinger.pingCalls(), "second check within TTL must reuse the cached result")

	clock.Advance(4 * time.Second)
	monitor.Check(context.Background(), false)
	assert.Equal(t, 2, pinger.pingCalls(), "check after TTL must probe again")
}

func TestCheckBypassSkipsCache(t *testing.T) {
	clock := newFakeClock()
	pinger := &fakePinger{responses: []pingResult{healthyPong()}}
	monitor := NewMonitor(pinger, clock, Config{CacheTTL: time.Minute}, zap.NewNop())

	monitor.Check(context.Background(), false)
	monitor.Check(context.Background(), true)
	assert.Equal(t, 2, pinger.pingCalls())
}

func TestEnsureAliveHealthyFirstTry(t *testing.T) {
	clock := newFakeClock()
	clock.autoFire = true
	pinger := &fakePinger{responses: []pingResult{healthyPong()}}
	monitor := NewMonitor(pinger, clock, Config{}, zap.NewNop())

	require.NoError(t, monitor.EnsureAlive(context.Background()))
	assert.Equal(t, 1, pinger.pingCalls())
}

func TestEnsureAliveRecoversAfterFailures(t *testing.T) {
	clock := newFakeClock()
	clock.autoFire = true
	pinger := &fakePinger{responses: []pingResult{
		{err: errors.New("no answer")},
		{err: errors.New("no answer")},
		healthyPong(),
	}}
	monitor := NewMonitor(pinger, clock, Config{}, zap.NewNop())

	require.NoError(t, monitor.EnsureAlive(context.Background()))
	assert.Equal(t, 3, pinger.pingCalls())
}

func TestEnsureAliveExhaustionIsAdvisory(t *testing.T) {
	clock := newFakeClock()
	clock.autoFire = true
	pinger := &fakePinger{responses: []pingResult{{err: errors.New("no answer")}}}
	monitor := NewMonitor(pinger, clock, Config{MaxAttempts: 4}, zap.NewNop())

	// Exhaustion never blocks the caller; it proceeds with its own retry.
	require.NoError(t, monitor.EnsureAlive(context.Background()))
	assert.Equal(t, 4, pinger.pingCalls())

	// Pre-jitter delays double from the base and never exceed the cap.
	clock.mu.Lock()
	delays := append([]time.Duration(nil), clock.delays...)
	clock.mu.Unlock()
	require.Len(t, delays, 4)
	for _, d := range delays {
		assert.LessOrEqual(t, d, time.Duration(1.5*float64(5*time.Second)))
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestEnsureAliveFatalBootFailure(t *testing.T) {
	clock := newFakeClock()
	clock.autoFire = true
	pinger := &fakePinger{responses: []pingResult{{pong: core.PongPayload{
		Ready:            false,
		MainModuleLoaded: false,
		LastError:        "module evaluation failed",
	}}}}
	monitor := NewMonitor(pinger, clock, Config{}, zap.NewNop())

	err := monitor.EnsureAlive(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExecutorDead)
	assert.Equal(t, 1, pinger.pingCalls(), "a reported boot failure must not be retried")
}

func TestLeaseHeartbeats(t *testing.T) {
	clock := newFakeClock()
	sink := &fakePinger{responses: []pingResult{healthyPong()}}
	keeper := NewKeeper(sink, clock, zap.NewNop())

	lease := keeper.Acquire(context.Background(), "open_auth")
	require.NotEmpty(t, lease.ID)

	// The first beat rides immediately, before any tick.
	require.Eventually(t, func() bool { return sink.beats() == 1 },
		time.Second, time.Millisecond)

	clock.tick()
	require.Eventually(t, func() bool { return sink.beats() == 2 },
		time.Second, time.Millisecond)

	lease.Release()
	lease.Release() // idempotent
	beats := sink.beats()

	// No beats after release.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, beats, sink.beats())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, id := range sink.keepAlive {
		assert.Equal(t, lease.ID, id)
	}
}

func TestLeaseAbsoluteCap(t *testing.T) {
	clock := newFakeClock()
	sink := &fakePinger{responses: []pingResult{healthyPong()}}
	keeper := NewKeeper(sink, clock, zap.NewNop())

	lease := keeper.Acquire(context.Background(), "open_auth")
	require.Eventually(t, func() bool { return sink.beats() == 1 },
		time.Second, time.Millisecond)

	// Firing the maxAge deadline stops the beater even without Release.
	clock.fireAfters()
	require.Eventually(t, func() bool {
		select {
		case <-lease.done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	lease.Release()
}
