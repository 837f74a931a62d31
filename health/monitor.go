// Package health detects and recovers from background executor suspension.
// Checking is advisory: an operation whose wake-up attempts are exhausted
// still proceeds and relies on call-site retries, because the executor often
// revives on the very message that needed it.
package health

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ports"
)

// Config tunes the monitor. Zero values fall back to defaults.
type Config struct {
	// CacheTTL is the cooldown window during which a health result is
	// reused instead of pinging again.
	CacheTTL time.Duration
	// CheckInterval drives the periodic self-heal loop.
	CheckInterval time.Duration
	// Backoff parameters for wake-up retries.
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration
	MaxAttempts   int
}

func (c *Config) defaults() {
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Second
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 2
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 5 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
}

// Snapshot is one observed health state.
type Snapshot struct {
	Healthy          bool
	Ready            bool
	MainModuleLoaded bool
	LastError        string
	CheckedAt        time.Time
}

// Monitor owns health state for one executor. All fields are instance-owned.
type Monitor struct {
	pinger ports.Pinger
	clock  ports.Clock
	cfg    Config
	log    *zap.Logger
	rand   *rand.Rand

	mu     sync.Mutex
	cached *Snapshot
}

// NewMonitor builds a monitor with the given tuning.
func NewMonitor(pinger ports.Pinger, clock ports.Clock, cfg Config, log *zap.Logger) *Monitor {
	cfg.defaults()
	return &Monitor{
		pinger: pinger,
		clock:  clock,
		cfg:    cfg,
		log:    log.Named("health"),
		rand:   rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// Check returns the executor's health, reusing a recent result unless
// bypassCache is set. Callers bypass only when escalating from a known
// unhealthy state.
func (m *Monitor) Check(ctx context.Context, bypassCache bool) Snapshot {
	m.mu.Lock()
	if !bypassCache && m.cached != nil &&
		m.clock.Now().Sub(m.cached.CheckedAt) < m.cfg.CacheTTL {
		snap := *m.cached
		m.mu.Unlock()
		return snap
	}
	m.mu.Unlock()

	snap := m.probe(ctx)

	m.mu.Lock()
	prev := m.cached
	m.cached = &snap
	m.mu.Unlock()

	if prev != nil && prev.Healthy != snap.Healthy {
		if snap.Healthy {
			m.log.Info("executor recovered")
		} else {
			m.log.Warn("executor became unhealthy", zap.String("lastError", snap.LastError))
		}
	}
	return snap
}

// EnsureAlive pings with exponential backoff until the executor answers
// ready, the attempts are exhausted, or the failure is fatal. Only a fatal
// initialization failure returns an error; exhaustion returns nil so the
// caller proceeds with its own retry-at-call-site strategy.
func (m *Monitor) EnsureAlive(ctx context.Context) error {
	delay := m.cfg.BackoffBase
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		snap := m.Check(ctx, attempt > 0)
		switch {
		case snap.Healthy && snap.Ready:
			return nil
		case snap.MainModuleLoaded && !snap.Ready && snap.Healthy:
			// Booted but still initializing; wait and re-poll.
		case snap.Healthy && !snap.MainModuleLoaded && snap.LastError != "":
			return core.WrapError(core.CodeUnknown,
				"executor main module failed to load", core.ErrExecutorDead)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.jitter(delay)):
		}
		delay = time.Duration(float64(delay) * m.cfg.BackoffFactor)
		if delay > m.cfg.BackoffMax {
			delay = m.cfg.BackoffMax
		}
	}

	m.log.Warn("executor never answered wake-up, proceeding anyway",
		zap.Int("attempts", m.cfg.MaxAttempts))
	return nil
}

// Run re-checks health on a timer while the hosting context is foregrounded,
// making recovery observable. Blocks until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.Check(ctx, false)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) Snapshot {
	pong, err := m.pinger.Ping(ctx)
	now := m.clock.Now()
	if err != nil {
		snap := Snapshot{CheckedAt: now}
		var coded *core.Error
		if errors.As(err, &coded) {
			snap.LastError = coded.Message
		} else {
			snap.LastError = err.Error()
		}
		return snap
	}
	return Snapshot{
		Healthy:          true,
		Ready:            pong.Ready,
		MainModuleLoaded: pong.MainModuleLoaded,
		LastError:        pong.LastError,
		CheckedAt:        now,
	}
}

// jitter spreads retries so concurrent callers do not stampede the executor.
func (m *Monitor) jitter(d time.Duration) time.Duration {
	m.mu.Lock()
	f := 0.5 + m.rand.Float64()
	m.mu.Unlock()
	return time.Duration(float64(d) * f)
}
