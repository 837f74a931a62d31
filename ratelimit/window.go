package ratelimit

import (
	"sync"
	"time"
)

// WindowConfig parameterizes a sliding window.
type WindowConfig struct {
	Window      time.Duration
	MaxRequests int
}

// SlidingWindow allows at most MaxRequests within any trailing Window.
type SlidingWindow struct {
	mu     sync.Mutex
	cfg    WindowConfig
	stamps []time.Time
	clock  Clock
}

// NewSlidingWindow creates an empty window.
func NewSlidingWindow(cfg WindowConfig, clock Clock) *SlidingWindow {
	return &SlidingWindow{cfg: cfg, clock: clock}
}

// Allow records the request if the trailing window has room.
func (w *SlidingWindow) Allow() Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	cutoff := now.Add(-w.cfg.Window)

	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= w.cfg.MaxRequests {
		oldest := w.stamps[0]
		return Decision{RetryAfter: oldest.Add(w.cfg.Window).Sub(now)}
	}

	w.stamps = append(w.stamps, now)
	return Decision{Allowed: true}
}
