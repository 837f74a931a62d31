package relay

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/layer-3/bifrost/ports"
)

// InFlightTTL bounds how long a registered request can block duplicates. A
// crashed sub-operation must not wedge retries forever.
const InFlightTTL = 60 * time.Second

// InFlight suppresses duplicate side-effecting requests: concurrent callers
// of the same key are funneled into one execution and all receive the same
// result. This is what prevents a double wallet popup when a UI re-render
// fires the same request twice.
type InFlight struct {
	group singleflight.Group
	clock ports.Clock

	mu      sync.Mutex
	started map[string]time.Time
}

// NewInFlight builds an empty registry.
func NewInFlight(clock ports.Clock) *InFlight {
	return &InFlight{clock: clock, started: make(map[string]time.Time)}
}

// Do executes fn under key, coalescing concurrent duplicates. The entry is
// removed on completion or failure; a stale entry past InFlightTTL is
// evicted first so a hung execution cannot block retries permanently.
func (f *InFlight) Do(key string, fn func() (any, error)) (any, bool, error) {
	f.mu.Lock()
	if startedAt, ok := f.started[key]; ok && f.clock.Now().Sub(startedAt) > InFlightTTL {
		f.group.Forget(key)
		delete(f.started, key)
	}
	if _, ok := f.started[key]; !ok {
		f.started[key] = f.clock.Now()
	}
	f.mu.Unlock()

	value, err, shared := f.group.Do(key, func() (any, error) {
		defer func() {
			f.mu.Lock()
			delete(f.started, key)
			f.mu.Unlock()
		}()
		return fn()
	})
	return value, shared, err
}

// Pending reports whether key currently has a live entry.
func (f *InFlight) Pending(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	startedAt, ok := f.started[key]
	return ok && f.clock.Now().Sub(startedAt) <= InFlightTTL
}
