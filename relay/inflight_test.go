package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInFlightCoalescesConcurrentCalls(t *testing.T) {
	inflight := NewInFlight(newClock())

	gate := make(chan struct{})
	var executions int
	var mu sync.Mutex

	run := func() (any, bool, error) {
		return inflight.Do("connect", func() (any, error) {
			mu.Lock()
			executions++
			mu.Unlock()
			<-gate
			return "result", nil
		})
	}

	type outcome struct {
		value  any
		shared bool
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			v, shared, err := run()
			require.NoError(t, err)
			results <- outcome{v, shared}
		}()
	}

	require.Eventually(t, func() bool { return inflight.Pending("connect") },
		time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(gate)

	sharedCount := 0
	for i := 0; i < 2; i++ {
		o := <-results
		assert.Equal(t, "result", o.value)
		if o.shared {
			sharedCount++
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, executions)
	assert.GreaterOrEqual(t, sharedCount, 1)
	assert.False(t, inflight.Pending("connect"))
}

func TestInFlightDistinctKeysRunIndependently(t *testing.T) {
	inflight := NewInFlight(newClock())

	a, _, err := inflight.Do("a", func() (any, error) { return 1, nil })
	require.NoError(t, err)
	b, _, err := inflight.Do("b", func() (any, error) { return 2, nil })
	require.NoError(t, err)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestInFlightEvictsStaleEntry(t *testing.T) {
	clock := newClock()
	inflight := NewInFlight(clock)

	// A hung execution holds its key.
	hang := make(chan struct{})
	go func() {
		_, _, _ = inflight.Do("stuck", func() (any, error) {
			<-hang
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return inflight.Pending("stuck") },
		time.Second, time.Millisecond)

	// Past the TTL the entry no longer counts as pending and a retry runs a
	// fresh execution instead of joining the wedged one.
	clock.Advance(InFlightTTL + time.Second)
	assert.False(t, inflight.Pending("stuck"))

	v, shared, err := inflight.Do("stuck", func() (any, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, "fresh", v)

	close(hang)
}

func TestInFlightErrorsPropagateToAllCallers(t *testing.T) {
	inflight := NewInFlight(newClock())

	_, _, err := inflight.Do("fail", func() (any, error) {
		return nil, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, inflight.Pending("fail"))
}
