package health

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/bifrost/ports"
)

const (
	// LeaseHeartbeatInterval stays below the host's idle-suspension
	// threshold (30s) so the executor is never reclaimed mid-operation.
	LeaseHeartbeatInterval = 20 * time.Second

	// LeaseMaxDuration is the absolute cap; a leaked lease stops beating
	// after this long no matter what.
	LeaseMaxDuration = 5 * time.Minute
)

// Keeper hands out keep-alive leases for long operations.
type Keeper struct {
	sink     ports.KeepAliver
	clock    ports.Clock
	interval time.Duration
	maxAge   time.Duration
	log      *zap.Logger
}

// NewKeeper builds a keeper with the default heartbeat tuning.
func NewKeeper(sink ports.KeepAliver, clock ports.Clock, log *zap.Logger) *Keeper {
	return &Keeper{
		sink:     sink,
		clock:    clock,
		interval: LeaseHeartbeatInterval,
		maxAge:   LeaseMaxDuration,
		log:      log.Named("lease"),
	}
}

// Lease is a time-bounded claim keeping the executor alive. Release is
// idempotent and must be called when the guarded operation finishes.
type Lease struct {
	ID   string
	name string

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// Acquire starts heartbeating immediately and returns the live lease.
func (k *Keeper) Acquire(ctx context.Context, name string) *Lease {
	leaseCtx, cancel := context.WithCancel(ctx)
	lease := &Lease{
		ID:     uuid.New().String(),
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go k.beat(leaseCtx, lease)
	return lease
}

// Release stops the lease's heartbeat and waits for the beater to exit.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
}

func (k *Keeper) beat(ctx context.Context, lease *Lease) {
	defer close(lease.done)

	ticker := k.clock.NewTicker(k.interval)
	defer ticker.Stop()
	deadline := k.clock.After(k.maxAge)

	// First beat rides immediately so a just-woken executor is claimed
	// before the first tick.
	k.send(ctx, lease)

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			k.log.Warn("lease hit absolute cap, releasing",
				zap.String("lease", lease.ID), zap.String("op", lease.name))
			return
		case <-ticker.C():
			k.send(ctx, lease)
		}
	}
}

func (k *Keeper) send(ctx context.Context, lease *Lease) {
	if err := k.sink.KeepAlive(ctx, lease.ID); err != nil && ctx.Err() == nil {
		k.log.Debug("lease heartbeat missed",
			zap.String("lease", lease.ID), zap.Error(err))
	}
}
