// Package sync pushes queued actions to the family server and schedules
// the recurring maintenance jobs. The device works local-first: blocking
// never waits for the network, sync happens eventually.
package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"screentimed/internal/domain"
)

const (
	// forcedDelay keeps a small window so a burst of forced requests
	// collapses into one push.
	forcedDelay = 100 * time.Millisecond
	// importantDelay batches important requests.
	importantDelay = 10 * time.Second
	// unimportantDelay batches background requests.
	unimportantDelay = 5 * time.Minute
	// retryDelay backs off after a failed push.
	retryDelay = 30 * time.Second
)

// Transport pushes the queued actions of one cycle.
type Transport interface {
	Push(ctx context.Context) error
}

// NoopTransport drops sync requests. Used when no server is configured;
// the action queue keeps accumulating until the device is paired.
type NoopTransport struct{}

func (NoopTransport) Push(ctx context.Context) error { return nil }

// Dispatcher coalesces sync requests by priority and drives the
// transport. It implements domain.SyncRequester.
type Dispatcher struct {
	transport Transport
	logger    *zap.Logger

	requests chan domain.SyncPriority
}

// NewDispatcher creates a dispatcher over the given transport.
func NewDispatcher(transport Transport, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		logger:    logger,
		requests:  make(chan domain.SyncPriority, 16),
	}
}

// RequestSync queues one sync request. Never blocks: when the queue is
// full a push is already imminent.
func (d *Dispatcher) RequestSync(priority domain.SyncPriority) {
	select {
	case d.requests <- priority:
	default:
	}
}

// Run drives the push cycle until the context ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	timer := time.NewTimer(unimportantDelay)
	defer timer.Stop()

	pending := false
	deadline := time.Time{}

	arm := func(delay time.Duration) {
		target := time.Now().Add(delay)
		if pending && target.After(deadline) {
			return
		}
		pending = true
		deadline = target
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)
	}

	for {
		select {
		case <-ctx.Done():
			if pending {
				d.push(context.Background())
			}
			return ctx.Err()

		case priority := <-d.requests:
			switch priority {
			case domain.SyncForced:
				arm(forcedDelay)
			case domain.SyncImportant:
				arm(importantDelay)
			default:
				arm(unimportantDelay)
			}

		case <-timer.C:
			if !pending {
				timer.Reset(unimportantDelay)
				continue
			}
			pending = false
			if err := d.push(ctx); err != nil {
				d.logger.Warn("sync push failed", zap.Error(err))
				pending = true
				deadline = time.Now().Add(retryDelay)
				timer.Reset(retryDelay)
				continue
			}
			timer.Reset(unimportantDelay)
		}
	}
}

func (d *Dispatcher) push(ctx context.Context) error {
	pushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return d.transport.Push(pushCtx)
}

var _ domain.SyncRequester = (*Dispatcher)(nil)
