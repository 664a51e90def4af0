package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"screentimed/internal/domain"
)

type countingTransport struct {
	mu     sync.Mutex
	pushes int
	err    error
}

func (t *countingTransport) Push(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushes++
	return t.err
}

func (t *countingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pushes
}

func waitForPushes(t *testing.T, transport *countingTransport, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if transport.count() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d pushes, got %d", want, transport.count())
}

func TestDispatcherPushesForcedRequestQuickly(t *testing.T) {
	transport := &countingTransport{}
	dispatcher := NewDispatcher(transport, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dispatcher.Run(ctx)
	}()

	dispatcher.RequestSync(domain.SyncForced)
	waitForPushes(t, transport, 1)

	cancel()
	<-done
}

func TestDispatcherCoalescesBurst(t *testing.T) {
	transport := &countingTransport{}
	dispatcher := NewDispatcher(transport, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dispatcher.Run(ctx)
	}()

	// A burst of forced requests within the coalescing window collapses
	// into a single push.
	for i := 0; i < 5; i++ {
		dispatcher.RequestSync(domain.SyncForced)
	}
	waitForPushes(t, transport, 1)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, transport.count())

	cancel()
	<-done
}

func TestDispatcherFlushesPendingOnShutdown(t *testing.T) {
	transport := &countingTransport{}
	dispatcher := NewDispatcher(transport, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- dispatcher.Run(ctx)
	}()

	// An important request has a 10s window; canceling before it fires
	// must still flush the pending push on the way out.
	dispatcher.RequestSync(domain.SyncImportant)
	time.Sleep(100 * time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, transport.count())
}

func TestDispatcherNeverBlocksOnFullQueue(t *testing.T) {
	dispatcher := NewDispatcher(&countingTransport{err: errors.New("down")}, zap.NewNop())

	// Nothing drains the channel here; RequestSync must still return.
	for i := 0; i < 100; i++ {
		dispatcher.RequestSync(domain.SyncForced)
	}
}
