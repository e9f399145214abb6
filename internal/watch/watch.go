// Package watch feeds structural insertions from a document to a handler, one
// batch at a time.
package watch

import (
	"context"
	"errors"
	"sync"

	"github.com/aliaswap/aliaswap/internal/tree"
	"github.com/aliaswap/aliaswap/internal/util"
)

// ErrAlreadyWatching is returned by Start on a running watcher.
var ErrAlreadyWatching = errors.New("watcher already running")

// State is the watcher lifecycle state.
type State int

const (
	Idle State = iota
	Watching
)

func (s State) String() string {
	if s == Watching {
		return "watching"
	}
	return "idle"
}

// SubscribeFunc opens a batch stream that closes when ctx is cancelled.
type SubscribeFunc func(ctx context.Context) <-chan tree.Batch

// Handler is invoked once per inserted subtree root, in delivery order.
type Handler func(root tree.NodeID)

// Watcher runs a single goroutine; handlers never run concurrently.
type Watcher struct {
	subscribe SubscribeFunc
	handle    Handler
	logger    *util.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an idle watcher.
func New(subscribe SubscribeFunc, handle Handler, logger *util.Logger) *Watcher {
	return &Watcher{subscribe: subscribe, handle: handle, logger: logger}
}

// Start subscribes and begins delivering batches.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Watching {
		return ErrAlreadyWatching
	}
	ctx, cancel := context.WithCancel(ctx)
	batches := w.subscribe(ctx)
	done := make(chan struct{})
	w.state = Watching
	w.cancel = cancel
	w.done = done
	go w.run(ctx, batches, done)
	return nil
}

func (w *Watcher) run(ctx context.Context, batches <-chan tree.Batch, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				w.logger.Debugf("watch: batch stream closed")
				return
			}
			for _, root := range batch.Inserted {
				// A cancelled watcher must not touch the document again.
				if ctx.Err() != nil {
					return
				}
				w.handle(root)
			}
		}
	}
}

// Stop cancels the subscription and waits for the loop to exit. Stopping an
// idle watcher is a no-op. Stop must not be called from the handler.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.state != Watching {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.state = Idle
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	cancel()
	<-done
}

// State reports the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
