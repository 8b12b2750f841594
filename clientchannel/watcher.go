package clientchannel

import (
	"sync"

	"github.com/grpc/grpc-sub023/connectivity"
)

// ExternalConnectivityWatcher is a one-shot watcher that fires at most
// once, on the first state change away from the state it was registered
// with (spec.md §4.10); channel shutdown fires it as a change to
// SHUTDOWN. Cancel removes the watcher without invoking onDone.
// Cancellation is idempotent and safe to call from any goroutine.
type ExternalConnectivityWatcher struct {
	chand   *Channel
	from    connectivity.State
	onDone  func(connectivity.State)
	cancel  func()
	mu      sync.Mutex
	fired   bool
}

// AddExternalConnectivityWatcher registers a one-shot watcher that fires
// onDone exactly once with the channel's new state, the first time it
// differs from from (spec.md §4.10
// AddExternalConnectivityWatcher(pollent, *state, on_complete, ...)` —
// the pollent/timer-init machinery has no analogue here since this core
// has no pollset of its own).
func (c *Channel) AddExternalConnectivityWatcher(from connectivity.State, onDone func(connectivity.State)) *ExternalConnectivityWatcher {
	w := &ExternalConnectivityWatcher{chand: c, from: from, onDone: onDone}

	c.watchersMu.Lock()
	c.extWatchers[w] = struct{}{}
	c.watchersMu.Unlock()

	w.cancel = c.state.AddWatcher(func(state connectivity.State) {
		if state == from {
			return
		}
		w.fire(state)
	})

	if c.state.CurrentState() != from {
		w.fire(c.state.CurrentState())
	}
	return w
}

func (w *ExternalConnectivityWatcher) fire(state connectivity.State) {
	w.mu.Lock()
	if w.fired {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	w.chand.watchersMu.Lock()
	delete(w.chand.extWatchers, w)
	w.chand.watchersMu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
	w.onDone(state)
}

// Cancel idempotently cancels w without firing onDone, unless a state
// change already beat it to the punch.
func (w *ExternalConnectivityWatcher) Cancel() {
	w.mu.Lock()
	if w.fired {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	w.chand.watchersMu.Lock()
	delete(w.chand.extWatchers, w)
	w.chand.watchersMu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
}

// CheckConnectivityState is the cheap, lock-free connectivity read
// (spec.md §6). If tryToConnect is set, it also schedules the
// WorkSerializer task that exits IDLE.
func (c *Channel) CheckConnectivityState(tryToConnect bool) connectivity.State {
	state := c.state.CurrentState()
	if tryToConnect && state == connectivity.Idle {
		c.exitIdle()
	}
	return state
}
