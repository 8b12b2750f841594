package clientchannel

import (
	"sort"
	"sync"

	"github.com/grpc/grpc-sub023/connectivity"
)

// stateWatcherEntry is a continuous internal watcher, notified on every
// transition (spec.md §6 AddConnectivityWatcher/RemoveConnectivityWatcher).
type stateWatcherEntry struct {
	id int
	cb func(connectivity.State)
}

// stateTracker stores the channel's current connectivity state and
// notifies a set of watchers on every transition (spec.md §3
// ConnectivityStateTracker). Every method takes the internal RWMutex, so
// any goroutine may call them; watcher callbacks run on the goroutine
// that calls SetState, after the lock is released.
type stateTracker struct {
	mu       sync.RWMutex
	state    connectivity.State
	watchers map[int]stateWatcherEntry
	nextID   int
}

func newStateTracker(initial connectivity.State) *stateTracker {
	return &stateTracker{state: initial, watchers: map[int]stateWatcherEntry{}}
}

// CurrentState is a cheap, lock-free-ish read (a single RWMutex
// read-lock, never contended by a writer for longer than a map
// iteration) matching spec.md §6's CheckConnectivityState.
func (t *stateTracker) CurrentState() connectivity.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// SetState updates the tracked state and notifies every watcher in
// registration order, unless the state is unchanged.
func (t *stateTracker) SetState(state connectivity.State) {
	t.mu.Lock()
	if t.state == state {
		t.mu.Unlock()
		return
	}
	t.state = state
	watchers := make([]stateWatcherEntry, 0, len(t.watchers))
	for _, w := range t.watchers {
		watchers = append(watchers, w)
	}
	sort.Slice(watchers, func(i, j int) bool { return watchers[i].id < watchers[j].id })
	t.mu.Unlock()

	for _, w := range watchers {
		w.cb(state)
	}
}

// AddWatcher registers a continuous watcher and returns a cancel func.
func (t *stateTracker) AddWatcher(cb func(connectivity.State)) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.watchers[id] = stateWatcherEntry{id: id, cb: cb}
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.watchers, id)
		t.mu.Unlock()
	}
}
