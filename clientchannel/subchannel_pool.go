package clientchannel

import "sync"

// SubchannelPool dedupes Subchannels by SubchannelKey (spec.md §4.3). It
// holds only weak references: the map entry is dropped as soon as its
// Subchannel's last strong ref (held by a SubchannelWrapper) releases.
// Two modes exist, matching the original's LocalSubchannelPool /
// global pool split: NewGlobalPool returns the shared, process-wide
// instance; NewLocalPool returns a fresh, channel-scoped one.
type SubchannelPool struct {
	mu    sync.Mutex
	table map[SubchannelKey]*Subchannel
}

func newSubchannelPool() *SubchannelPool {
	return &SubchannelPool{table: map[SubchannelKey]*Subchannel{}}
}

var globalPool = newSubchannelPool()

// NewGlobalPool returns the process-wide subchannel pool shared by every
// channel that does not request a local one (spec.md §4.3 default mode).
func NewGlobalPool() *SubchannelPool { return globalPool }

// NewLocalPool returns a fresh pool scoped to a single channel (spec.md
// §4.3, selected via Args.UseLocalSubchannelPool).
func NewLocalPool() *SubchannelPool { return newSubchannelPool() }

// RegisterSubchannel returns the canonical Subchannel for key: an existing
// one (promoting the pool's weak ref to a strong one for the caller), or
// the result of calling newFunc. The whole check-construct-addRef sequence
// runs under p.mu so every caller racing on the same key — not just the
// one that happens to construct it — gets its own strong ref to the
// canonical Subchannel; no caller can observe a half-registered entry.
func (p *SubchannelPool) RegisterSubchannel(key SubchannelKey, newFunc func() *Subchannel) *Subchannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.table[key]; ok {
		existing.addRef()
		return existing
	}
	sc := newFunc()
	sc.addRef()
	p.table[key] = sc
	return sc
}

// UnregisterSubchannel drops one strong ref to the Subchannel registered
// under key; if it was the last ref, the pool's weak entry is removed
// and the Subchannel is shut down.
func (p *SubchannelPool) UnregisterSubchannel(key SubchannelKey, sc *Subchannel) {
	if !sc.releaseRef() {
		return
	}
	p.mu.Lock()
	if p.table[key] == sc {
		delete(p.table, key)
	}
	p.mu.Unlock()
	sc.Shutdown()
}

// FindSubchannel returns the pool's current Subchannel for key without
// registering a new ref, or nil if none exists.
func (p *SubchannelPool) FindSubchannel(key SubchannelKey) *Subchannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table[key]
}
