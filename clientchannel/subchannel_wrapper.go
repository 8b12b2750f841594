package clientchannel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/grpc/grpc-sub023/balancer"
	"github.com/grpc/grpc-sub023/connectivity"
	"github.com/grpc/grpc-sub023/resolver"
)

// subchannelWrapper is the LB-facing façade over a Subchannel, scoped to
// one channel (spec.md §3 SubchannelWrapper). It implements
// balancer.SubConn.
//
// It carries two copies of the "connected transport" pointer:
// controlPlaneTransport is updated directly in the underlying
// Subchannel's state-watch callback, on the Subchannel's goroutine and
// not through the channel's WorkSerializer (only the StateListener call
// is scheduled there); dataPlaneTransport is a separate atomic snapshot
// that the channel copies from the control-plane copy only at the
// moment it publishes a new picker, under its data-plane lock. Picks
// read dataPlaneTransport without taking any control-plane lock.
type subchannelWrapper struct {
	chand *Channel
	pool  *SubchannelPool

	listener func(balancer.SubConnState)

	mu          sync.Mutex
	key         SubchannelKey
	addr        resolver.Address
	sc          *Subchannel
	cancelWatch func()
	controlTx   ConnectedTransport
	shutdown    bool

	dataTx atomic.Value // stores connTxBox
}

type connTxBox struct{ tx ConnectedTransport }

func (chand *Channel) newSubchannelWrapper(addrs []resolver.Address, opts balancer.NewSubConnOptions) (*subchannelWrapper, error) {
	w := &subchannelWrapper{chand: chand, pool: chand.subchannelPool, listener: opts.StateListener}
	w.dataTx.Store(connTxBox{})
	if len(addrs) == 0 {
		return nil, errNoAddresses
	}
	w.rebuild(addrs[0])
	return w, nil
}

func (w *subchannelWrapper) rebuild(addr resolver.Address) {
	key := SubchannelKey{Addr: addr.Addr, KeepaliveTime: w.chand.args.KeepaliveTime}
	canonical := w.pool.RegisterSubchannel(key, func() *Subchannel {
		return NewSubchannel(key, addr, w.chand.connector, w.chand.args.BackoffConfig, w.chand.logger)
	})

	w.mu.Lock()
	w.key, w.addr, w.sc = key, addr, canonical
	w.mu.Unlock()

	cancel := canonical.WatchConnectivityState(func(state connectivity.State, err error, tx ConnectedTransport) {
		w.onStateChange(state, err, tx)
	})
	w.mu.Lock()
	w.cancelWatch = cancel
	w.mu.Unlock()
}

func (w *subchannelWrapper) onStateChange(state connectivity.State, err error, tx ConnectedTransport) {
	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return
	}
	w.controlTx = tx
	w.mu.Unlock()

	w.chand.markPendingTransportUpdate(w, state)
	if w.listener != nil {
		st := balancer.SubConnState{ConnectivityState: state, ConnectionError: err}
		w.chand.serializer.Schedule(func(context.Context) {
			w.mu.Lock()
			shut := w.shutdown
			w.mu.Unlock()
			if !shut {
				w.listener(st)
			}
		})
	}
}

// publishDataPlane copies the control-plane transport pointer into the
// data-plane slot. Must be called while the channel holds its
// data-plane lock (spec.md §3: "the data-plane pointer is updated only
// while holding the data-plane lock, at the moment a new picker is
// published").
func (w *subchannelWrapper) publishDataPlane() {
	w.mu.Lock()
	tx := w.controlTx
	w.mu.Unlock()
	w.dataTx.Store(connTxBox{tx: tx})
}

// dataPlaneTransport is a lock-free read of the most recently published
// transport, used by the pick path (spec.md §4.8: "reads
// connected_subchannel_in_data_plane from the wrapper under the
// data-plane lock" — here the atomic load stands in for that lock since
// it is a single pointer-sized snapshot).
func (w *subchannelWrapper) dataPlaneTransport() ConnectedTransport {
	box, _ := w.dataTx.Load().(connTxBox)
	return box.tx
}

// UpdateAddresses implements balancer.SubConn.
func (w *subchannelWrapper) UpdateAddresses(addrs []resolver.Address) {
	if len(addrs) == 0 {
		return
	}
	w.mu.Lock()
	unchanged := w.addr.Addr == addrs[0].Addr
	oldKey, oldSC, oldCancel := w.key, w.sc, w.cancelWatch
	w.mu.Unlock()
	if unchanged {
		return
	}
	if oldCancel != nil {
		oldCancel()
	}
	if oldSC != nil {
		w.pool.UnregisterSubchannel(oldKey, oldSC)
	}
	w.rebuild(addrs[0])
}

// Connect implements balancer.SubConn.
func (w *subchannelWrapper) Connect() {
	w.mu.Lock()
	sc := w.sc
	w.mu.Unlock()
	if sc != nil {
		sc.RequestConnection()
	}
}

// Shutdown implements balancer.SubConn.
func (w *subchannelWrapper) Shutdown() {
	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return
	}
	w.shutdown = true
	key, sc, cancel := w.key, w.sc, w.cancelWatch
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sc != nil {
		w.pool.UnregisterSubchannel(key, sc)
	}
	w.dataTx.Store(connTxBox{})
}
