// Package pickfirst implements the pick_first load-balancing policy:
// it connects to addresses in order, sticking with the first one that
// becomes READY, and re-tries the list from the top on total failure
// (spec.md §4.5, grounded on the teacher's gracefulswitch default and
// the upstream pick_first design it mirrors).
package pickfirst

import (
	"fmt"

	"github.com/grpc/grpc-sub023/balancer"
	"github.com/grpc/grpc-sub023/connectivity"
	"github.com/grpc/grpc-sub023/resolver"
)

// Name is the policy name used in service config and balancer.Register.
const Name = "pick_first"

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, _ balancer.BuildOptions) balancer.Balancer {
	return &pickfirstBalancer{cc: cc, state: connectivity.Idle}
}

type scState struct {
	sc    balancer.SubConn
	state connectivity.State
}

// pickfirstBalancer is driven entirely from the channel's WorkSerializer;
// it keeps no internal lock.
type pickfirstBalancer struct {
	cc    balancer.ClientConn
	subs  []*scState
	idx   int
	state connectivity.State
}

func (b *pickfirstBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	addrs := s.ResolverState.Addresses
	if len(addrs) == 0 {
		b.ResolverError(fmt.Errorf("pickfirst: produced zero addresses"))
		return balancer.ErrBadResolverState
	}

	for _, old := range b.subs {
		old.sc.Shutdown()
	}
	b.subs = make([]*scState, 0, len(addrs))
	for _, a := range addrs {
		a := a
		st := &scState{state: connectivity.Idle}
		sc, err := b.cc.NewSubConn([]resolver.Address{a}, balancer.NewSubConnOptions{
			StateListener: func(s balancer.SubConnState) { b.updateSubConnState(st, s) },
		})
		if err != nil {
			continue
		}
		st.sc = sc
		b.subs = append(b.subs, st)
	}
	if len(b.subs) == 0 {
		return balancer.ErrBadResolverState
	}
	b.idx = 0
	b.subs[0].sc.Connect()
	b.updatePicker()
	return nil
}

func (b *pickfirstBalancer) updateSubConnState(st *scState, s balancer.SubConnState) {
	st.state = s.ConnectivityState
	switch s.ConnectivityState {
	case connectivity.Ready:
		// Stick with this one; shut down the rest so they stop holding
		// connections open.
		for _, other := range b.subs {
			if other != st {
				other.sc.Shutdown()
			}
		}
		b.subs = []*scState{st}
	case connectivity.TransientFailure:
		b.idx++
		if b.idx < len(b.subs) {
			b.subs[b.idx].sc.Connect()
		} else {
			// Exhausted the list; the channel will re-resolve and/or the
			// application retries, but keep cycling so a later backoff
			// expiry still makes progress.
			b.idx = 0
			b.cc.ResolveNow(resolver.ResolveNowOptions{})
		}
	}
	b.updatePicker()
}

func (b *pickfirstBalancer) updatePicker() {
	var agg connectivity.State = connectivity.TransientFailure
	var readySC balancer.SubConn
	anyConnecting := false
	for _, st := range b.subs {
		if st.state == connectivity.Ready {
			readySC = st.sc
		}
		if st.state == connectivity.Connecting || st.state == connectivity.Idle {
			anyConnecting = true
		}
	}
	switch {
	case readySC != nil:
		agg = connectivity.Ready
	case anyConnecting:
		agg = connectivity.Connecting
	}
	b.state = agg

	var p balancer.Picker
	switch agg {
	case connectivity.Ready:
		p = &picker{result: balancer.PickResult{SubConn: readySC}}
	case connectivity.Connecting:
		p = &picker{err: balancer.ErrNoSubConnAvailable}
	default:
		p = &picker{err: fmt.Errorf("pickfirst: all SubConns are in TransientFailure")}
	}
	b.cc.UpdateState(balancer.State{ConnectivityState: agg, Picker: p})
}

func (b *pickfirstBalancer) ResolverError(err error) {
	if len(b.subs) == 0 {
		b.cc.UpdateState(balancer.State{
			ConnectivityState: connectivity.TransientFailure,
			Picker:            &picker{err: fmt.Errorf("pickfirst: resolver error before any addresses seen: %w", err)},
		})
	}
}

func (b *pickfirstBalancer) ExitIdle() {
	if len(b.subs) > 0 {
		b.subs[b.idx].sc.Connect()
	}
}

func (b *pickfirstBalancer) Close() {
	for _, st := range b.subs {
		st.sc.Shutdown()
	}
}

type picker struct {
	result balancer.PickResult
	err    error
}

func (p *picker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return p.result, p.err
}
