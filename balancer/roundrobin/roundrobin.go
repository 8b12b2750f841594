// Package roundrobin implements the round_robin load-balancing policy:
// it connects to every resolved address simultaneously and picks among
// the READY ones in rotation (spec.md §4.5, grounded on the teacher's
// weighted round-robin util.go newRandomWRR usage, here specialized to
// unweighted rotation for the default policy as the upstream round_robin
// balancer does).
package roundrobin

import (
	"fmt"
	"sync/atomic"

	"github.com/grpc/grpc-sub023/balancer"
	"github.com/grpc/grpc-sub023/connectivity"
	"github.com/grpc/grpc-sub023/resolver"
)

// Name is the policy name used in service config and balancer.Register.
const Name = "round_robin"

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, _ balancer.BuildOptions) balancer.Balancer {
	return &rrBalancer{cc: cc}
}

type scEntry struct {
	sc    balancer.SubConn
	state connectivity.State
}

type rrBalancer struct {
	cc    balancer.ClientConn
	subs  map[*scEntry]struct{}
	eval  balancer.ConnectivityStateEvaluator
	state connectivity.State
}

func (b *rrBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	addrs := s.ResolverState.Addresses
	if len(addrs) == 0 {
		b.ResolverError(fmt.Errorf("round_robin: produced zero addresses"))
		return balancer.ErrBadResolverState
	}
	if b.subs == nil {
		b.subs = make(map[*scEntry]struct{}, len(addrs))
	}
	want := make(map[resolver.Address]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
	}

	for e := range b.subs {
		e.sc.Shutdown()
	}
	b.subs = make(map[*scEntry]struct{}, len(addrs))
	for _, a := range addrs {
		a := a
		e := &scEntry{state: connectivity.Idle}
		sc, err := b.cc.NewSubConn([]resolver.Address{a}, balancer.NewSubConnOptions{
			StateListener: func(s balancer.SubConnState) { b.updateSubConnState(e, s) },
		})
		if err != nil {
			continue
		}
		e.sc = sc
		b.subs[e] = struct{}{}
		sc.Connect()
	}
	if len(b.subs) == 0 {
		return balancer.ErrBadResolverState
	}
	b.regeneratePicker()
	return nil
}

func (b *rrBalancer) updateSubConnState(e *scEntry, s balancer.SubConnState) {
	if _, ok := b.subs[e]; !ok {
		return
	}
	old := e.state
	e.state = s.ConnectivityState
	b.state = b.eval.RecordTransition(old, e.state)
	if e.state == connectivity.Idle {
		e.sc.Connect()
	}
	b.regeneratePicker()
}

func (b *rrBalancer) regeneratePicker() {
	if b.state != connectivity.Ready {
		var err error
		if b.state == connectivity.Connecting || b.state == connectivity.Idle {
			err = balancer.ErrNoSubConnAvailable
		} else {
			err = fmt.Errorf("round_robin: no SubConns are READY")
		}
		b.cc.UpdateState(balancer.State{ConnectivityState: b.state, Picker: &picker{err: err}})
		return
	}
	ready := make([]balancer.SubConn, 0, len(b.subs))
	for e := range b.subs {
		if e.state == connectivity.Ready {
			ready = append(ready, e.sc)
		}
	}
	b.cc.UpdateState(balancer.State{
		ConnectivityState: connectivity.Ready,
		Picker:            &picker{ready: ready},
	})
}

func (b *rrBalancer) ResolverError(err error) {
	if len(b.subs) == 0 {
		b.cc.UpdateState(balancer.State{
			ConnectivityState: connectivity.TransientFailure,
			Picker:            &picker{err: fmt.Errorf("round_robin: resolver error before any addresses seen: %w", err)},
		})
	}
}

func (b *rrBalancer) ExitIdle() {
	for e := range b.subs {
		if e.state == connectivity.Idle {
			e.sc.Connect()
		}
	}
}

func (b *rrBalancer) Close() {
	for e := range b.subs {
		e.sc.Shutdown()
	}
}

// picker round-robins across a fixed, immutable slice of READY SubConns
// using an atomic counter, the same pattern the teacher's
// edsbalancer/util.go dropPicker uses for its wrapped child picker.
type picker struct {
	ready []balancer.SubConn
	next  uint32
	err   error
}

func (p *picker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	if p.err != nil {
		return balancer.PickResult{}, p.err
	}
	n := atomic.AddUint32(&p.next, 1)
	sc := p.ready[(int(n)-1)%len(p.ready)]
	return balancer.PickResult{SubConn: sc}, nil
}
