// Package edspriority implements the EDS-driven priority/locality
// load-balancing policy (spec.md §4.10 "priority/locality weighted load
// balancing with drop support"), adapted from the teacher's
// xds/pkg/balancer/edsbalancer/eds_impl.go and util.go.
//
// The teacher's eds_impl.go delegates per-priority locality management to
// google.golang.org/grpc/xds/pkg/balancer/balancergroup and
// weightedtarget/weightedaggregator, neither of which is present in the
// example pack (see DESIGN.md). That concern — weighted-round-robin
// selection among a priority's localities, each itself round-robining
// its healthy endpoints, with the lowest-numbered priority that has a
// usable connection taking over the whole picker — is inlined directly
// below instead of faked behind stub packages.
package edspriority

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/grpc/grpc-sub023/balancer"
	"github.com/grpc/grpc-sub023/codes"
	"github.com/grpc/grpc-sub023/connectivity"
	"github.com/grpc/grpc-sub023/internal/channelz"
	"github.com/grpc/grpc-sub023/internal/wrr"
	"github.com/grpc/grpc-sub023/resolver"
	"github.com/grpc/grpc-sub023/status"
	xdsconfig "github.com/grpc/grpc-sub023/xds/config"
)

// Name is the policy name used in service config and balancer.Register.
const Name = "eds_priority_experimental"

func init() {
	balancer.Register(bb{})
}

type bb struct{}

func (bb) Name() string { return Name }

func (bb) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	b := &edsBalancer{
		cc:        cc,
		buildOpts: opts,
		logger:    channelz.NewPrefixLogger("eds-priority", nil),
	}
	return b
}

// Update is the ClientConnState.BalancerConfig shape this policy expects:
// the most recent EndpointsUpdate from EDS. Callers pass it in directly
// as a Go value rather than through JSON, since the config
// originates from the control plane, not a user-authored service config.
type Update struct {
	Endpoints xdsconfig.EndpointsUpdate
}

type localityEntry struct {
	weight uint32
	subs   []*subEntry
	rr     wrr.WRR
}

type subEntry struct {
	sc    balancer.SubConn
	state connectivity.State
	addr  resolver.Address
}

type priorityGroup struct {
	priority   uint32
	localities map[string]*localityEntry // keyed by LocalityID.ToString()
	eval       balancer.ConnectivityStateEvaluator
	state      connectivity.State
}

// edsBalancer does priority/locality weighted load balancing over the
// addresses an EDS response describes. It is always driven from the
// channel's WorkSerializer, so the mutex below only guards fields also
// read from StateListener callbacks that may race a concurrent update.
type edsBalancer struct {
	cc        balancer.ClientConn
	buildOpts balancer.BuildOptions
	logger    *channelz.PrefixLogger

	mu         sync.Mutex
	priorities []*priorityGroup // sorted ascending, index 0 = highest priority
	subToPG    map[balancer.SubConn]*priorityGroup

	dropConfig []xdsconfig.OverloadDropConfig
	drops      []*dropper
	respSeen   bool
}

func (b *edsBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	upd, ok := s.BalancerConfig.(Update)
	if !ok {
		return fmt.Errorf("edspriority: unexpected balancer config type %T", s.BalancerConfig)
	}
	b.handleEDSResponse(upd.Endpoints)
	return nil
}

func (b *edsBalancer) handleEDSResponse(resp xdsconfig.EndpointsUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.respSeen && len(resp.Localities) == 0 {
		b.cc.UpdateState(balancer.State{
			ConnectivityState: connectivity.TransientFailure,
			Picker:            &errPicker{err: status.Errorf(codes.Unavailable, "edspriority: all priorities removed")},
		})
	}
	b.respSeen = true
	b.updateDropsLocked(resp.Drops)

	byPriority := map[uint32][]xdsconfig.Locality{}
	for _, loc := range resp.Localities {
		if loc.Weight == 0 {
			continue
		}
		byPriority[loc.Priority] = append(byPriority[loc.Priority], loc)
	}

	existing := map[uint32]*priorityGroup{}
	for _, pg := range b.priorities {
		existing[pg.priority] = pg
	}

	var next []*priorityGroup
	var priorities []uint32
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	for _, p := range priorities {
		pg, ok := existing[p]
		if !ok {
			pg = &priorityGroup{priority: p, localities: map[string]*localityEntry{}, state: connectivity.Idle}
			b.logger.Infof("new priority %d added", p)
		} else {
			delete(existing, p)
		}
		b.updatePriorityLocked(pg, byPriority[p])
		next = append(next, pg)
	}

	// Anything left in existing was dropped from this response.
	for p, pg := range existing {
		b.shutdownPriorityLocked(pg)
		b.logger.Infof("priority %d deleted", p)
	}

	b.priorities = next
	b.regeneratePickerLocked()
}

func (b *edsBalancer) updatePriorityLocked(pg *priorityGroup, localities []xdsconfig.Locality) {
	seen := map[string]bool{}
	for _, loc := range localities {
		key, err := loc.ID.ToString()
		if err != nil {
			b.logger.Errorf("edspriority: failed to marshal locality id %+v, skipping", loc.ID)
			continue
		}
		seen[key] = true

		var addrs []resolver.Address
		for _, ep := range loc.Endpoints {
			if ep.HealthStatus != xdsconfig.EndpointHealthStatusHealthy && ep.HealthStatus != xdsconfig.EndpointHealthStatusUnknown {
				continue
			}
			addrs = append(addrs, resolver.Address{Addr: ep.Address})
		}

		le, ok := pg.localities[key]
		if !ok {
			le = &localityEntry{weight: loc.Weight}
			pg.localities[key] = le
		} else {
			le.weight = loc.Weight
		}
		b.reconcileLocalitySubsLocked(pg, le, addrs)
	}

	for key, le := range pg.localities {
		if seen[key] {
			continue
		}
		for _, se := range le.subs {
			se.sc.Shutdown()
			delete(b.subToPG, se.sc)
		}
		delete(pg.localities, key)
	}
}

func (b *edsBalancer) reconcileLocalitySubsLocked(pg *priorityGroup, le *localityEntry, addrs []resolver.Address) {
	want := map[string]resolver.Address{}
	for _, a := range addrs {
		want[a.Addr] = a
	}
	kept := le.subs[:0]
	for _, se := range le.subs {
		if _, ok := want[se.addr.Addr]; ok {
			kept = append(kept, se)
			delete(want, se.addr.Addr)
		} else {
			se.sc.Shutdown()
			delete(b.subToPG, se.sc)
		}
	}
	le.subs = kept
	if b.subToPG == nil {
		b.subToPG = map[balancer.SubConn]*priorityGroup{}
	}
	for _, a := range addrs {
		if _, stillWanted := want[a.Addr]; !stillWanted {
			continue
		}
		se := &subEntry{addr: a, state: connectivity.Idle}
		sc, err := b.cc.NewSubConn([]resolver.Address{a}, balancer.NewSubConnOptions{
			StateListener: func(s balancer.SubConnState) { b.updateSubConnState(se, pg, s) },
		})
		if err != nil {
			continue
		}
		se.sc = sc
		b.subToPG[sc] = pg
		le.subs = append(le.subs, se)
		sc.Connect()
	}
}

func (b *edsBalancer) shutdownPriorityLocked(pg *priorityGroup) {
	for _, le := range pg.localities {
		for _, se := range le.subs {
			se.sc.Shutdown()
			delete(b.subToPG, se.sc)
		}
	}
}

func (b *edsBalancer) updateSubConnState(se *subEntry, pg *priorityGroup, s balancer.SubConnState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subToPG[se.sc]; !ok && s.ConnectivityState != connectivity.Shutdown {
		return
	}
	old := se.state
	se.state = s.ConnectivityState
	pg.state = pg.eval.RecordTransition(old, se.state)
	if se.state == connectivity.Idle {
		se.sc.Connect()
	}
	b.regeneratePickerLocked()
}

// regeneratePickerLocked picks the lowest-numbered priority with a usable
// picker and wraps it in drop support, mirroring eds_impl.go's
// updateState/handlePriorityWithNewState + pickerMu path.
func (b *edsBalancer) regeneratePickerLocked() {
	var chosen *priorityGroup
	overall := connectivity.TransientFailure
	for _, pg := range b.priorities {
		if pg.state == connectivity.Ready {
			chosen = pg
			overall = connectivity.Ready
			break
		}
		if overall != connectivity.Connecting && (pg.state == connectivity.Connecting || pg.state == connectivity.Idle) {
			overall = connectivity.Connecting
			if chosen == nil {
				chosen = pg
			}
		}
	}
	if chosen == nil && len(b.priorities) > 0 {
		chosen = b.priorities[0]
	}

	var inner balancer.Picker
	switch {
	case chosen == nil:
		inner = &errPicker{err: status.Errorf(codes.Unavailable, "edspriority: no priorities configured")}
	case overall == connectivity.Ready:
		inner = newLocalityPicker(chosen)
	case overall == connectivity.Connecting:
		inner = &errPicker{err: balancer.ErrNoSubConnAvailable}
	default:
		inner = &errPicker{err: status.Errorf(codes.Unavailable, "edspriority: no healthy priority")}
	}

	b.cc.UpdateState(balancer.State{
		ConnectivityState: overall,
		Picker:            newDropPicker(inner, b.drops),
	})
}

func (b *edsBalancer) updateDropsLocked(cfg []xdsconfig.OverloadDropConfig) {
	b.dropConfig = cfg
	drops := make([]*dropper, 0, len(cfg))
	for _, c := range cfg {
		drops = append(drops, newDropper(c))
	}
	b.drops = drops
}

func (b *edsBalancer) ResolverError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.priorities) == 0 {
		b.cc.UpdateState(balancer.State{
			ConnectivityState: connectivity.TransientFailure,
			Picker:            &errPicker{err: fmt.Errorf("edspriority: resolver error before any endpoints seen: %w", err)},
		})
	}
}

func (b *edsBalancer) ExitIdle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pg := range b.priorities {
		for _, le := range pg.localities {
			for _, se := range le.subs {
				if se.state == connectivity.Idle {
					se.sc.Connect()
				}
			}
		}
	}
}

func (b *edsBalancer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pg := range b.priorities {
		b.shutdownPriorityLocked(pg)
	}
}

// localityPicker weighted-round-robins across a priority's localities
// and, within the chosen locality, round-robins across its READY
// SubConns — the behavior the teacher's balancerGroup +
// weightedaggregator combination produced via two nested layers of
// child balancers.
type localityPicker struct {
	entries []*pickerLocality
	w       wrr.WRR
}

type pickerLocality struct {
	ready []balancer.SubConn
	next  uint32
}

func newLocalityPicker(pg *priorityGroup) *localityPicker {
	p := &localityPicker{w: wrr.NewRandom()}
	for _, le := range pg.localities {
		var ready []balancer.SubConn
		for _, se := range le.subs {
			if se.state == connectivity.Ready {
				ready = append(ready, se.sc)
			}
		}
		if len(ready) == 0 {
			continue
		}
		pl := &pickerLocality{ready: ready}
		p.entries = append(p.entries, pl)
		p.w.Add(pl, int64(le.weight))
	}
	return p
}

func (p *localityPicker) Pick(info balancer.PickInfo) (balancer.PickResult, error) {
	if len(p.entries) == 0 {
		return balancer.PickResult{}, status.Errorf(codes.Unavailable, "edspriority: no ready localities")
	}
	pl, _ := p.w.Next().(*pickerLocality)
	if pl == nil || len(pl.ready) == 0 {
		return balancer.PickResult{}, status.Errorf(codes.Unavailable, "edspriority: no ready localities")
	}
	n := atomic.AddUint32(&pl.next, 1)
	sc := pl.ready[(int(n)-1)%len(pl.ready)]
	return balancer.PickResult{SubConn: sc}, nil
}

type errPicker struct{ err error }

func (p *errPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) { return balancer.PickResult{}, p.err }

// dropper draws a weighted coin flip with Numerator:Denominator-Numerator
// odds of dropping, using the same wrr-backed approach as the teacher's
// util.go newDropper.
type dropper struct {
	c xdsconfig.OverloadDropConfig
	w wrr.WRR
}

func newDropper(c xdsconfig.OverloadDropConfig) *dropper {
	w := wrr.NewRandom()
	w.Add(true, int64(c.Numerator))
	w.Add(false, int64(c.Denominator-c.Numerator))
	return &dropper{c: c, w: w}
}

func (d *dropper) drop() bool {
	v, _ := d.w.Next().(bool)
	return v
}

// dropPicker wraps an inner picker with drop support (ported from the
// teacher's dropPicker in eds_impl.go, minus the load-reporting and
// circuit-breaking counters, which are out of this spec's scope).
type dropPicker struct {
	inner balancer.Picker
	drops []*dropper
}

func newDropPicker(inner balancer.Picker, drops []*dropper) *dropPicker {
	return &dropPicker{inner: inner, drops: drops}
}

func (d *dropPicker) Pick(info balancer.PickInfo) (balancer.PickResult, error) {
	for _, dp := range d.drops {
		if dp.drop() {
			// Tagged with DetailLBDrop so the channel's pick loop treats
			// this as terminal (spec.md §3 Drop: "fail the call without
			// attempting any backend") instead of re-queuing it for a
			// wait-for-ready call, the way a plain Unavailable would be.
			return balancer.PickResult{}, status.New(codes.Unavailable, fmt.Sprintf("RPC is dropped (category=%s)", dp.c.Category)).WithDetail(status.DetailLBDrop).Err()
		}
	}
	return d.inner.Pick(info)
}
