package clientchannel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/grpc/grpc-sub023/balancer"
	"github.com/grpc/grpc-sub023/codes"
	"github.com/grpc/grpc-sub023/connectivity"
	"github.com/grpc/grpc-sub023/internal/channelz"
	"github.com/grpc/grpc-sub023/internal/grpcsync"
	"github.com/grpc/grpc-sub023/resolver"
	"github.com/grpc/grpc-sub023/serviceconfig"
	"github.com/grpc/grpc-sub023/status"
)

// Channel is the client-channel control plane: one WorkSerializer-driven
// state machine coordinating a Resolver, a Balancer, its SubConns, and the
// picker/config-selector pair the data plane reads (spec.md §4.6
// ClientChannel).
type Channel struct {
	target resolver.Target
	args   Args

	connector      Connector
	subchannelPool *SubchannelPool
	logger         *channelz.PrefixLogger
	channelzNode   *channelz.Channel

	serializer *grpcsync.CallbackSerializer
	shutdownWG sync.WaitGroup

	state *stateTracker

	// resolver-side, only touched from inside serializer.
	resolverBuilder resolver.Builder
	resolverWrapper resolver.Resolver
	lastResolverErr error

	// buildingResolver is true for the duration of resolverBuilder.Build,
	// which some Builders (e.g. passthrough) call resolverClientConn.
	// UpdateState from synchronously, on the same goroutine that is
	// currently draining the serializer to run exitIdleLocked itself.
	// UpdateState consults it to avoid scheduling a callback that only
	// that same, currently-blocked goroutine could ever drain.
	buildingResolver atomic.Bool

	// balancer-side, only touched from inside serializer.
	balancerWrapper balancer.Balancer
	lbPolicyName    string

	// lastGoodConfig is the most recently accepted service config; the
	// channel keeps applying it across resolver errors until a new
	// result supersedes it (spec.md §4.4 "retains the last-known-good
	// config across a resolution failure").
	lastGoodConfig *serviceconfig.Config

	// dataMu guards the data-plane snapshot: the current picker, the
	// published config selector and active config a Call's resolution
	// gate reads, the last resolver error (for the fail-fast check), and
	// the publication of every live SubConn's data-plane transport
	// pointer (spec.md §3 invariant). It is disjoint from the
	// serializer: a pick never waits on the control plane.
	dataMu         sync.Mutex
	picker         balancer.Picker
	activeConfig   *serviceconfig.Config
	configSelector serviceconfig.ConfigSelector
	resolverErr    error
	pendingPublish []*subchannelWrapper
	pickQ          *pickWaitQueue
	resolveQ       *resolverWaitQueue

	mu       sync.Mutex
	disconnectErr error // non-nil after EnterIdle or Close; cleared when the channel exits IDLE

	watchersMu sync.Mutex
	extWatchers map[*ExternalConnectivityWatcher]struct{}
}

// Dial creates a Channel for target in IDLE (spec.md §4.6
// channel-creation entry point); resolution starts on first use. The
// Connector supplies the transport seam subchannels use to actually
// connect.
func Dial(target string, connector Connector, args Args) (*Channel, error) {
	parsed := resolver.ParseTarget(target)
	rb := resolver.Get(parsed.Scheme)
	if rb == nil {
		return nil, status.Errorf(codes.InvalidArgument, "clientchannel: no resolver registered for scheme %q", parsed.Scheme)
	}

	pool := NewGlobalPool()
	if args.UseLocalSubchannelPool {
		pool = NewLocalPool()
	}

	c := &Channel{
		target:          parsed,
		args:            args,
		connector:       connector,
		subchannelPool:  pool,
		logger:          channelz.NewPrefixLogger("clientchannel", nil),
		channelzNode:    channelz.NewChannel(parsed.String(), 64),
		serializer:      grpcsync.NewCallbackSerializer(context.Background()),
		state:           newStateTracker(connectivity.Idle),
		resolverBuilder: rb,
		lbPolicyName:    args.LBPolicyName,
		pickQ:           newPickWaitQueue(),
		resolveQ:        newResolverWaitQueue(),
		extWatchers:     map[*ExternalConnectivityWatcher]struct{}{},
	}
	if c.lbPolicyName == "" {
		c.lbPolicyName = "pick_first"
	}

	// The resolver and balancer are built lazily: on first call arrival
	// (Call.runResolutionGate) or an explicit CheckConnectivityState(true),
	// not here, so a freshly dialed channel genuinely starts IDLE.
	return c, nil
}

// ChannelzNode exposes the channel's channelz entity for introspection.
func (c *Channel) ChannelzNode() *channelz.Channel { return c.channelzNode }

// CurrentState implements connectivity.Reporter.
func (c *Channel) CurrentState() connectivity.State { return c.state.CurrentState() }

// Target returns the channel's dial target string.
func (c *Channel) Target() string { return c.target.String() }

// exitIdle starts (or restarts) resolution and the balancer; called
// whenever a call's arrival or CheckConnectivityState(true) needs to kick
// the channel out of IDLE (spec.md §4.6 ExitIdleLocked).
func (c *Channel) exitIdle() {
	c.serializer.Schedule(func(context.Context) {
		c.exitIdleLocked()
	})
}

func (c *Channel) exitIdleLocked() {
	if c.state.CurrentState() != connectivity.Idle {
		return
	}
	c.mu.Lock()
	c.disconnectErr = nil
	c.mu.Unlock()
	c.pickQ.reset()
	c.resolveQ.reset()

	c.state.SetState(connectivity.Connecting)
	if c.resolverWrapper == nil {
		c.buildingResolver.Store(true)
		w, err := c.resolverBuilder.Build(c.target, (*resolverClientConn)(c), resolver.BuildOptions{})
		c.buildingResolver.Store(false)
		if err != nil {
			c.onResolverError(err)
			return
		}
		c.resolverWrapper = w
		return
	}
	if b, ok := c.balancerWrapper.(balancer.ExitIdler); ok {
		b.ExitIdle()
	}
}

// onResolverResult is resolver.ClientConn.UpdateState's implementation,
// run inside the serializer (spec.md §4.6
// OnResolverResultChangedLocked).
func (c *Channel) onResolverResult(state resolver.State) error {
	c.lastResolverErr = nil

	cfg := c.selectServiceConfig(state)
	if cfg == nil {
		err := status.Error(codes.Unavailable, "clientchannel: no usable service config and no previous one cached")
		c.dataMu.Lock()
		c.resolverErr = err
		c.dataMu.Unlock()
		c.state.SetState(connectivity.TransientFailure)
		return err
	}
	c.lastGoodConfig = cfg

	cs := state.ConfigSelector
	if cs == nil {
		cs = serviceconfig.DefaultConfigSelector{Config: cfg}
	}

	lbName := c.lbPolicyName
	var lbCfg serviceconfig.LoadBalancingConfig
	if cfg.LBPolicyName != "" {
		lbName = cfg.LBPolicyName
		lbCfg = cfg.LBPolicyConfig
	}

	if err := c.createOrUpdateLBPolicyLocked(lbName, state, lbCfg); err != nil {
		return err
	}

	// Published to the data plane only after the LB policy has absorbed
	// the update (spec.md §4.6 step 5), so a call that observes the new
	// ConfigSelector can also reach the destinations it selects.
	c.dataMu.Lock()
	c.activeConfig = cfg
	c.configSelector = cs
	c.resolverErr = nil
	c.dataMu.Unlock()

	c.resolveQ.drainAll()
	return nil
}

// createOrUpdateLBPolicyLocked builds a new Balancer if the policy name
// changed (closing the old one), then always forwards the resolver result
// to whichever Balancer is current (spec.md §4.6
// CreateOrUpdateLbPolicyLocked).
func (c *Channel) createOrUpdateLBPolicyLocked(name string, rState resolver.State, lbCfg serviceconfig.LoadBalancingConfig) error {
	builder := balancer.Get(name)
	if builder == nil {
		return status.Errorf(codes.Unavailable, "clientchannel: no balancer registered for policy %q", name)
	}
	if c.balancerWrapper == nil || name != c.currentLBName(builder) {
		if c.balancerWrapper != nil {
			c.balancerWrapper.Close()
		}
		c.balancerWrapper = builder.Build((*balancerClientConn)(c), balancer.BuildOptions{Target: c.target})
		c.lbPolicyName = name
	}
	return c.balancerWrapper.UpdateClientConnState(balancer.ClientConnState{
		ResolverState:  rState,
		BalancerConfig: lbCfg,
	})
}

// currentLBName is a best-effort check used only to decide whether the LB
// policy must be rebuilt; builder identity (not just name) is what
// actually matters, so a same-named re-registration also rebuilds.
func (c *Channel) currentLBName(builder balancer.Builder) string {
	if c.balancerWrapper == nil {
		return ""
	}
	return builder.Name()
}

func (c *Channel) selectServiceConfig(state resolver.State) *serviceconfig.Config {
	if state.ServiceConfig != nil {
		if state.ServiceConfig.Err == nil && state.ServiceConfig.Config != nil {
			return state.ServiceConfig.Config
		}
		if c.logger != nil {
			c.logger.Warningf("service config parse error, retaining last-known-good config: %v", state.ServiceConfig.Err)
		}
	}
	if c.lastGoodConfig != nil {
		return c.lastGoodConfig
	}
	if c.args.DefaultServiceConfig != "" {
		res := (*resolverClientConn)(c).ParseServiceConfig(c.args.DefaultServiceConfig)
		if res.Err == nil {
			return res.Config
		}
	}
	if state.ServiceConfig != nil {
		// The resolver's config was invalid and there is nothing to fall
		// back to.
		return nil
	}
	return &serviceconfig.Config{}
}

func (c *Channel) onResolverError(err error) {
	c.lastResolverErr = err
	c.dataMu.Lock()
	c.resolverErr = err
	c.dataMu.Unlock()

	if c.logger != nil {
		c.logger.Warningf("resolver error: %v", err)
	}
	if c.balancerWrapper != nil {
		c.balancerWrapper.ResolverError(err)
		return
	}
	if c.lastGoodConfig == nil {
		c.state.SetState(connectivity.TransientFailure)
		c.resolveQ.rejectAll(err)
	}
}

// updateStateAndPicker is balancer.ClientConn.UpdateState's
// implementation (spec.md §4.6 UpdateStateAndPickerLocked): publishes the
// aggregate connectivity state, swaps in the new picker under the
// data-plane lock, snapshots every live SubConn's transport pointer, and
// drains queued picks.
func (c *Channel) updateStateAndPicker(st balancer.State) {
	c.state.SetState(st.ConnectivityState)

	c.dataMu.Lock()
	c.picker = st.Picker
	c.publishSubConnsLocked()
	c.dataMu.Unlock()

	c.pickQ.drainAll()
}

// markPendingTransportUpdate records that w's control-plane transport
// changed since the last picker publication, so publishSubConnsLocked only
// has to walk the delta instead of every live SubConn.
func (c *Channel) markPendingTransportUpdate(w *subchannelWrapper, _ connectivity.State) {
	c.dataMu.Lock()
	c.pendingPublish = append(c.pendingPublish, w)
	c.dataMu.Unlock()
}

func (c *Channel) publishSubConnsLocked() {
	for _, w := range c.pendingPublish {
		w.publishDataPlane()
	}
	c.pendingPublish = c.pendingPublish[:0]
}

// Pick chooses a SubConn's data-plane transport for one call (spec.md
// §4.8 pick loop, minus the retry/hedging layer this core excludes). It
// is safe to call concurrently with any number of other Picks and does
// not take the control-plane lock. waitForReady governs only the
// "Fail" outcome (spec.md §4.8: "A Fail pick with WAIT_FOR_READY
// re-parks as Queue. Otherwise it fails the call with the pick error.");
// Queue and Drop behave the same regardless of waitForReady.
func (c *Channel) Pick(ctx context.Context, info balancer.PickInfo, waitForReady bool) (ConnectedTransport, func(balancer.DoneInfo), error) {
	for {
		c.dataMu.Lock()
		disconnect := c.disconnectErrLocked()
		if disconnect != nil {
			c.dataMu.Unlock()
			return nil, nil, disconnect
		}
		p := c.picker
		c.dataMu.Unlock()

		// No balancer has published a picker yet; queuePicker stands in
		// so the ErrNoSubConnAvailable branch below handles both cases
		// uniformly instead of special-casing nil.
		if p == nil {
			p = queuePicker{}
		}
		if c.state.CurrentState() == connectivity.Idle {
			c.exitIdle()
		}

		res, err := p.Pick(info)
		switch {
		case err == balancer.ErrNoSubConnAvailable:
			if err := c.pickQ.wait(ctx); err != nil {
				return nil, nil, err
			}
			continue
		case err != nil:
			s, ok := status.FromError(err)
			if ok && s.Detail() == status.DetailLBDrop {
				return nil, nil, err
			}
			if waitForReady {
				if err := c.pickQ.wait(ctx); err != nil {
					return nil, nil, err
				}
				continue
			}
			return nil, nil, err
		}

		if res.SubConn == nil {
			return nil, nil, errLBDrop()
		}
		w, ok := res.SubConn.(*subchannelWrapper)
		if !ok {
			return nil, nil, status.Error(codes.Unknown, "clientchannel: picker returned a foreign SubConn")
		}
		tx := w.dataPlaneTransport()
		if tx == nil {
			if err := c.pickQ.wait(ctx); err != nil {
				return nil, nil, err
			}
			continue
		}
		done := func(info balancer.DoneInfo) {
			if res.Done != nil {
				res.Done(info)
			}
		}
		return tx, done, nil
	}
}

func (c *Channel) disconnectErrLocked() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectErr
}

// SelectConfig applies the channel's current ConfigSelector to path
// (spec.md §4.7 "apply the ConfigSelector").
func (c *Channel) SelectConfig(path string) (serviceconfig.CallConfig, error) {
	c.dataMu.Lock()
	cs := c.configSelector
	c.dataMu.Unlock()
	if cs == nil {
		return serviceconfig.CallConfig{}, status.Error(codes.Unavailable, "clientchannel: no service config available yet")
	}
	return cs.SelectConfig(path)
}

// resolutionSnapshot reads the data-plane-published resolution outcome a
// Call's resolution gate needs: whether a service config is available
// yet, and if not, the most recent resolver error (spec.md §4.7
// resolution gate: "if the resolver is in transient failure and the call
// is not wait-for-ready, fail ... otherwise enqueue").
func (c *Channel) resolutionSnapshot() (cfg *serviceconfig.Config, cs serviceconfig.ConfigSelector, resolverErr error) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.activeConfig, c.configSelector, c.resolverErr
}

// ResetConnectBackoff forwards a backoff reset to the current balancer if
// it implements balancer.BackoffResetter (spec.md §4.6
// ResetConnectionBackoff). None of the bundled policies (pick_first,
// round_robin, eds_priority_experimental) implement it, so under them
// this call resets no subchannel's backoff.
func (c *Channel) ResetConnectBackoff() {
	c.serializer.Schedule(func(context.Context) {
		if b, ok := c.balancerWrapper.(balancer.BackoffResetter); ok {
			b.ResetBackoff()
		}
	})
}

// EnterIdle forces the channel back to IDLE, tearing down the resolver
// and balancer but leaving the Channel object itself usable (spec.md §4.6
// "targeted enter-IDLE", resolving the Open Question via
// status.DetailDisconnectIdle).
func (c *Channel) EnterIdle() {
	c.serializer.Schedule(func(context.Context) {
		if c.state.CurrentState() == connectivity.Idle {
			return
		}
		c.mu.Lock()
		c.disconnectErr = newEnterIdleError()
		c.mu.Unlock()

		if c.resolverWrapper != nil {
			c.resolverWrapper.Close()
			c.resolverWrapper = nil
		}
		if c.balancerWrapper != nil {
			c.balancerWrapper.Close()
			c.balancerWrapper = nil
		}
		c.dataMu.Lock()
		c.picker = nil
		c.activeConfig = nil
		c.configSelector = nil
		c.resolverErr = nil
		c.dataMu.Unlock()
		c.state.SetState(connectivity.Idle)

		c.pickQ.failAll(c.disconnectErr)
		c.resolveQ.failAll(c.disconnectErr)
	})
}

// Close shuts the channel down irrevocably (spec.md §4.6 ShutdownLocked).
func (c *Channel) Close() {
	c.mu.Lock()
	if c.disconnectErr != nil && isShutdown(c.disconnectErr) {
		c.mu.Unlock()
		return
	}
	c.disconnectErr = newShutdownError()
	c.mu.Unlock()

	done := make(chan struct{})
	c.serializer.Schedule(func(context.Context) {
		defer close(done)
		if c.resolverWrapper != nil {
			c.resolverWrapper.Close()
		}
		if c.balancerWrapper != nil {
			c.balancerWrapper.Close()
		}
		c.dataMu.Lock()
		c.picker = nil
		c.dataMu.Unlock()
		c.state.SetState(connectivity.Shutdown)
		c.pickQ.failAll(c.disconnectErr)
		c.resolveQ.failAll(c.disconnectErr)
	})
	<-done
	c.serializer.Close()
}

// resolverClientConn adapts *Channel to resolver.ClientConn.
type resolverClientConn Channel

// UpdateState schedules the resolver result onto the serializer and blocks
// until it has actually been processed, so the returned error genuinely
// reflects whether the state was accepted (resolver.go's documented
// contract) instead of racing the as-yet-unexecuted callback. Schedule
// only guarantees ordering, not immediacy — the callback may run on this
// goroutine or on whichever one is already draining the queue — so the
// result has to come back over a channel rather than a captured variable.
func (r *resolverClientConn) UpdateState(state resolver.State) error {
	c := (*Channel)(r)
	if c.buildingResolver.Load() {
		// resolverBuilder.Build is calling us back synchronously, on the
		// goroutine that is itself currently draining the serializer to
		// run exitIdleLocked (which invoked Build). That goroutine is the
		// only one that could ever drain a newly scheduled callback, so
		// scheduling and blocking here would deadlock it against itself.
		// We're already running exclusively inside the one active
		// callback, so it's safe to just run the handler inline.
		return c.onResolverResult(state)
	}
	errCh := make(chan error, 1)
	if !c.serializer.Schedule(func(context.Context) {
		errCh <- c.onResolverResult(state)
	}) {
		return nil
	}
	return <-errCh
}

func (r *resolverClientConn) ReportError(err error) {
	c := (*Channel)(r)
	c.serializer.Schedule(func(context.Context) {
		c.onResolverError(err)
	})
}

func (r *resolverClientConn) ParseServiceConfig(jsonRepresentation string) *serviceconfig.ParseResult {
	return parseServiceConfigJSON(jsonRepresentation)
}

// balancerClientConn adapts *Channel to balancer.ClientConn.
type balancerClientConn Channel

func (b *balancerClientConn) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	c := (*Channel)(b)
	return c.newSubchannelWrapper(addrs, opts)
}

func (b *balancerClientConn) UpdateState(st balancer.State) {
	c := (*Channel)(b)
	c.updateStateAndPicker(st)
}

func (b *balancerClientConn) ResolveNow(opts resolver.ResolveNowOptions) {
	c := (*Channel)(b)
	if c.resolverWrapper != nil {
		c.resolverWrapper.ResolveNow(opts)
	}
}

func (b *balancerClientConn) Target() string {
	return (*Channel)(b).target.String()
}
