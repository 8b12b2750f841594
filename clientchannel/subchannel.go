package clientchannel

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grpc/grpc-sub023/connectivity"
	"github.com/grpc/grpc-sub023/internal/backoff"
	"github.com/grpc/grpc-sub023/internal/channelz"
	"github.com/grpc/grpc-sub023/resolver"
)

// SubchannelKey identifies a Subchannel for pool deduplication (spec.md
// §3 "SubchannelKey = (resolved address, uniqueness-relevant subset of
// channel args)"). Only the fields that affect transport construction
// belong here; attributes that vary per LB policy call (e.g. locality
// IDs) must not.
type SubchannelKey struct {
	Addr          string
	KeepaliveTime time.Duration
}

// Connector dials the transport-level connection for one Subchannel
// attempt. It is the seam this spec leaves external (spec.md §1: "the
// wire transport ... out of scope"); tests substitute a fake.
type Connector interface {
	Connect(key SubchannelKey) (ConnectedTransport, error)
}

// ConnectedTransport is the opaque, established connection a Subchannel
// holds while READY (spec.md §6 Transport boundary: "ConnectedTransport.
// StartStream(call_args) -> SubchannelCall").
type ConnectedTransport interface {
	// NewStream starts a new stream for path on this transport.
	NewStream(path string) (SubchannelCall, error)
	// Close tears down the transport.
	Close()
}

// SubchannelCall is one RPC attempt materialized on a ConnectedTransport
// (spec.md §6: "SubchannelCall.StartTransportStreamOpBatch(batch)").
// Everything below this interface — framing, flow control, the wire
// protocol itself — is the transport's concern and out of this core's
// scope (spec.md §1).
type SubchannelCall interface {
	StartTransportStreamOpBatch(Batch)
}

// StateWatcher is notified exactly once per transition, in order, with
// the new state, an explanatory error (non-nil only for
// TRANSIENT_FAILURE), and the connected transport if the new state is
// READY (spec.md §4.2 WatchConnectivityState).
type StateWatcher func(state connectivity.State, err error, transport ConnectedTransport)

// Subchannel is a logical connection to one endpoint, owned weakly by a
// SubchannelPool and strongly by every SubchannelWrapper that
// references it (spec.md §3 Subchannel). All mutation happens under mu;
// watcher callbacks are invoked synchronously while mu is held, matching
// the teacher's and the original's "notify under the subchannel lock"
// discipline — watchers must not block or re-enter the subchannel.
type Subchannel struct {
	key          SubchannelKey
	addr         resolver.Address
	connector    Connector
	logger       *channelz.PrefixLogger
	channelzNode *channelz.Channel

	backoff *backoff.Strategy

	mu         sync.Mutex
	state      connectivity.State
	lastErr    error
	transport  ConnectedTransport
	shutdown   bool
	retryTimer *time.Timer
	watchers   map[int]StateWatcher
	nextID     int

	refs int // strong refs held by SubchannelWrappers; pool drops it at 0
}

// NewSubchannel creates a Subchannel in IDLE for addr, using connector to
// dial and cfg (or backoff.DefaultConfig if nil) for reconnect backoff.
func NewSubchannel(key SubchannelKey, addr resolver.Address, connector Connector, cfg *backoff.Config, logger *channelz.PrefixLogger) *Subchannel {
	if cfg == nil {
		d := backoff.DefaultConfig
		cfg = &d
	}
	// uuid.NewString gives each subchannel a stable channelz identity that
	// survives address reuse (a new subchannel dialing a recycled address
	// after the old one shut down must not share its predecessor's trace
	// history).
	nodeName := fmt.Sprintf("subchannel(%s)#%s", addr.Addr, uuid.NewString())
	return &Subchannel{
		key:          key,
		addr:         addr,
		connector:    connector,
		logger:       logger,
		channelzNode: channelz.NewChannel(nodeName, 32),
		backoff:      backoff.New(*cfg),
		state:        connectivity.Idle,
		watchers:     map[int]StateWatcher{},
	}
}

// ChannelzNode returns the subchannel's own channelz entity, exposing its
// trace history independently of the owning Channel's.
func (sc *Subchannel) ChannelzNode() *channelz.Channel {
	return sc.channelzNode
}

// CurrentState implements connectivity.Reporter.
func (sc *Subchannel) CurrentState() connectivity.State {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// WatchConnectivityState registers watcher and immediately delivers the
// current state (spec.md §4.2: "notified exactly once per transition...
// watcher is torn down on CancelConnectivityStateWatch or channel
// shutdown"). The returned cancel func is idempotent.
func (sc *Subchannel) WatchConnectivityState(watcher StateWatcher) (cancel func()) {
	sc.mu.Lock()
	id := sc.nextID
	sc.nextID++
	sc.watchers[id] = watcher
	state, err, transport := sc.state, sc.lastErr, sc.transport
	sc.mu.Unlock()

	watcher(state, err, transport)
	return func() { sc.cancelWatch(id) }
}

func (sc *Subchannel) cancelWatch(id int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.watchers, id)
}

// RequestConnection transitions IDLE -> CONNECTING and starts a connect
// attempt; a no-op in any other state (spec.md §4.2).
func (sc *Subchannel) RequestConnection() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.requestConnectionLocked()
}

func (sc *Subchannel) requestConnectionLocked() {
	if sc.shutdown || sc.state != connectivity.Idle {
		return
	}
	sc.startConnectingLocked()
}

func (sc *Subchannel) startConnectingLocked() {
	sc.setStateLocked(connectivity.Connecting, nil, nil)
	go sc.connect()
}

func (sc *Subchannel) connect() {
	transport, err := sc.connector.Connect(sc.key)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.shutdown {
		if transport != nil {
			transport.Close()
		}
		return
	}
	if err != nil {
		sc.scheduleRetryLocked(err)
		return
	}
	sc.backoff.Reset()
	sc.setStateLocked(connectivity.Ready, nil, transport)
}

func (sc *Subchannel) scheduleRetryLocked(err error) {
	sc.setStateLocked(connectivity.TransientFailure, err, nil)
	delay := sc.backoff.NextDelay()
	sc.retryTimer = time.AfterFunc(delay, sc.onRetryTimer)
}

func (sc *Subchannel) onRetryTimer() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.shutdown || sc.state != connectivity.TransientFailure {
		return
	}
	sc.startConnectingLocked()
}

// transportLost moves a READY subchannel back to IDLE (graceful loss) or
// TRANSIENT_FAILURE (backoff-eligible failure), per spec.md §4.2's state
// machine.
func (sc *Subchannel) transportLost(err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.shutdown || sc.state != connectivity.Ready {
		return
	}
	if sc.transport != nil {
		sc.transport.Close()
	}
	if err == nil {
		sc.setStateLocked(connectivity.Idle, nil, nil)
		return
	}
	sc.scheduleRetryLocked(err)
}

// ResetBackoff forces any pending retry timer to fire immediately and
// resets the backoff formula (spec.md §4.2).
func (sc *Subchannel) ResetBackoff() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.backoff.Reset()
	if sc.retryTimer != nil && sc.state == connectivity.TransientFailure {
		sc.retryTimer.Stop()
		sc.startConnectingLocked()
	}
}

// ThrottleKeepaliveTime monotonically raises the keepalive interval used
// by future transports created by this subchannel (spec.md §4.2;
// propagated from GOAWAY-style hints in the real transport).
func (sc *Subchannel) ThrottleKeepaliveTime(newTime time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if newTime > sc.key.KeepaliveTime {
		sc.key.KeepaliveTime = newTime
	}
}

// Shutdown tears down the subchannel irrevocably: any connecting/ready
// transport is closed, the retry timer is stopped, and every watcher
// fires once more with SHUTDOWN.
func (sc *Subchannel) Shutdown() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.shutdown {
		return
	}
	sc.shutdown = true
	if sc.retryTimer != nil {
		sc.retryTimer.Stop()
	}
	if sc.transport != nil {
		sc.transport.Close()
		sc.transport = nil
	}
	sc.setStateLocked(connectivity.Shutdown, nil, nil)
}

func (sc *Subchannel) setStateLocked(state connectivity.State, err error, transport ConnectedTransport) {
	sc.state = state
	sc.lastErr = err
	sc.transport = transport
	if sc.logger != nil {
		sc.logger.Infof("subchannel %s: entering %s", sc.addr.Addr, state)
	}
	channelz.Infof(sc.logger, "subchannel %s -> %s", sc.addr.Addr, state)
	if sc.channelzNode != nil {
		sc.channelzNode.AddTraceEvent(channelz.SeverityInfo, fmt.Sprintf("entering %s", state))
	}
	for _, w := range sc.watchers {
		w(state, err, transport)
	}
}

func (sc *Subchannel) addRef() {
	sc.mu.Lock()
	sc.refs++
	sc.mu.Unlock()
}

// releaseRef drops one strong ref and reports whether it was the last
// one (the pool tears the subchannel down when this is true).
func (sc *Subchannel) releaseRef() (last bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.refs--
	return sc.refs <= 0
}
