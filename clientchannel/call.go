package clientchannel

import (
	"context"
	"sync"
	"time"

	"github.com/grpc/grpc-sub023/codes"
	"github.com/grpc/grpc-sub023/serviceconfig"
	"github.com/grpc/grpc-sub023/status"
)

// Opcode identifies one of the six batch operations a Call's StartBatch
// may combine (spec.md §3 Call, §4.7: "six-way indexed by opcode").
type Opcode int

const (
	OpSendInitialMetadata Opcode = iota
	OpSendMessage
	OpSendTrailingMetadata
	OpRecvInitialMetadata
	OpRecvMessage
	OpRecvTrailingMetadata
)

// Batch is a set of operations the application submits together, each
// with its own completion callback invoked with a nil error on success
// (spec.md §4.7). A Batch must not repeat an opcode.
type Batch struct {
	Ops map[Opcode]func(error)
	// Path is read only when Ops contains OpSendInitialMetadata.
	Path string
	// WaitForReady, if non-nil, is the application's explicit override;
	// a method config's wait-for-ready only applies when this is nil
	// (spec.md §4.7: "iff the method config specifies it and the
	// application did not").
	WaitForReady *bool
	// Deadline is the application's deadline for the call; the zero
	// value means none.
	Deadline time.Time
}

func (b Batch) has(op Opcode) bool { _, ok := b.Ops[op]; return ok }

// failBatch invokes every callback in b with err. This is what the spec
// calls "failing pending batches" — here there is no call-combiner to
// yield, so callbacks simply run on the calling goroutine.
func failBatch(b Batch, err error) {
	for _, cb := range b.Ops {
		if cb != nil {
			cb(err)
		}
	}
}

// Call is the per-call pipeline: queue while unresolved, apply config,
// pick, attach to a subchannel call (spec.md §3 Call, §4.7 CallData).
// There is no literal call-combiner or arena here: ctx cancellation and
// Go's garbage collector play those roles respectively, and the spec's
// "yield the combiner" discipline becomes "never call back while holding
// call.mu".
type Call struct {
	chand *Channel

	mu        sync.Mutex
	cancelErr error
	started   bool
	pending   []Batch
	lbCall    *loadBalancedCall
}

// NewCall creates an unstarted Call bound to chand.
func (c *Channel) NewCall() *Call {
	return &Call{chand: c}
}

// StartBatch submits b (spec.md §6 "StartBatch(ops)"). Batches before
// send_initial_metadata are stashed without blocking (spec.md §4.7
// "must not stall ... stashed ... replayed ... once a downstream call
// exists"); a batch containing send_initial_metadata drives the full
// resolution-gate -> config-selector -> pick pipeline and blocks until
// the call is attached to a subchannel call, fails, or ctx is canceled.
func (c *Call) StartBatch(ctx context.Context, b Batch) error {
	c.mu.Lock()
	if c.cancelErr != nil {
		err := c.cancelErr
		c.mu.Unlock()
		failBatch(b, err)
		return err
	}
	if b.has(OpSendInitialMetadata) {
		c.mu.Unlock()
		return c.runResolutionGate(ctx, b)
	}
	if !c.started {
		c.pending = append(c.pending, b)
		c.mu.Unlock()
		return nil
	}
	lb := c.lbCall
	c.mu.Unlock()
	lb.forward(b)
	return nil
}

// Cancel implements the spec's "cancel_stream" op: it stores the error,
// fails every pending batch, and forwards the cancel to any downstream
// call (spec.md §4.7 "Cancellation first").
func (c *Call) Cancel(err error) {
	if err == nil {
		err = status.Error(codes.Canceled, "clientchannel: call canceled")
	}
	c.mu.Lock()
	if c.cancelErr != nil {
		c.mu.Unlock()
		return
	}
	c.cancelErr = err
	pending := c.pending
	c.pending = nil
	lb := c.lbCall
	c.mu.Unlock()

	for _, b := range pending {
		failBatch(b, err)
	}
	if lb != nil {
		lb.cancel(err)
	}
}

// runResolutionGate implements spec.md §4.7's resolution gate: exit IDLE
// if needed, wait for a usable service config (fail-fast unless
// wait-for-ready and the resolver is in transient failure), then apply
// the ConfigSelector and hand the call to a LoadBalancedCall.
func (c *Call) runResolutionGate(ctx context.Context, b Batch) error {
	c.chand.CheckConnectivityState(true)

	var cfg *serviceconfig.Config
	var cs serviceconfig.ConfigSelector
	for {
		var resolverErr error
		cfg, cs, resolverErr = c.chand.resolutionSnapshot()
		if cfg != nil {
			break
		}
		if resolverErr != nil && !waitForReady(b.WaitForReady, false) {
			err := status.Errorf(codes.Unavailable, "clientchannel: resolution failed: %v", resolverErr)
			c.mu.Lock()
			c.cancelErr = err
			c.mu.Unlock()
			failBatch(b, err)
			return err
		}
		if err := c.chand.resolveQ.wait(ctx); err != nil {
			c.mu.Lock()
			c.cancelErr = err
			c.mu.Unlock()
			failBatch(b, err)
			return err
		}
	}

	cc, err := cs.SelectConfig(b.Path)
	if err != nil {
		c.mu.Lock()
		c.cancelErr = err
		c.mu.Unlock()
		failBatch(b, err)
		return err
	}

	deadline := earliestDeadline(b.Deadline, cc.MethodConfig.Timeout)
	methodWFR := cc.MethodConfig.WaitForReady != nil && *cc.MethodConfig.WaitForReady
	wfr := waitForReady(b.WaitForReady, methodWFR)

	c.mu.Lock()
	if c.cancelErr != nil {
		err := c.cancelErr
		c.mu.Unlock()
		failBatch(b, err)
		return err
	}
	c.started = true
	pending := c.pending
	c.pending = nil
	lb := newLoadBalancedCall(c.chand, b.Path, cc, wfr, deadline)
	c.lbCall = lb
	c.mu.Unlock()

	lb.forward(b)
	for _, pb := range pending {
		lb.forward(pb)
	}
	return lb.run(ctx)
}

func earliestDeadline(appDeadline time.Time, methodTimeout time.Duration) time.Time {
	if methodTimeout <= 0 {
		return appDeadline
	}
	methodDeadline := time.Now().Add(methodTimeout)
	if appDeadline.IsZero() || methodDeadline.Before(appDeadline) {
		return methodDeadline
	}
	return appDeadline
}

func waitForReady(appOverride *bool, methodDefault bool) bool {
	if appOverride != nil {
		return *appOverride
	}
	return methodDefault
}
