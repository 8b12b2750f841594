package clientchannel

import (
	"context"
	"sync"
	"time"

	"github.com/grpc/grpc-sub023/balancer"
	"github.com/grpc/grpc-sub023/serviceconfig"
)

// loadBalancedCall owns one pick attempt (spec.md §4.8 LoadBalancedCall:
// "today one per call; the design accommodates hedging as a future
// extension by making picks independent").
type loadBalancedCall struct {
	chand        *Channel
	path         string
	attrs        serviceconfig.CallAttributes
	onCommitted  func()
	waitForReady bool
	deadline     time.Time

	mu        sync.Mutex
	canceled  error
	committed bool
	sub       SubchannelCall
	stashed   []Batch // batches that arrived before the pick completed
	onDone    func(balancer.DoneInfo)
}

func newLoadBalancedCall(chand *Channel, path string, cc serviceconfig.CallConfig, waitForReady bool, deadline time.Time) *loadBalancedCall {
	return &loadBalancedCall{
		chand:        chand,
		path:         path,
		attrs:        cc.Attributes,
		onCommitted:  cc.OnCommitted,
		waitForReady: waitForReady,
		deadline:     deadline,
	}
}

// forward hands b to the materialized subchannel call if one already
// exists, or stashes it until the pick completes (spec.md §4.7: "batches
// that arrive before send_initial_metadata must not stall ... they are
// stashed ... replayed as a single closure list once a downstream call
// exists" — here the same stash applies to anything arriving while the
// pick is still in flight).
func (lb *loadBalancedCall) forward(b Batch) {
	lb.mu.Lock()
	if lb.canceled != nil {
		err := lb.canceled
		lb.mu.Unlock()
		failBatch(b, err)
		return
	}
	if lb.sub == nil {
		lb.stashed = append(lb.stashed, b)
		lb.mu.Unlock()
		return
	}
	sub := lb.sub
	lb.mu.Unlock()
	lb.dispatch(sub, b)
}

// dispatch intercepts two of b's callbacks before forwarding to the
// subchannel call: recv_initial_metadata fires the config-selector's
// commit hook exactly once on arrival (spec.md §4.7 "Config-selector
// commit"), and recv_trailing_metadata reports the attempt's outcome to
// the picker's Done hook (spec.md §4.8 "Trailing-metadata interception":
// the per-call backend-metric feedback channel).
func (lb *loadBalancedCall) dispatch(sub SubchannelCall, b Batch) {
	_, hasInitial := b.Ops[OpRecvInitialMetadata]
	_, hasTrailing := b.Ops[OpRecvTrailingMetadata]
	if hasInitial || hasTrailing {
		wrapped := make(map[Opcode]func(error), len(b.Ops))
		for op, f := range b.Ops {
			wrapped[op] = f
		}
		if cb := wrapped[OpRecvInitialMetadata]; hasInitial {
			wrapped[OpRecvInitialMetadata] = func(err error) {
				lb.commitOnce()
				if cb != nil {
					cb(err)
				}
			}
		}
		if cb := wrapped[OpRecvTrailingMetadata]; hasTrailing {
			wrapped[OpRecvTrailingMetadata] = func(err error) {
				lb.mu.Lock()
				done := lb.onDone
				lb.mu.Unlock()
				if done != nil {
					done(balancer.DoneInfo{Err: err})
				}
				if cb != nil {
					cb(err)
				}
			}
		}
		b.Ops = wrapped
	}
	sub.StartTransportStreamOpBatch(b)
}

func (lb *loadBalancedCall) commitOnce() {
	lb.mu.Lock()
	if lb.committed {
		lb.mu.Unlock()
		return
	}
	lb.committed = true
	onCommitted := lb.onCommitted
	lb.mu.Unlock()
	if onCommitted != nil {
		onCommitted()
	}
}

// cancel implements the downstream half of Call.Cancel: fail every
// stashed batch and forward the cancel to the subchannel call if one
// exists (spec.md §4.7 "if a downstream call already exists, forwards
// the cancel").
func (lb *loadBalancedCall) cancel(err error) {
	lb.mu.Lock()
	if lb.canceled != nil {
		lb.mu.Unlock()
		return
	}
	lb.canceled = err
	stashed := lb.stashed
	lb.stashed = nil
	sub := lb.sub
	lb.mu.Unlock()

	for _, b := range stashed {
		failBatch(b, err)
	}
	if sub != nil {
		sub.StartTransportStreamOpBatch(Batch{Ops: map[Opcode]func(error){
			OpSendTrailingMetadata: func(error) {},
		}})
	}
}

// run drives the pick loop to completion (spec.md §4.8): a Complete pick
// with a live transport materializes a subchannel call and replays every
// stashed batch onto it; a drop fails the call with LB_POLICY_DROP; a
// non-wait-for-ready failure propagates; everything else re-queues
// through Channel.Pick.
func (lb *loadBalancedCall) run(ctx context.Context) error {
	if !lb.deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, lb.deadline)
		defer cancel()
	}

	info := balancer.PickInfo{FullMethodName: lb.path, CallAttributes: lb.attrs}
	for {
		tx, done, err := lb.chand.Pick(ctx, info, lb.waitForReady)
		if err != nil {
			return lb.fail(err)
		}

		sub, err := tx.NewStream(lb.path)
		if err != nil {
			if done != nil {
				done(balancer.DoneInfo{Err: err})
			}
			if lb.waitForReady {
				continue
			}
			return lb.fail(err)
		}

		lb.mu.Lock()
		if lb.canceled != nil {
			canceledErr := lb.canceled
			lb.mu.Unlock()
			return canceledErr
		}
		lb.sub = sub
		lb.onDone = done
		stashed := lb.stashed
		lb.stashed = nil
		lb.mu.Unlock()

		for _, b := range stashed {
			lb.dispatch(sub, b)
		}
		return nil
	}
}

func (lb *loadBalancedCall) fail(err error) error {
	lb.mu.Lock()
	if lb.canceled == nil {
		lb.canceled = err
	}
	stashed := lb.stashed
	lb.stashed = nil
	lb.mu.Unlock()
	for _, b := range stashed {
		failBatch(b, err)
	}
	return err
}
