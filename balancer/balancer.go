/*
 * Copyright 2017 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package balancer defines the pluggable load-balancing-policy contract
// (spec.md §4.5): a Builder produces a Balancer bound to a
// channel-control helper (ClientConn below); the Balancer consumes
// resolver results and subconn state and emits a Picker.
package balancer

import (
	"strings"
	"sync"

	"github.com/grpc/grpc-sub023/connectivity"
	"github.com/grpc/grpc-sub023/resolver"
	"github.com/grpc/grpc-sub023/serviceconfig"
)

// SubConn is the LB-facing handle for one address (spec.md §3
// SubchannelWrapper, exposed to policies as an opaque interface so they
// never see the concrete Subchannel/pool machinery).
type SubConn interface {
	// UpdateAddresses updates the address(es) this SubConn should use,
	// without tearing down an established connection unnecessarily.
	UpdateAddresses([]resolver.Address)
	// Connect starts connecting if currently IDLE; otherwise a no-op
	// (spec.md §4.2 RequestConnection).
	Connect()
	// Shutdown irrevocably tears down the SubConn.
	Shutdown()
}

// NewSubConnOptions carries options for ClientConn.NewSubConn.
type NewSubConnOptions struct {
	// StateListener is invoked (from the WorkSerializer) on every
	// connectivity transition of the created SubConn.
	StateListener func(SubConnState)
	// HealthCheckEnabled requests a named-service health watch in
	// addition to the transport-level connectivity watch (spec.md §4.2
	// "optionally per health-check service name").
	HealthCheckEnabled bool
	HealthCheckService string
}

// SubConnState describes a SubConn's connectivity transition.
type SubConnState struct {
	ConnectivityState connectivity.State
	ConnectionError   error
}

// State is what a Balancer reports to the channel (spec.md §3 Picker /
// §4.5 "its sole control input to the data plane").
type State struct {
	ConnectivityState connectivity.State
	Picker            Picker
}

// ClientConn is the channel-control helper injected into a Balancer at
// construction (spec.md §4.5): it lets the policy create SubConns,
// publish state+picker, and request re-resolution.
type ClientConn interface {
	// NewSubConn creates a SubConn for the given address(es). It does
	// not dial; call Connect on the result to do that.
	NewSubConn([]resolver.Address, NewSubConnOptions) (SubConn, error)
	// UpdateState publishes a new (state, picker) pair to the channel's
	// data plane (spec.md §4.6 step on LB policy updates).
	UpdateState(State)
	// ResolveNow asks the channel to re-trigger resolution (spec.md
	// §4.4 RequestReresolution).
	ResolveNow(resolver.ResolveNowOptions)
	// Target returns the channel's dial target.
	Target() string
}

// BuildOptions carries construction-time options down to a balancer
// builder.
type BuildOptions struct {
	Target resolver.Target
}

// ClientConnState is what the channel pushes into UpdateClientConnState
// (spec.md §4.5 UpdateLocked): a resolver result plus parsed LB config.
type ClientConnState struct {
	ResolverState  resolver.State
	BalancerConfig serviceconfig.LoadBalancingConfig
}

// ErrBadResolverState may be returned by UpdateClientConnState to
// indicate the resolver state was unusable (e.g. an address list the
// policy refuses to operate on); the channel hands the error back to the
// resolver as the result of its UpdateState call and does not re-resolve
// on its own.
var ErrBadResolverState = stringError("bad resolver state")

type stringError string

func (e stringError) Error() string { return string(e) }

// Balancer consumes resolver updates and subconn state, and produces a
// Picker (spec.md §4.5). UpdateClientConnState, ResolverError, and Close
// are always invoked from the channel's WorkSerializer; Picker.Pick is
// not synchronized at all and must not block.
type Balancer interface {
	UpdateClientConnState(ClientConnState) error
	ResolverError(error)
	Close()
}

// ExitIdler is implemented by balancers that want to be told when the
// channel is leaving IDLE so they can (re)start connecting (spec.md §4.5
// ExitIdleLocked).
type ExitIdler interface {
	ExitIdle()
}

// BackoffResetter is implemented by balancers that want ResetBackoff
// propagated to their subconns (spec.md §4.5 ResetBackoffLocked).
type BackoffResetter interface {
	ResetBackoff()
}

// Builder creates a Balancer bound to cc.
type Builder interface {
	Build(cc ClientConn, opts BuildOptions) Balancer
	Name() string
}

// ConfigParser parses a JSON LB-policy config into the opaque type the
// policy's Build expects in ClientConnState.BalancerConfig.
type ConfigParser interface {
	ParseConfig(lbConfigJSON []byte) (serviceconfig.LoadBalancingConfig, error)
}

// PickInfo carries the per-call information available to a Picker.
type PickInfo struct {
	// FullMethodName is "/service/Method".
	FullMethodName string
	// CallAttributes are the ConfigSelector-supplied attributes for
	// this call (spec.md §4.8 "call attributes set by the
	// ConfigSelector").
	CallAttributes serviceconfig.CallAttributes
}

// DoneInfo carries information about a completed pick's RPC, fed back to
// the Picker's Done callback (spec.md §4.8 "per-call backend metric").
type DoneInfo struct {
	Err error
	// BackendMetrics holds the parsed x-endpoint-load-metrics-bin payload,
	// if the server sent one, keyed by metric name.
	BackendMetrics map[string]float64
}

var (
	// ErrNoSubConnAvailable means the Picker needs more information (a
	// pending connection attempt) before it can pick; the call queues
	// until the next picker.
	ErrNoSubConnAvailable = stringError("balancer: no SubConn is available")
)

// PickResult is returned by Picker.Pick (spec.md §3 Picker: Complete /
// Queue / Fail).
//
//   - Complete: SubConn != nil, err == nil.
//   - Queue: err == ErrNoSubConnAvailable.
//   - Fail: err != nil and err != ErrNoSubConnAvailable; a *status.Status
//     produced via status.Errorf conveys the code to surface to the call.
type PickResult struct {
	SubConn SubConn
	Done    func(DoneInfo)
}

// Picker chooses a SubConn for each call (spec.md §3 Picker). A Balancer
// publishes a new, immutable Picker every time its opinion about routing
// changes.
type Picker interface {
	Pick(info PickInfo) (PickResult, error)
}

// ConnectivityStateEvaluator aggregates SubConn states into one
// Balancer-level connectivity state (ported from the real grpc-go
// balancer package's ConnectivityStateEvaluator, used identically by
// round_robin and the EDS priority balancer's per-locality children).
//
// It is not safe for concurrent use.
type ConnectivityStateEvaluator struct {
	numReady      uint64
	numConnecting uint64
}

// RecordTransition records a SubConn's transition from oldState to
// newState and returns the newly evaluated aggregate state:
//   - READY if at least one child is READY;
//   - else CONNECTING if at least one child is CONNECTING;
//   - else TRANSIENT_FAILURE.
//
// IDLE and SHUTDOWN children are not counted.
func (cse *ConnectivityStateEvaluator) RecordTransition(oldState, newState connectivity.State) connectivity.State {
	for idx, state := range []connectivity.State{oldState, newState} {
		delta := int64(2*idx - 1) // -1 for oldState, +1 for newState
		switch state {
		case connectivity.Ready:
			cse.numReady = addDelta(cse.numReady, delta)
		case connectivity.Connecting:
			cse.numConnecting = addDelta(cse.numConnecting, delta)
		}
	}
	switch {
	case cse.numReady > 0:
		return connectivity.Ready
	case cse.numConnecting > 0:
		return connectivity.Connecting
	default:
		return connectivity.TransientFailure
	}
}

func addDelta(v uint64, delta int64) uint64 {
	if delta < 0 {
		return v - 1
	}
	return v + 1
}

var (
	regMu sync.Mutex
	reg   = map[string]Builder{}
)

// Register registers b under strings.ToLower(b.Name()). Must only be
// called during initialization (i.e. from init()); not safe to race with
// Get.
func Register(b Builder) {
	regMu.Lock()
	defer regMu.Unlock()
	reg[strings.ToLower(b.Name())] = b
}

// Get returns the builder registered under name, or nil.
func Get(name string) Builder {
	regMu.Lock()
	defer regMu.Unlock()
	return reg[strings.ToLower(name)]
}
