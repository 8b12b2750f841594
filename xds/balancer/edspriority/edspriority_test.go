package edspriority

import (
	"testing"

	"github.com/grpc/grpc-sub023/balancer"
	"github.com/grpc/grpc-sub023/codes"
	"github.com/grpc/grpc-sub023/connectivity"
	"github.com/grpc/grpc-sub023/resolver"
	"github.com/grpc/grpc-sub023/status"
	xdsconfig "github.com/grpc/grpc-sub023/xds/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubConn struct {
	addr     resolver.Address
	shutdown bool
	connects int
	listener func(balancer.SubConnState)
}

func (f *fakeSubConn) UpdateAddresses([]resolver.Address) {}
func (f *fakeSubConn) Connect()                            { f.connects++ }
func (f *fakeSubConn) Shutdown()                            { f.shutdown = true }

type fakeCC struct {
	subs      []*fakeSubConn
	lastState balancer.State
}

func (c *fakeCC) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	sc := &fakeSubConn{addr: addrs[0], listener: opts.StateListener}
	c.subs = append(c.subs, sc)
	return sc, nil
}
func (c *fakeCC) UpdateState(s balancer.State)         { c.lastState = s }
func (c *fakeCC) ResolveNow(resolver.ResolveNowOptions) {}
func (c *fakeCC) Target() string                        { return "fake:///target" }

func newEDSBalancer(cc *fakeCC) *edsBalancer {
	return bb{}.Build(cc, balancer.BuildOptions{}).(*edsBalancer)
}

func TestUpdateClientConnStateRejectsWrongConfigType(t *testing.T) {
	cc := &fakeCC{}
	b := newEDSBalancer(cc)
	err := b.UpdateClientConnState(balancer.ClientConnState{BalancerConfig: "not an Update"})
	assert.Error(t, err)
}

func TestHandleEDSResponseCreatesSubConnsForHealthyEndpoints(t *testing.T) {
	cc := &fakeCC{}
	b := newEDSBalancer(cc)
	err := b.UpdateClientConnState(balancer.ClientConnState{BalancerConfig: Update{Endpoints: xdsconfig.EndpointsUpdate{
		Localities: []xdsconfig.Locality{
			{
				ID:     xdsconfig.LocalityID{Region: "r1"},
				Weight: 1,
				Endpoints: []xdsconfig.Endpoint{
					{Address: "1.1.1.1:1", HealthStatus: xdsconfig.EndpointHealthStatusHealthy},
					{Address: "2.2.2.2:2", HealthStatus: xdsconfig.EndpointHealthStatusUnhealthy},
				},
			},
		},
	}}})
	require.NoError(t, err)
	require.Len(t, cc.subs, 1, "unhealthy endpoint must not get a SubConn")
	assert.Equal(t, "1.1.1.1:1", cc.subs[0].addr.Addr)
	assert.Equal(t, 1, cc.subs[0].connects)
}

func TestZeroWeightLocalityIsSkipped(t *testing.T) {
	cc := &fakeCC{}
	b := newEDSBalancer(cc)
	err := b.UpdateClientConnState(balancer.ClientConnState{BalancerConfig: Update{Endpoints: xdsconfig.EndpointsUpdate{
		Localities: []xdsconfig.Locality{
			{ID: xdsconfig.LocalityID{Region: "r1"}, Weight: 0, Endpoints: []xdsconfig.Endpoint{{Address: "1.1.1.1:1", HealthStatus: xdsconfig.EndpointHealthStatusHealthy}}},
		},
	}}})
	require.NoError(t, err)
	assert.Len(t, cc.subs, 0)
}

func TestPriorityFailoverToLowerPriorityWhenHigherUnready(t *testing.T) {
	cc := &fakeCC{}
	b := newEDSBalancer(cc)
	require.NoError(t, b.UpdateClientConnState(balancer.ClientConnState{BalancerConfig: Update{Endpoints: xdsconfig.EndpointsUpdate{
		Localities: []xdsconfig.Locality{
			{ID: xdsconfig.LocalityID{Region: "p0"}, Weight: 1, Priority: 0, Endpoints: []xdsconfig.Endpoint{{Address: "1.1.1.1:1", HealthStatus: xdsconfig.EndpointHealthStatusHealthy}}},
			{ID: xdsconfig.LocalityID{Region: "p1"}, Weight: 1, Priority: 1, Endpoints: []xdsconfig.Endpoint{{Address: "2.2.2.2:2", HealthStatus: xdsconfig.EndpointHealthStatusHealthy}}},
		},
	}}}))
	require.Len(t, cc.subs, 2)

	// priority 1's subconn goes READY while priority 0's stays unready.
	cc.subs[0].listener(balancer.SubConnState{ConnectivityState: connectivity.TransientFailure})
	cc.subs[1].listener(balancer.SubConnState{ConnectivityState: connectivity.Ready})

	res, err := cc.lastState.Picker.Pick(balancer.PickInfo{})
	require.NoError(t, err)
	assert.Equal(t, cc.subs[1], res.SubConn)
	assert.Equal(t, connectivity.Ready, cc.lastState.ConnectivityState)
}

func TestHighestPriorityPreemptsOnceReady(t *testing.T) {
	cc := &fakeCC{}
	b := newEDSBalancer(cc)
	require.NoError(t, b.UpdateClientConnState(balancer.ClientConnState{BalancerConfig: Update{Endpoints: xdsconfig.EndpointsUpdate{
		Localities: []xdsconfig.Locality{
			{ID: xdsconfig.LocalityID{Region: "p0"}, Weight: 1, Priority: 0, Endpoints: []xdsconfig.Endpoint{{Address: "1.1.1.1:1", HealthStatus: xdsconfig.EndpointHealthStatusHealthy}}},
			{ID: xdsconfig.LocalityID{Region: "p1"}, Weight: 1, Priority: 1, Endpoints: []xdsconfig.Endpoint{{Address: "2.2.2.2:2", HealthStatus: xdsconfig.EndpointHealthStatusHealthy}}},
		},
	}}}))

	cc.subs[0].listener(balancer.SubConnState{ConnectivityState: connectivity.Ready})
	cc.subs[1].listener(balancer.SubConnState{ConnectivityState: connectivity.Ready})

	res, err := cc.lastState.Picker.Pick(balancer.PickInfo{})
	require.NoError(t, err)
	assert.Equal(t, cc.subs[0], res.SubConn, "priority 0 must win over priority 1 once both are ready")
}

func TestRemovedLocalityShutsDownItsSubConns(t *testing.T) {
	cc := &fakeCC{}
	b := newEDSBalancer(cc)
	require.NoError(t, b.UpdateClientConnState(balancer.ClientConnState{BalancerConfig: Update{Endpoints: xdsconfig.EndpointsUpdate{
		Localities: []xdsconfig.Locality{
			{ID: xdsconfig.LocalityID{Region: "p0"}, Weight: 1, Endpoints: []xdsconfig.Endpoint{{Address: "1.1.1.1:1", HealthStatus: xdsconfig.EndpointHealthStatusHealthy}}},
		},
	}}}))
	require.Len(t, cc.subs, 1)

	require.NoError(t, b.UpdateClientConnState(balancer.ClientConnState{BalancerConfig: Update{Endpoints: xdsconfig.EndpointsUpdate{
		Localities: nil,
	}}}))
	assert.True(t, cc.subs[0].shutdown)
}

func TestCloseShutsDownEverySubConn(t *testing.T) {
	cc := &fakeCC{}
	b := newEDSBalancer(cc)
	require.NoError(t, b.UpdateClientConnState(balancer.ClientConnState{BalancerConfig: Update{Endpoints: xdsconfig.EndpointsUpdate{
		Localities: []xdsconfig.Locality{
			{ID: xdsconfig.LocalityID{Region: "p0"}, Weight: 1, Endpoints: []xdsconfig.Endpoint{{Address: "1.1.1.1:1", HealthStatus: xdsconfig.EndpointHealthStatusHealthy}}},
		},
	}}}))
	b.Close()
	assert.True(t, cc.subs[0].shutdown)
}

func TestDropperAlwaysDropsAtFullNumerator(t *testing.T) {
	d := newDropper(xdsconfig.OverloadDropConfig{Category: "cat", Numerator: 10, Denominator: 10})
	assert.True(t, d.drop())
}

func TestDropperNeverDropsAtZeroNumerator(t *testing.T) {
	d := newDropper(xdsconfig.OverloadDropConfig{Category: "cat", Numerator: 0, Denominator: 10})
	assert.False(t, d.drop())
}

func TestDropPickerDropsBeforeDelegatingToInner(t *testing.T) {
	inner := &errPicker{err: nil}
	dp := newDropPicker(inner, []*dropper{newDropper(xdsconfig.OverloadDropConfig{Category: "always", Numerator: 1, Denominator: 1})})
	_, err := dp.Pick(balancer.PickInfo{})
	require.Error(t, err)
	s, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Unavailable, s.Code())
	assert.Equal(t, status.DetailLBDrop, s.Detail(), "a dropped pick must be tagged so a wait-for-ready call treats it as terminal rather than re-queuing it")
}

func TestDropPickerWithNoDropsDelegatesToInner(t *testing.T) {
	inner := &errPicker{err: assert.AnError}
	dp := newDropPicker(inner, nil)
	_, err := dp.Pick(balancer.PickInfo{})
	assert.Equal(t, assert.AnError, err)
}

func TestErrPickerReturnsItsError(t *testing.T) {
	p := &errPicker{err: assert.AnError}
	_, err := p.Pick(balancer.PickInfo{})
	assert.Equal(t, assert.AnError, err)
}
