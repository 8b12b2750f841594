package resolver

import (
	"testing"

	"github.com/grpc/grpc-sub023/internal/channelz"
	xdsconfig "github.com/grpc/grpc-sub023/xds/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeXDSClient struct {
	ldsCb       func(xdsconfig.ListenerUpdate, error)
	rdsCb       func(xdsconfig.RouteConfigUpdate, error)
	rdsName     string
	ldsCanceled bool
	rdsCanceled int
}

func (c *fakeXDSClient) WatchListener(name string, cb func(xdsconfig.ListenerUpdate, error)) func() {
	c.ldsCb = cb
	return func() { c.ldsCanceled = true }
}

func (c *fakeXDSClient) WatchRouteConfig(name string, cb func(xdsconfig.RouteConfigUpdate, error)) func() {
	c.rdsName = name
	c.rdsCb = cb
	return func() { c.rdsCanceled++ }
}

func TestWatchServiceSubscribesToRDSOnFirstLDSUpdate(t *testing.T) {
	c := &fakeXDSClient{}
	var got serviceUpdate
	var gotErr error
	cancel := watchService(c, "svc", func(su serviceUpdate, err error) { got = su; gotErr = err }, channelz.NewPrefixLogger("t", nil))
	defer cancel()

	c.ldsCb(xdsconfig.ListenerUpdate{RouteConfigName: "route-a"}, nil)
	assert.Equal(t, "route-a", c.rdsName)
	assert.Nil(t, gotErr) // no RDS response yet, no callback fired
	assert.Equal(t, serviceUpdate{}, got)

	vh := &xdsconfig.VirtualHost{Name: "vh", Domains: []string{"*"}}
	c.rdsCb(xdsconfig.RouteConfigUpdate{VirtualHosts: []*xdsconfig.VirtualHost{vh}}, nil)
	require.NotNil(t, got.virtualHost)
	assert.Equal(t, "vh", got.virtualHost.Name)
}

func TestWatchServiceResubscribesRDSOnRouteNameChange(t *testing.T) {
	c := &fakeXDSClient{}
	cancel := watchService(c, "svc", func(serviceUpdate, error) {}, channelz.NewPrefixLogger("t", nil))
	defer cancel()

	c.ldsCb(xdsconfig.ListenerUpdate{RouteConfigName: "route-a"}, nil)
	assert.Equal(t, "route-a", c.rdsName)

	c.ldsCb(xdsconfig.ListenerUpdate{RouteConfigName: "route-b"}, nil)
	assert.Equal(t, "route-b", c.rdsName)
	assert.Equal(t, 1, c.rdsCanceled, "changing RouteConfigName must cancel the old RDS watch")
}

func TestWatchServiceSameRouteNameReplaysLastUpdateWithoutNewRDSWatch(t *testing.T) {
	c := &fakeXDSClient{}
	var calls int
	cancel := watchService(c, "svc", func(serviceUpdate, error) { calls++ }, channelz.NewPrefixLogger("t", nil))
	defer cancel()

	c.ldsCb(xdsconfig.ListenerUpdate{RouteConfigName: "route-a"}, nil)
	vh := &xdsconfig.VirtualHost{Domains: []string{"*"}}
	c.rdsCb(xdsconfig.RouteConfigUpdate{VirtualHosts: []*xdsconfig.VirtualHost{vh}}, nil)
	firstCalls := calls

	c.ldsCb(xdsconfig.ListenerUpdate{RouteConfigName: "route-a"}, nil)
	assert.Equal(t, firstCalls+1, calls, "identical route name must replay the cached update")
}

func TestWatchServiceCloseCancelsBothWatches(t *testing.T) {
	c := &fakeXDSClient{}
	cancel := watchService(c, "svc", func(serviceUpdate, error) {}, channelz.NewPrefixLogger("t", nil))
	c.ldsCb(xdsconfig.ListenerUpdate{RouteConfigName: "route-a"}, nil)

	cancel()
	assert.True(t, c.ldsCanceled)
	assert.Equal(t, 1, c.rdsCanceled)
}

func TestWatchServiceLDSErrorPropagates(t *testing.T) {
	c := &fakeXDSClient{}
	var gotErr error
	cancel := watchService(c, "svc", func(_ serviceUpdate, err error) { gotErr = err }, channelz.NewPrefixLogger("t", nil))
	defer cancel()

	c.ldsCb(xdsconfig.ListenerUpdate{}, assert.AnError)
	assert.Equal(t, assert.AnError, gotErr)
}
