package cache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	xdsconfig "github.com/grpc/grpc-sub023/xds/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchListenerFiresImmediatelyIfCached(t *testing.T) {
	s := NewStore()
	s.UpdateListener("lis-a", xdsconfig.ListenerUpdate{RouteConfigName: "route-a"})

	var got xdsconfig.ListenerUpdate
	var calls int
	cancel := s.WatchListener("lis-a", func(u xdsconfig.ListenerUpdate, err error) {
		calls++
		got = u
	})
	defer cancel()

	require.Equal(t, 1, calls)
	assert.Equal(t, "route-a", got.RouteConfigName)
}

func TestWatchListenerFiresOnLaterUpdate(t *testing.T) {
	s := NewStore()
	var calls int
	cancel := s.WatchListener("lis-a", func(xdsconfig.ListenerUpdate, error) { calls++ })
	defer cancel()

	assert.Equal(t, 0, calls)
	s.UpdateListener("lis-a", xdsconfig.ListenerUpdate{RouteConfigName: "route-a"})
	assert.Equal(t, 1, calls)
}

func TestCancelStopsFurtherNotifications(t *testing.T) {
	s := NewStore()
	var calls int
	cancel := s.WatchListener("lis-a", func(xdsconfig.ListenerUpdate, error) { calls++ })
	cancel()
	s.UpdateListener("lis-a", xdsconfig.ListenerUpdate{})
	assert.Equal(t, 0, calls)
}

func TestWatchRouteConfigAndEndpoints(t *testing.T) {
	s := NewStore()
	var gotRoute xdsconfig.RouteConfigUpdate
	s.WatchRouteConfig("route-a", func(u xdsconfig.RouteConfigUpdate, err error) { gotRoute = u })
	s.UpdateRouteConfig("route-a", xdsconfig.RouteConfigUpdate{VirtualHosts: []*xdsconfig.VirtualHost{{Name: "vh"}}})
	require.Len(t, gotRoute.VirtualHosts, 1)
	assert.Equal(t, "vh", gotRoute.VirtualHosts[0].Name)

	var gotEP xdsconfig.EndpointsUpdate
	s.WatchEndpoints("cluster-a", func(u xdsconfig.EndpointsUpdate, err error) { gotEP = u })
	s.UpdateEndpoints("cluster-a", xdsconfig.EndpointsUpdate{Localities: []xdsconfig.Locality{{Weight: 1}}})
	require.Len(t, gotEP.Localities, 1)
}

func TestSnapshotFindByName(t *testing.T) {
	s := NewStore()
	s.UpdateListener("lis-a", xdsconfig.ListenerUpdate{RouteConfigName: "route-a"})
	s.UpdateCluster("cluster-a", xdsconfig.ClusterUpdate{ServiceName: "svc-a"})

	snap := s.Snapshot()
	lis, err := snap.FindListenerByName("lis-a")
	require.NoError(t, err)
	assert.Equal(t, "route-a", lis.RouteConfigName)

	_, err = snap.FindListenerByName("missing")
	assert.Error(t, err)

	cl, err := snap.FindClusterByName("cluster-a")
	require.NoError(t, err)
	assert.Equal(t, "svc-a", cl.ServiceName)
}

func TestSnapshotFindEndpointsByListenerNameFullTraversal(t *testing.T) {
	s := NewStore()
	s.UpdateListener("lis-a", xdsconfig.ListenerUpdate{RouteConfigName: "route-a"})
	s.UpdateRouteConfig("route-a", xdsconfig.RouteConfigUpdate{VirtualHosts: []*xdsconfig.VirtualHost{
		{Routes: []*xdsconfig.Route{{WeightedClusters: map[string]uint32{"cluster-a": 100}}}},
	}})
	s.UpdateCluster("cluster-a", xdsconfig.ClusterUpdate{ServiceName: "svc-a"})
	want := xdsconfig.EndpointsUpdate{Localities: []xdsconfig.Locality{{Weight: 1}}}
	s.UpdateEndpoints("svc-a", want)

	snap := s.Snapshot()
	eps, err := snap.FindEndpointsByListenerName("lis-a")
	require.NoError(t, err)
	require.Len(t, eps.Localities, 1)
	if diff := cmp.Diff(want, eps); diff != "" {
		t.Errorf("endpoints traversed through the LDS->RDS->CDS->EDS chain diverged from what was stored (-want +got):\n%s", diff)
	}
}

func TestSnapshotFindEndpointsByListenerNameMissingStopsEarly(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()
	_, err := snap.FindEndpointsByListenerName("missing")
	assert.Error(t, err)
}
