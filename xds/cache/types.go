// Package cache holds the most recently received xDS resources and lets
// resolvers/balancers watch individual resources by name (spec.md
// §4.10's xDS config stack). It replaces the teacher's
// xds/cache.ClientConfigCache, which fetched directly from an
// xds/pkg/client.Client transport absent from the example pack (see
// DESIGN.md); this package instead exposes an Updater seam that any
// transport can drive.
package cache

import (
	"errors"
	"fmt"
	"net"

	xdsconfig "github.com/grpc/grpc-sub023/xds/config"
)

var errResourceNotFound = errors.New("xds/cache: resource not found")

// Snapshot is a read-only view over every resource type's cache, used by
// introspection/debug callers (spec.md §6 Observability: "current xDS
// cache contents"). Store.Snapshot leaves the version fields empty.
type Snapshot struct {
	LDSVersion string
	LDSCache   map[string]xdsconfig.ListenerUpdate
	RDSVersion string
	RDSCache   map[string]xdsconfig.RouteConfigUpdate
	CDSVersion string
	CDSCache   map[string]xdsconfig.ClusterUpdate
	EDSVersion string
	EDSCache   map[string]xdsconfig.EndpointsUpdate
}

// FindListenerByAddress is unimplemented upstream-for-parity: channelz
// introspection by transport address isn't wired to any xDS identifier
// in this core.
func (s *Snapshot) FindListenerByAddress(addr net.Addr) (*xdsconfig.ListenerUpdate, error) {
	return nil, fmt.Errorf("xds/cache: find listener by address: %w", errResourceNotFound)
}

// FindListenerByName returns the cached ListenerUpdate for name.
func (s *Snapshot) FindListenerByName(name string) (*xdsconfig.ListenerUpdate, error) {
	lis, ok := s.LDSCache[name]
	if !ok {
		return nil, errResourceNotFound
	}
	return &lis, nil
}

// FindRouteByName returns the cached RouteConfigUpdate for name.
func (s *Snapshot) FindRouteByName(name string) (*xdsconfig.RouteConfigUpdate, error) {
	rt, ok := s.RDSCache[name]
	if !ok {
		return nil, errResourceNotFound
	}
	return &rt, nil
}

// FindClusterByName returns the cached ClusterUpdate for name.
func (s *Snapshot) FindClusterByName(name string) (*xdsconfig.ClusterUpdate, error) {
	ct, ok := s.CDSCache[name]
	if !ok {
		return nil, errResourceNotFound
	}
	return &ct, nil
}

// FindEndpointsByName returns the cached EndpointsUpdate for name.
func (s *Snapshot) FindEndpointsByName(name string) (*xdsconfig.EndpointsUpdate, error) {
	es, ok := s.EDSCache[name]
	if !ok {
		return nil, errResourceNotFound
	}
	return &es, nil
}

// FindEndpointsByListenerName walks Listener -> RouteConfig -> (one of
// the first route's weighted clusters, whichever map iteration yields
// first) -> Cluster -> Endpoints, the same
// traversal the teacher's UpdateCache.FindEndpointsByListenerName does,
// for a debug endpoint that resolves "what would this channel connect
// to" from a listener name alone.
func (s *Snapshot) FindEndpointsByListenerName(name string) (*xdsconfig.EndpointsUpdate, error) {
	ls, ok := s.LDSCache[name]
	if !ok {
		return nil, errResourceNotFound
	}
	rt, ok := s.RDSCache[ls.RouteConfigName]
	if !ok {
		return nil, errResourceNotFound
	}
	if len(rt.VirtualHosts) == 0 || len(rt.VirtualHosts[0].Routes) == 0 {
		return nil, errResourceNotFound
	}

	var cluster string
	for key := range rt.VirtualHosts[0].Routes[0].WeightedClusters {
		cluster = key
		break
	}

	cs, ok := s.CDSCache[cluster]
	if !ok {
		return nil, errResourceNotFound
	}
	es, ok := s.EDSCache[cs.ServiceName]
	if !ok {
		return nil, errResourceNotFound
	}
	return &es, nil
}
