// Package config holds the data-only xDS update types consumed by the
// xds resolver and the EDS priority balancer (spec.md §4.10's "xDS
// config stack"). These mirror the fields the teacher's
// xds/pkg/client.ListenerUpdate/RouteConfigUpdate/ClusterUpdate/
// EndpointsUpdate carried, reconstructed here as a self-contained
// package (the upstream xds/pkg/client fetch/transport code is out of
// this spec's scope; see DESIGN.md).
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// ListenerUpdate is the data in an LDS response relevant to a client
// channel: which RouteConfiguration to fetch next, plus HTTP-connection-
// manager-level settings that apply to every route.
type ListenerUpdate struct {
	RouteConfigName   string
	MaxStreamDuration time.Duration
	HTTPFilters       []HTTPFilter
}

// HTTPFilter is one entry in the HTTP connection manager's filter chain.
// Config is opaque; filters interpret their own typed_config.
type HTTPFilter struct {
	Name   string
	Config any
}

// RouteConfigUpdate is the data in an RDS response: a list of virtual
// hosts, matched against the call's :authority by the xds resolver.
type RouteConfigUpdate struct {
	VirtualHosts []*VirtualHost
}

// VirtualHost is one named set of domains and the routes that apply to
// requests addressed to them.
type VirtualHost struct {
	Name    string
	Domains []string
	Routes  []*Route
}

// Route is one routing rule: a path match plus either a single cluster
// or a weighted set of clusters to split traffic across.
type Route struct {
	Path             string
	Prefix           string
	Regex            string
	WeightedClusters map[string]uint32
	MaxStreamDuration time.Duration
}

// ClusterUpdate is the data in a CDS response.
type ClusterUpdate struct {
	ServiceName string
	EnableLRS   bool
}

// EndpointsUpdate is the data in an EDS response: drop configuration
// plus localities at various priorities (spec.md's "priority/locality
// weighted load balancing").
type EndpointsUpdate struct {
	Drops      []OverloadDropConfig
	Localities []Locality
}

// OverloadDropConfig tells a percentage of calls to drop regardless of
// endpoint health, identified by Category for load reporting.
type OverloadDropConfig struct {
	Category    string
	Numerator   uint32
	Denominator uint32
}

// LocalityID uniquely identifies a locality (region/zone/sub-zone
// triple), matching Envoy's locality proto fields.
type LocalityID struct {
	Region  string
	Zone    string
	SubZone string
}

// ToString renders the locality ID as a map key; JSON is used (as the
// teacher does for its balancergroup IDs) purely for a stable,
// comparable string.
func (l LocalityID) ToString() (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("xds/config: marshal locality id: %w", err)
	}
	return string(b), nil
}

// Locality is one weighted group of endpoints at a given priority.
type Locality struct {
	ID        LocalityID
	Endpoints []Endpoint
	Weight    uint32
	Priority  uint32
}

// EndpointHealthStatus mirrors Envoy's core.HealthStatus enum, trimmed
// to the values the priority balancer distinguishes between.
type EndpointHealthStatus int

const (
	EndpointHealthStatusUnknown EndpointHealthStatus = iota
	EndpointHealthStatusHealthy
	EndpointHealthStatusUnhealthy
	EndpointHealthStatusDraining
)

// Endpoint is one backend address within a locality.
type Endpoint struct {
	Address      string
	HealthStatus EndpointHealthStatus
	Weight       uint32
}
