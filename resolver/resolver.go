// Package resolver defines the pluggable name-resolver contract consumed
// by the client channel (spec.md §4.4, §6). Concrete resolvers (DNS, xDS,
// passthrough, ...) live in their own packages and register themselves by
// scheme.
package resolver

import (
	"strings"
	"sync"

	"github.com/grpc/grpc-sub023/serviceconfig"
)

// Address represents a server the resolver discovered, along with
// per-address attributes an LB policy may consult (spec.md §3 "ordered
// address list with per-address attributes").
type Address struct {
	// Addr is the server address, e.g. "10.0.0.1:9000".
	Addr string
	// ServerName overrides the default authority used for this address,
	// if non-empty.
	ServerName string
	// Attributes carries arbitrary, LB-policy-specific data (e.g. a
	// locality ID or an endpoint weight) that survives address-list
	// comparisons only by explicit equality of this map's contents.
	Attributes map[string]any
}

// Target is the parsed dial target: scheme://authority/endpoint.
type Target struct {
	Scheme    string
	Authority string
	Endpoint  string
}

// String reconstructs the dial target string.
func (t Target) String() string {
	var b strings.Builder
	if t.Scheme != "" {
		b.WriteString(t.Scheme)
		b.WriteString("://")
	}
	if t.Authority != "" {
		b.WriteString(t.Authority)
		b.WriteString("/")
	}
	b.WriteString(t.Endpoint)
	return b.String()
}

// ParseTarget splits a dial target of the form "scheme://authority/endpoint"
// or, lacking a scheme, treats the whole string as the endpoint.
func ParseTarget(target string) Target {
	scheme, rest, ok := strings.Cut(target, "://")
	if !ok {
		return Target{Endpoint: target}
	}
	authority, endpoint, ok := strings.Cut(rest, "/")
	if !ok {
		return Target{Scheme: scheme, Endpoint: rest}
	}
	return Target{Scheme: scheme, Authority: authority, Endpoint: endpoint}
}

// BuildOptions carries construction-time options down to a resolver
// builder (spec.md §6 "ResolverFactory.Create(target_uri, channel_args,
// pollset_set, work_serializer, result_handler)" — the pollset_set and
// work_serializer are implicit here: the channel always drives resolvers
// from within its own WorkSerializer).
type BuildOptions struct {
	// DialDefaultAuthority, if set, is used as the default :authority for
	// addresses that don't set their own ServerName.
	DialDefaultAuthority string
}

// ResolveNowOptions carries options for a single ResolveNow call.
type ResolveNowOptions struct{}

// State is a Resolver Result (spec.md §3): an address list plus optional
// parsed service config and config selector, plus a channel-arg overlay
// represented here as an opaque Attributes map merged into the channel's
// arguments.
type State struct {
	Addresses      []Address
	ServiceConfig  *serviceconfig.ParseResult
	ConfigSelector serviceconfig.ConfigSelector
	Attributes     map[string]any
}

// ClientConn is the result_handler boundary a Resolver reports back
// through (spec.md §6): ReturnResult/ReturnError, always invoked from
// inside the channel's WorkSerializer.
type ClientConn interface {
	// UpdateState reports a new Resolver Result. An error return means
	// the state was rejected (e.g. empty address list when the channel
	// requires at least one); the resolver should treat this the way it
	// would treat a transient failure.
	UpdateState(State) error
	// ReportError reports a resolution failure (spec.md §4.4 OnError).
	ReportError(error)
	// ParseServiceConfig parses a JSON service config string into a
	// serviceconfig.ParseResult, using whatever parsers are registered
	// for known LB policies and filters.
	ParseServiceConfig(jsonRepresentation string) *serviceconfig.ParseResult
}

// Resolver watches a target for address/config changes and reports
// results through the ClientConn it was built with (spec.md §4.4).
type Resolver interface {
	// ResolveNow is a best-effort hint that the caller thinks the
	// resolver's result may be stale (spec.md §4.4
	// "RequestReresolution", triggered e.g. when the LB policy reports
	// it cannot produce a useful pick).
	ResolveNow(ResolveNowOptions)
	// Close releases all resources used by the resolver (spec.md
	// "ShutdownLocked").
	Close()
}

// BackoffResetter is implemented by resolvers that maintain their own
// reconnect/retry backoff and want it reset on demand (spec.md §4.4
// "ResetBackoff").
type BackoffResetter interface {
	ResetBackoff()
}

// Builder creates a Resolver for one Target. Build must report the first
// result (or error) to cc before returning, or schedule doing so
// asynchronously — the channel does not block waiting for it either way,
// since calls queue on the resolver-waiting queue until a result arrives.
type Builder interface {
	Build(target Target, cc ClientConn, opts BuildOptions) (Resolver, error)
	// Scheme returns the URI scheme this builder is registered for.
	Scheme() string
}

var (
	regMu sync.Mutex
	reg   = map[string]Builder{}
)

// Register registers b under strings.ToLower(b.Scheme()). Like the
// balancer registry, this is meant to be called from init() and is not
// safe to race with Get.
func Register(b Builder) {
	regMu.Lock()
	defer regMu.Unlock()
	reg[strings.ToLower(b.Scheme())] = b
}

// Get returns the builder registered for scheme, or nil.
func Get(scheme string) Builder {
	regMu.Lock()
	defer regMu.Unlock()
	return reg[strings.ToLower(scheme)]
}
