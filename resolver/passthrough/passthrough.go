// Package passthrough implements a resolver that turns the dial target's
// endpoint directly into a single-address resolver.State, with no
// background work and no re-resolution (spec.md §4.11 "Default
// resolver").
package passthrough

import (
	"github.com/grpc/grpc-sub023/resolver"
)

// Scheme is the URI scheme this package registers itself under.
const Scheme = "passthrough"

func init() {
	resolver.Register(&builder{})
}

type builder struct{}

func (*builder) Scheme() string { return Scheme }

func (*builder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	if err := cc.UpdateState(resolver.State{
		Addresses: []resolver.Address{{Addr: target.Endpoint}},
	}); err != nil {
		return nil, err
	}
	return passthroughResolver{}, nil
}

// passthroughResolver implements resolver.Resolver. It holds no state:
// the single address never changes and there is nothing to watch.
type passthroughResolver struct{}

func (passthroughResolver) ResolveNow(resolver.ResolveNowOptions) {}

func (passthroughResolver) Close() {}
