package clientchannel

import (
	"time"

	"github.com/grpc/grpc-sub023/internal/backoff"
)

// Args is the opaque channel-argument bag passed to Dial (spec.md §6
// "Channel creation input"). Unlike the original's ChannelArgs key/value
// bag, this is a plain struct: the set of recognized keys is closed and
// small enough that a typed struct is the idiomatic Go shape, matching
// how the teacher's own DialOptions are plumbed.
type Args struct {
	// DefaultServiceConfig is the JSON service config used when the
	// resolver supplies none and no last-known-good config exists.
	DefaultServiceConfig string
	// UseLocalSubchannelPool selects the per-channel subchannel pool
	// instead of the default global, process-wide one (spec.md §4.3).
	UseLocalSubchannelPool bool
	// EnableRetries toggles whether the dynamic filter stack terminates
	// in a retry filter or a plain dynamic-termination filter (spec.md
	// §4.6 step 3). The core does not implement retries itself (spec.md
	// §1 non-goals); this flag only selects which terminal filter a
	// higher layer should compose.
	EnableRetries bool
	// KeepaliveTime is propagated to subchannels as the initial
	// keepalive interval; -1 means unset.
	KeepaliveTime time.Duration
	// InhibitHealthChecking disables the per-subchannel health-check
	// watch even when a resolver result names a health-check service.
	InhibitHealthChecking bool
	// LBPolicyName is the `grpc.lb_policy_name` fallback used when
	// neither the service config nor its deprecated loadBalancingPolicy
	// field names a policy (spec.md §4.6 step 2).
	LBPolicyName string
	// BackoffConfig overrides the default subchannel reconnect backoff.
	BackoffConfig *backoff.Config
}
