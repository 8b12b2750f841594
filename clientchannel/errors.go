package clientchannel

import (
	"github.com/grpc/grpc-sub023/codes"
	"github.com/grpc/grpc-sub023/status"
)

// errNoAddresses is returned by NewSubConn when called with an empty
// address list; every LB policy in this repo treats that as a
// programming error rather than a valid pick target.
var errNoAddresses = status.Error(codes.InvalidArgument, "clientchannel: NewSubConn requires at least one address")

// disconnectError wraps the channel's terminal or enter-IDLE error with
// the Detail that discriminates the two (spec.md §9 Open Question),
// resolved here as an explicit, typed tag rather than tag-absence-means-
// shutdown: a nil Detail would be easy to drop by accident across
// refactors, where a required enum value fails obviously at the call
// site instead.
func newShutdownError() error {
	return status.New(codes.Unavailable, "channel is shutting down").WithDetail(status.DetailDisconnectShutdown).Err()
}

func newEnterIdleError() error {
	return status.New(codes.Unavailable, "channel entered IDLE").WithDetail(status.DetailDisconnectIdle).Err()
}

// errLBDrop marks a pick failure as an LB-policy drop (spec.md §4.8,
// scenario 5), distinct from any other UNAVAILABLE outcome such as a
// connection failure or a disconnect.
func errLBDrop() error {
	return status.New(codes.Unavailable, "RPC dropped by load balancing policy").WithDetail(status.DetailLBDrop).Err()
}

// isShutdown reports whether err is the channel's terminal disconnect
// error (as opposed to an enter-IDLE transition).
func isShutdown(err error) bool {
	s, ok := status.FromError(err)
	return ok && s.Detail() == status.DetailDisconnectShutdown
}
