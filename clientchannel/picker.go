package clientchannel

import "github.com/grpc/grpc-sub023/balancer"

// queuePicker always returns Queue (spec.md §3 Picker: "Queue (retry on
// the next picker)"). Channel.Pick uses it as the stand-in picker before
// any balancer has published a real one, so a pick against an unresolved
// channel takes the same ErrNoSubConnAvailable retry path a real policy's
// Queue result would.
type queuePicker struct{}

func (queuePicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
}
