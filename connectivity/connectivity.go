// Package connectivity defines the connectivity states a channel or a
// subchannel can be in.
package connectivity

// State represents the connectivity state of a channel or a subchannel.
type State int

const (
	// Idle indicates the entity has not attempted to connect yet, or has
	// been deliberately returned to this state by the channel (see
	// "enter-IDLE" in the client-channel design notes).
	Idle State = iota
	// Connecting indicates an attempt to connect is in progress.
	Connecting
	// Ready indicates the connection has been established and is usable.
	Ready
	// TransientFailure indicates the most recent attempt either failed or
	// the entity has experienced a connection loss and a retry is being
	// backed off. Entities in this state eventually switch back to
	// Connecting.
	TransientFailure
	// Shutdown indicates the entity has been torn down and will never
	// transition to any other state again.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Ready:
		return "READY"
	case TransientFailure:
		return "TRANSIENT_FAILURE"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "INVALID_STATE"
	}
}

// Reporter is implemented by entities (Subchannel, ClientChannel) whose
// connectivity state can be queried cheaply without blocking.
type Reporter interface {
	CurrentState() State
}
