package balancer

import (
	"testing"

	"github.com/grpc/grpc-sub023/connectivity"
	"github.com/stretchr/testify/assert"
)

type stubBuilder struct{ name string }

func (b stubBuilder) Build(ClientConn, BuildOptions) Balancer { return nil }
func (b stubBuilder) Name() string                            { return b.name }

func TestRegisterGetIsCaseInsensitive(t *testing.T) {
	Register(stubBuilder{name: "MyPolicy"})
	assert.NotNil(t, Get("mypolicy"))
	assert.NotNil(t, Get("MYPOLICY"))
	assert.Nil(t, Get("doesnotexist"))
}

func TestConnectivityStateEvaluatorReadyWins(t *testing.T) {
	var cse ConnectivityStateEvaluator
	assert.Equal(t, connectivity.Connecting, cse.RecordTransition(connectivity.Idle, connectivity.Connecting))
	assert.Equal(t, connectivity.Ready, cse.RecordTransition(connectivity.Connecting, connectivity.Ready))
}

func TestConnectivityStateEvaluatorFallsBackAsChildrenLeaveReady(t *testing.T) {
	var cse ConnectivityStateEvaluator
	cse.RecordTransition(connectivity.Idle, connectivity.Ready)
	cse.RecordTransition(connectivity.Idle, connectivity.Connecting)

	// The READY child transitions away; CONNECTING child remains.
	got := cse.RecordTransition(connectivity.Ready, connectivity.TransientFailure)
	assert.Equal(t, connectivity.Connecting, got)
}

func TestConnectivityStateEvaluatorAllFailedIsTransientFailure(t *testing.T) {
	var cse ConnectivityStateEvaluator
	got := cse.RecordTransition(connectivity.Idle, connectivity.TransientFailure)
	assert.Equal(t, connectivity.TransientFailure, got)
}

func TestStringErrorError(t *testing.T) {
	assert.Equal(t, "balancer: no SubConn is available", ErrNoSubConnAvailable.Error())
	assert.Equal(t, "bad resolver state", ErrBadResolverState.Error())
}
