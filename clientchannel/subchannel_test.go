package clientchannel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/grpc/grpc-sub023/connectivity"
	"github.com/grpc/grpc-sub023/internal/backoff"
	"github.com/grpc/grpc-sub023/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeTransport) NewStream(string) (SubchannelCall, error) { return nil, nil }
func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// scriptedConnector hands back a queued result for each Connect call, in
// order; calls beyond the script get an "out of scripted results" error.
type scriptedConnector struct {
	mu      sync.Mutex
	results []func() (ConnectedTransport, error)
	calls   int
}

func (c *scriptedConnector) Connect(SubchannelKey) (ConnectedTransport, error) {
	c.mu.Lock()
	i := c.calls
	c.calls++
	c.mu.Unlock()
	if i < len(c.results) {
		return c.results[i]()
	}
	return nil, errors.New("scriptedConnector: out of scripted results")
}

func fastBackoff() *backoff.Config {
	return &backoff.Config{BaseDelay: time.Millisecond, Multiplier: 1, Jitter: 0, MaxDelay: 5 * time.Millisecond}
}

func TestSubchannelConnectSucceeds(t *testing.T) {
	tx := &fakeTransport{}
	conn := &scriptedConnector{results: []func() (ConnectedTransport, error){
		func() (ConnectedTransport, error) { return tx, nil },
	}}
	sc := NewSubchannel(SubchannelKey{Addr: "1.1.1.1:1"}, resolver.Address{Addr: "1.1.1.1:1"}, conn, fastBackoff(), nil)

	states := make(chan connectivity.State, 8)
	sc.WatchConnectivityState(func(s connectivity.State, _ error, _ ConnectedTransport) { states <- s })
	assert.Equal(t, connectivity.Idle, <-states)

	sc.RequestConnection()
	assert.Equal(t, connectivity.Connecting, <-states)
	require.Equal(t, connectivity.Ready, waitForState(t, states))
	assert.Equal(t, connectivity.Ready, sc.CurrentState())
}

func TestSubchannelConnectFailureRetries(t *testing.T) {
	tx := &fakeTransport{}
	attempts := make(chan struct{}, 8)
	conn := &scriptedConnector{results: []func() (ConnectedTransport, error){
		func() (ConnectedTransport, error) { attempts <- struct{}{}; return nil, errors.New("dial failed") },
		func() (ConnectedTransport, error) { attempts <- struct{}{}; return tx, nil },
	}}
	sc := NewSubchannel(SubchannelKey{Addr: "1.1.1.1:1"}, resolver.Address{Addr: "1.1.1.1:1"}, conn, fastBackoff(), nil)

	states := make(chan connectivity.State, 8)
	sc.WatchConnectivityState(func(s connectivity.State, _ error, _ ConnectedTransport) { states <- s })
	<-states // idle
	sc.RequestConnection()

	require.Equal(t, connectivity.Connecting, waitForState(t, states))
	require.Equal(t, connectivity.TransientFailure, waitForState(t, states))
	require.Equal(t, connectivity.Connecting, waitForState(t, states))
	require.Equal(t, connectivity.Ready, waitForState(t, states))
}

func TestSubchannelChannelzNodeTracesTransitionsAndIsUnique(t *testing.T) {
	conn := &scriptedConnector{results: []func() (ConnectedTransport, error){
		func() (ConnectedTransport, error) { return &fakeTransport{}, nil },
	}}
	sc1 := NewSubchannel(SubchannelKey{Addr: "1.1.1.1:1"}, resolver.Address{Addr: "1.1.1.1:1"}, conn, fastBackoff(), nil)
	sc2 := NewSubchannel(SubchannelKey{Addr: "1.1.1.1:1"}, resolver.Address{Addr: "1.1.1.1:1"}, conn, fastBackoff(), nil)

	require.NotNil(t, sc1.ChannelzNode())
	assert.NotEqual(t, sc1.ChannelzNode().Name, sc2.ChannelzNode().Name, "two subchannels for the same address must not share a channelz identity")

	states := make(chan connectivity.State, 8)
	sc1.WatchConnectivityState(func(s connectivity.State, _ error, _ ConnectedTransport) { states <- s })
	<-states // idle
	sc1.RequestConnection()
	require.Equal(t, connectivity.Ready, waitForState(t, states))

	trace := sc1.ChannelzNode().Trace()
	require.NotEmpty(t, trace)
	assert.Contains(t, trace[len(trace)-1].Desc, "READY")
}

func TestSubchannelShutdownClosesTransportAndStopsRetries(t *testing.T) {
	tx := &fakeTransport{}
	conn := &scriptedConnector{results: []func() (ConnectedTransport, error){
		func() (ConnectedTransport, error) { return tx, nil },
	}}
	sc := NewSubchannel(SubchannelKey{Addr: "1.1.1.1:1"}, resolver.Address{Addr: "1.1.1.1:1"}, conn, fastBackoff(), nil)
	states := make(chan connectivity.State, 8)
	sc.WatchConnectivityState(func(s connectivity.State, _ error, _ ConnectedTransport) { states <- s })
	<-states
	sc.RequestConnection()
	waitForState(t, states) // connecting
	waitForState(t, states) // ready

	sc.Shutdown()
	assert.Equal(t, connectivity.Shutdown, waitForState(t, states))
	assert.Eventually(t, tx.isClosed, time.Second, time.Millisecond)

	// A second shutdown is a no-op, not a re-fire.
	sc.Shutdown()
	select {
	case s := <-states:
		t.Fatalf("unexpected second transition to %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitForState(t *testing.T, ch <-chan connectivity.State) connectivity.State {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state transition")
		return connectivity.Shutdown
	}
}
