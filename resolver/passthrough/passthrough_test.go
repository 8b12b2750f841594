package passthrough

import (
	"testing"

	"github.com/grpc/grpc-sub023/resolver"
	"github.com/grpc/grpc-sub023/serviceconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCC struct {
	state resolver.State
	err   error
}

func (c *recordingCC) UpdateState(s resolver.State) error {
	c.state = s
	return c.err
}
func (c *recordingCC) ReportError(error) {}
func (c *recordingCC) ParseServiceConfig(string) *serviceconfig.ParseResult { return nil }

func TestBuildReportsSingleAddressImmediately(t *testing.T) {
	cc := &recordingCC{}
	r, err := (&builder{}).Build(resolver.Target{Scheme: Scheme, Endpoint: "1.1.1.1:1"}, cc, resolver.BuildOptions{})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, []resolver.Address{{Addr: "1.1.1.1:1"}}, cc.state.Addresses)
}

func TestBuildPropagatesUpdateStateError(t *testing.T) {
	cc := &recordingCC{err: assert.AnError}
	_, err := (&builder{}).Build(resolver.Target{Endpoint: "x"}, cc, resolver.BuildOptions{})
	assert.Equal(t, assert.AnError, err)
}

func TestResolveNowAndCloseAreNoops(t *testing.T) {
	r := passthroughResolver{}
	assert.NotPanics(t, func() {
		r.ResolveNow(resolver.ResolveNowOptions{})
		r.Close()
	})
}
