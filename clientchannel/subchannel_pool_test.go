package clientchannel

import (
	"sync"
	"testing"

	"github.com/grpc/grpc-sub023/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSubchannelPoolDedupesSameKey(t *testing.T) {
	p := newSubchannelPool()
	key := SubchannelKey{Addr: "1.1.1.1:1"}
	var built int
	newFunc := func() *Subchannel {
		built++
		return NewSubchannel(key, resolver.Address{Addr: key.Addr}, &scriptedConnector{}, fastBackoff(), nil)
	}

	first := p.RegisterSubchannel(key, newFunc)
	second := p.RegisterSubchannel(key, newFunc)

	assert.Same(t, first, second)
	assert.Equal(t, 1, built)
}

func TestSubchannelPoolConcurrentRegisterBuildsOnce(t *testing.T) {
	p := newSubchannelPool()
	key := SubchannelKey{Addr: "1.1.1.1:1"}
	var mu sync.Mutex
	var built int
	newFunc := func() *Subchannel {
		mu.Lock()
		built++
		mu.Unlock()
		return NewSubchannel(key, resolver.Address{Addr: key.Addr}, &scriptedConnector{}, fastBackoff(), nil)
	}

	var g errgroup.Group
	results := make([]*Subchannel, 16)
	for i := range results {
		i := i
		g.Go(func() error {
			results[i] = p.RegisterSubchannel(key, newFunc)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	mu.Lock()
	assert.Equal(t, 1, built)
	mu.Unlock()
}

func TestSubchannelPoolConcurrentRegisterEachGetsARef(t *testing.T) {
	p := newSubchannelPool()
	key := SubchannelKey{Addr: "1.1.1.1:1"}
	newFunc := func() *Subchannel {
		return NewSubchannel(key, resolver.Address{Addr: key.Addr}, &scriptedConnector{}, fastBackoff(), nil)
	}

	const n = 16
	var g errgroup.Group
	results := make([]*Subchannel, n)
	for i := range results {
		i := i
		g.Go(func() error {
			results[i] = p.RegisterSubchannel(key, newFunc)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sc := results[0]
	for i := 0; i < n-1; i++ {
		p.UnregisterSubchannel(key, sc)
		require.NotNil(t, p.FindSubchannel(key), "subchannel must survive until every caller's ref is released")
	}
	p.UnregisterSubchannel(key, sc)
	assert.Nil(t, p.FindSubchannel(key), "last release must tear the subchannel down")
}

func TestSubchannelPoolUnregisterDropsAtZeroRefs(t *testing.T) {
	p := newSubchannelPool()
	key := SubchannelKey{Addr: "1.1.1.1:1"}
	newFunc := func() *Subchannel {
		return NewSubchannel(key, resolver.Address{Addr: key.Addr}, &scriptedConnector{}, fastBackoff(), nil)
	}

	sc := p.RegisterSubchannel(key, newFunc)
	p.RegisterSubchannel(key, newFunc) // second ref

	p.UnregisterSubchannel(key, sc)
	require.NotNil(t, p.FindSubchannel(key), "one ref remains")

	p.UnregisterSubchannel(key, sc)
	assert.Nil(t, p.FindSubchannel(key))
}

func TestGlobalAndLocalPoolsAreDistinct(t *testing.T) {
	assert.Same(t, NewGlobalPool(), NewGlobalPool())
	assert.NotSame(t, NewLocalPool(), NewLocalPool())
	assert.NotSame(t, NewGlobalPool(), NewLocalPool())
}
