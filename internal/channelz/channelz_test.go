package channelz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannelAssignsDistinctIDs(t *testing.T) {
	a := NewChannel("a", 0)
	b := NewChannel("b", 0)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAddTraceEventTrimsToCapacity(t *testing.T) {
	c := NewChannel("c", 2)
	c.AddTraceEvent(SeverityInfo, "one")
	c.AddTraceEvent(SeverityInfo, "two")
	c.AddTraceEvent(SeverityInfo, "three")

	events := c.Trace()
	require.Len(t, events, 2)
	assert.Equal(t, "two", events[0].Desc)
	assert.Equal(t, "three", events[1].Desc)
}

func TestAddTraceEventUnboundedWhenCapIsZero(t *testing.T) {
	c := NewChannel("c", 0)
	for i := 0; i < 10; i++ {
		c.AddTraceEvent(SeverityInfo, "e")
	}
	assert.Len(t, c.Trace(), 10)
}

func TestPrefixLoggerMirrorsWarningsAndErrorsNotInfo(t *testing.T) {
	ch := NewChannel("c", 0)
	l := NewPrefixLogger("pfx", ch)

	l.Infof("info %d", 1)
	l.Warningf("warn %d", 2)
	l.Errorf("err %d", 3)

	events := ch.Trace()
	require.Len(t, events, 2)
	assert.Equal(t, SeverityWarning, events[0].Severity)
	assert.Equal(t, "warn 2", events[0].Desc)
	assert.Equal(t, SeverityError, events[1].Severity)
	assert.Equal(t, "err 3", events[1].Desc)
}

func TestPackageLevelHelpersNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		Infof(nil, "x")
		Warningf(nil, "x")
		Errorf(nil, "x")
	})
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "INFO", SeverityInfo.String())
	assert.Equal(t, "WARNING", SeverityWarning.String())
	assert.Equal(t, "ERROR", SeverityError.String())
	assert.Equal(t, "UNKNOWN", Severity(99).String())
}
