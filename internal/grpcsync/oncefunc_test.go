package grpcsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnceFuncRunsOnlyOnce(t *testing.T) {
	n := 0
	f := OnceFunc(func() { n++ })
	f()
	f()
	f()
	assert.Equal(t, 1, n)
}
