package codes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeStringKnownValues(t *testing.T) {
	assert.Equal(t, "OK", OK.String())
	assert.Equal(t, "CANCELED", Canceled.String())
	assert.Equal(t, "UNKNOWN", Unknown.String())
	assert.Equal(t, "INVALID_ARGUMENT", InvalidArgument.String())
	assert.Equal(t, "DEADLINE_EXCEEDED", DeadlineExceeded.String())
	assert.Equal(t, "UNAVAILABLE", Unavailable.String())
}

func TestCodeStringUnknownValueFallsBackToNumeric(t *testing.T) {
	assert.Equal(t, "CODE(42)", Code(42).String())
}

func TestItoaZero(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "123", itoa(123))
}
