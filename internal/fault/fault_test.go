package fault

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NotFound("no conversation")
	assert.Equal(t, "NOT_FOUND: no conversation", err.Error())

	err = InsufficientCredit("payer balance too low").With("payer", "0xabc").With("fee", "10")
	assert.Equal(t, "INSUFFICIENT_CREDIT: payer balance too low (fee=10, payer=0xabc)", err.Error())
}

func TestIsUnwrapsWrappedFaults(t *testing.T) {
	base := Unauthorized("caller is not the owner")
	wrapped := fmt.Errorf("delegate: %w", base)

	assert.True(t, Is(wrapped, CodeUnauthorized))
	assert.False(t, Is(wrapped, CodeNotFound))
	assert.Equal(t, CodeUnauthorized, CodeOf(wrapped))
}

func TestCodeOfNonFault(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(fmt.Errorf("plain")))
	assert.False(t, Is(nil, CodeNotFound))
}
