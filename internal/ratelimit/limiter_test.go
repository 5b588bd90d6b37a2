package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBurst(t *testing.T) {
	l := NewLimiter(10, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("client-1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("client-1"), "burst exhausted")
}

func TestClientsAreIndependent(t *testing.T) {
	l := NewLimiter(10, 1)

	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
}

func TestTokensDecrease(t *testing.T) {
	l := NewLimiter(10, 5)

	before := l.Tokens("client-1")
	l.Allow("client-1")
	after := l.Tokens("client-1")

	assert.Greater(t, before, after)
}
