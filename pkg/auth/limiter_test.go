package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiterPoolBurstThenDeny(t *testing.T) {
	p := NewLimiterPool(LimitConfig{RPS: 1, Burst: 2})
	assert.True(t, p.Allow("alice"))
	assert.True(t, p.Allow("alice"))
	assert.False(t, p.Allow("alice"), "burst exhausted")
	assert.True(t, p.Allow("bob"), "limits are per user")
}

func TestLimiterPoolForgetResets(t *testing.T) {
	p := NewLimiterPool(LimitConfig{RPS: 1, Burst: 1})
	assert.True(t, p.Allow("alice"))
	assert.False(t, p.Allow("alice"))
	p.Forget("alice")
	assert.True(t, p.Allow("alice"))
}

func TestNilPoolAllowsEverything(t *testing.T) {
	var p *LimiterPool
	assert.True(t, p.Allow("anyone"))
	p.Forget("anyone")
}
