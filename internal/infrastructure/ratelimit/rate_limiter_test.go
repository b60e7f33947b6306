package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(3)
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		allowed, _ := rl.Allow("alice", ActionSendMessage)
		assert.True(t, allowed)
	}

	allowed, wait := rl.Allow("alice", ActionSendMessage)
	assert.False(t, allowed)
	assert.InDelta(t, float64(20*time.Second), float64(wait), float64(time.Millisecond))

	// Other users and actions have their own buckets.
	allowed, _ = rl.Allow("bob", ActionSendMessage)
	assert.True(t, allowed)
	allowed, _ = rl.Allow("alice", ActionSubscribe)
	assert.True(t, allowed)
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(60)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.SetPolicy("typing", Policy{PerMinute: 60, Burst: 1})

	allowed, _ := rl.Allow("alice", "typing")
	assert.True(t, allowed)
	allowed, _ = rl.Allow("alice", "typing")
	assert.False(t, allowed)

	now = now.Add(time.Second)
	allowed, _ = rl.Allow("alice", "typing")
	assert.True(t, allowed)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("alice", ActionSendMessage)
	rl.Allow("bob", ActionSendMessage)
	assert.Equal(t, 2, rl.size())

	now = now.Add(30 * time.Minute)
	rl.Allow("bob", ActionSendMessage)

	now = now.Add(45 * time.Minute)
	rl.Cleanup(time.Hour)
	assert.Equal(t, 1, rl.size())
}
