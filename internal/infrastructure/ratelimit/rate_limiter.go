package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage = "send_message"
	ActionSubscribe   = "subscribe"
	ActionUpload      = "upload"
)

// Policy is a token bucket: Burst tokens refilled at PerMinute.
type Policy struct {
	PerMinute int
	Burst     int
}

func (p Policy) limit() rate.Limit {
	return rate.Limit(float64(p.PerMinute) / 60)
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting for different users and actions
type RateLimiter struct {
	policies map[string]Policy
	fallback Policy
	entries  map[string]*entry
	mutex    sync.Mutex
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter builds a limiter where send_message allows sendPerMinute
// messages per user; other actions use fixed defaults.
func NewRateLimiter(sendPerMinute int) *RateLimiter {
	if sendPerMinute <= 0 {
		sendPerMinute = 30
	}
	return &RateLimiter{
		policies: map[string]Policy{
			ActionSendMessage: {PerMinute: sendPerMinute, Burst: sendPerMinute},
			ActionSubscribe:   {PerMinute: 60, Burst: 20},
			ActionUpload:      {PerMinute: 10, Burst: 5},
		},
		fallback: Policy{PerMinute: 20, Burst: 20},
		entries:  make(map[string]*entry),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// SetPolicy overrides the policy of one action. Existing buckets keep theirs.
func (rl *RateLimiter) SetPolicy(action string, p Policy) {
	rl.mutex.Lock()
	rl.policies[action] = p
	rl.mutex.Unlock()
}

// Allow checks if a user action is allowed. When it is not, the returned
// duration is how long until a token is available.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := rl.now()

	rl.mutex.Lock()
	e, ok := rl.entries[key]
	if !ok {
		p, found := rl.policies[action]
		if !found {
			p = rl.fallback
		}
		e = &entry{limiter: rate.NewLimiter(p.limit(), p.Burst)}
		rl.entries[key] = e
	}
	e.lastSeen = now
	rl.mutex.Unlock()

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Cleanup removes buckets that have not been used for idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) > idle {
			delete(rl.entries, key)
		}
	}
}

// StartCleanupRoutine starts a cleanup routine that runs periodically until Stop.
func (rl *RateLimiter) StartCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			case <-rl.stop:
				return
			}
		}
	}()
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) size() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.entries)
}
