package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type entry struct {
	fails        int
	blockedUntil time.Time
}

// Memory is an in-process limiter; counters expire with the policy window.
type Memory struct {
	mu     sync.Mutex
	c      *cache.Cache
	policy Policy
	now    func() time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{c: cache.New(p.Window, 2*p.Window), policy: p, now: time.Now}
}

func (l *Memory) get(key string) entry {
	if v, ok := l.c.Get(key); ok {
		return v.(entry)
	}
	return entry{}
}

// Allow reports whether unlocking is currently allowed.
func (l *Memory) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.get(key)
	if now := l.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets key.
func (l *Memory) Success(_ context.Context, key string) error {
	l.c.Delete(key)
	return nil
}

// Failure counts a wrong password and blocks key at the threshold.
func (l *Memory) Failure(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.get(key)
	e.fails++
	ttl := l.policy.Window
	blocked := e.fails >= l.policy.MaxFails
	if blocked {
		e.blockedUntil = l.now().Add(l.policy.BlockFor)
		e.fails = 0
		ttl = max(ttl, l.policy.BlockFor)
	}
	l.c.Set(key, e, ttl)
	if blocked {
		return true, l.policy.BlockFor, nil
	}
	return false, 0, nil
}
