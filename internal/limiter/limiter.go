// Package limiter throttles master-password unlock attempts.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls unlock attempts and temporary lockouts, keyed by database.
type Limiter interface {
	// Allow reports whether an unlock attempt is currently allowed and optional retry-after.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	// Success resets counters after a successful unlock.
	Success(ctx context.Context, key string) error
	// Failure records a wrong password; may place a temporary block.
	Failure(ctx context.Context, key string) (bool, time.Duration, error)
}

// Policy is the sliding-window lockout policy shared by implementations.
type Policy struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// DefaultPolicy allows five wrong passwords per fifteen minutes.
func DefaultPolicy() Policy {
	return Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}
}

// HashKey returns a stable hash of a key so database paths are not stored verbatim.
func HashKey(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return h[:]
}
