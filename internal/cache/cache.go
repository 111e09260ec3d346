package cache

import (
	"context"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Claimer grants a key to exactly one caller until ttl expires. It backs
// single-use state tokens.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Locker is a TTL-bound mutual exclusion lock. Acquire returns an owner token;
// Unlock only removes the lock while that token still holds it, so a holder
// whose TTL lapsed cannot free a lock another replica has since taken.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}
