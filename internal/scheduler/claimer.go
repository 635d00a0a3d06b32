package scheduler

import (
	"context"
	"sync"
	"time"
)

// Claimer is a cluster-wide claim-once registry. A key is held by at most one
// holder until it is released or its TTL lapses.
type Claimer interface {
	// Claim takes key for holder if nobody holds it.
	Claim(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// Renew extends the TTL if holder still owns key.
	Renew(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// Release drops key if holder still owns it.
	Release(ctx context.Context, key, holder string) (bool, error)
	// Holder returns the current holder of key, or "" when unclaimed.
	Holder(ctx context.Context, key string) (string, error)
}

type claim struct {
	holder    string
	expiresAt time.Time
}

// MemoryClaimer keeps claims in process memory. Suitable for a single node and tests.
type MemoryClaimer struct {
	mu     sync.Mutex
	now    func() time.Time
	claims map[string]claim
}

func NewMemoryClaimer() *MemoryClaimer {
	return NewMemoryClaimerWithClock(time.Now)
}

// NewMemoryClaimerWithClock is test-only for deterministic expiry.
func NewMemoryClaimerWithClock(now func() time.Time) *MemoryClaimer {
	return &MemoryClaimer{now: now, claims: make(map[string]claim)}
}

func (c *MemoryClaimer) Claim(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.liveLocked(key); ok {
		return false, nil
	}
	c.claims[key] = claim{holder: holder, expiresAt: c.now().Add(ttl)}
	return true, nil
}

func (c *MemoryClaimer) Renew(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.liveLocked(key)
	if !ok || current.holder != holder {
		return false, nil
	}
	current.expiresAt = c.now().Add(ttl)
	c.claims[key] = current
	return true, nil
}

func (c *MemoryClaimer) Release(_ context.Context, key, holder string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.liveLocked(key)
	if !ok || current.holder != holder {
		return false, nil
	}
	delete(c.claims, key)
	return true, nil
}

func (c *MemoryClaimer) Holder(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.liveLocked(key)
	if !ok {
		return "", nil
	}
	return current.holder, nil
}

func (c *MemoryClaimer) liveLocked(key string) (claim, bool) {
	current, ok := c.claims[key]
	if !ok {
		return claim{}, false
	}
	if ttlExpired(current.expiresAt, c.now()) {
		delete(c.claims, key)
		return claim{}, false
	}
	return current, true
}

func ttlExpired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}
