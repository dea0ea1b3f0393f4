package cache

import (
	"context"
	"sync"
	"time"

	"tokoledger/backend/internal/domain"
)

// OutstandingCache holds per-customer outstanding-balance listings. Entries
// are invalidated on any write that can move a balance, so a hit is at most
// ttl stale and only for reads racing a write.
type OutstandingCache interface {
	Get(ctx context.Context, key string) ([]domain.Sale, bool, error)
	Set(ctx context.Context, key string, value []domain.Sale, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopOutstandingCache struct{}

func (NoopOutstandingCache) Get(_ context.Context, _ string) ([]domain.Sale, bool, error) {
	return nil, false, nil
}

func (NoopOutstandingCache) Set(_ context.Context, _ string, _ []domain.Sale, _ time.Duration) error {
	return nil
}

func (NoopOutstandingCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

type memoryEntry struct {
	value     []domain.Sale
	expiresAt time.Time
}

// MemoryOutstandingCache is the single-terminal default. The clock is
// injectable so expiry can be tested without sleeping.
type MemoryOutstandingCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryOutstandingCache() *MemoryOutstandingCache {
	return &MemoryOutstandingCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (c *MemoryOutstandingCache) WithClock(now func() time.Time) *MemoryOutstandingCache {
	c.now = now
	return c
}

func (c *MemoryOutstandingCache) Get(_ context.Context, key string) ([]domain.Sale, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	out := make([]domain.Sale, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (c *MemoryOutstandingCache) Set(_ context.Context, key string, value []domain.Sale, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]domain.Sale, len(value))
	copy(stored, value)
	c.entries[key] = memoryEntry{value: stored, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryOutstandingCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
