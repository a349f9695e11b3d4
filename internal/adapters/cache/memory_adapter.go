package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
)

const (
	defaultMemoryEntries = 4096
	defaultMemoryTTL     = 24 * time.Hour
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryAdapter is an in-process CacheProvider used when Redis is disabled.
// Entries are bounded by count and expire individually.
type MemoryAdapter struct {
	mu    sync.Mutex
	items *expirable.LRU[string, memoryEntry]
	now   func() time.Time
}

// NewMemoryAdapter creates an in-memory cache holding at most size entries.
func NewMemoryAdapter(size int) *MemoryAdapter {
	if size <= 0 {
		size = defaultMemoryEntries
	}
	return &MemoryAdapter{
		items: expirable.NewLRU[string, memoryEntry](size, nil, defaultMemoryTTL),
		now:   time.Now,
	}
}

// Get retrieves a value from cache
func (a *MemoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.lookup(key)
	if !ok {
		return nil, providers.ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores a value in cache with expiration
func (a *MemoryAdapter) Set(_ context.Context, key string, value []byte, expirationSeconds int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.items.Add(key, a.entry(value, expirationSeconds))
	return nil
}

// SetNX stores a value only when the key is absent and reports whether it did
func (a *MemoryAdapter) SetNX(_ context.Context, key string, value []byte, expirationSeconds int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.lookup(key); ok {
		return false, nil
	}
	a.items.Add(key, a.entry(value, expirationSeconds))
	return true, nil
}

// Delete removes a value from cache
func (a *MemoryAdapter) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.items.Remove(key)
	return nil
}

func (a *MemoryAdapter) lookup(key string) (memoryEntry, bool) {
	entry, ok := a.items.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !a.now().Before(entry.expiresAt) {
		a.items.Remove(key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (a *MemoryAdapter) entry(value []byte, expirationSeconds int) memoryEntry {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if expirationSeconds > 0 {
		e.expiresAt = a.now().Add(time.Duration(expirationSeconds) * time.Second)
	}
	return e
}
