package session

import (
	"context"
	"sync"
	"time"

	"appointment-chat/internal/domain"
)

// MemoryCache keeps session state in process. Entries idle for longer than
// ttl are treated as missing.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	st      *domain.SessionState
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[string]memEntry), now: time.Now}
}

func (c *MemoryCache) Load(ctx context.Context, handle string) (*domain.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[handle]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if c.ttl > 0 && c.now().After(e.expires) {
		delete(c.entries, handle)
		return nil, ErrSessionNotFound
	}
	return e.st.Clone(), nil
}

func (c *MemoryCache) Save(ctx context.Context, st *domain.SessionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[st.Handle] = memEntry{st: st.Clone(), expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, handle)
	return nil
}
