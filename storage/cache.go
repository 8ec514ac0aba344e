package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultSessionTTL is used when a non-positive TTL is given.
const DefaultSessionTTL = time.Hour

// CacheSessionStore keeps sessions in an expiring in-memory cache.
// Each Save refreshes the session's TTL.
type CacheSessionStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewCacheSessionStore creates a store whose entries expire after ttl.
func NewCacheSessionStore(ttl time.Duration) *CacheSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &CacheSessionStore{
		cache: cache.New(ttl, ttl/6),
		ttl:   ttl,
	}
}

// Get returns a copy of the stored session.
func (c *CacheSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	v, ok := c.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return v.(*Session).Clone(), nil
}

// Save stores a copy of the session and refreshes its TTL.
func (c *CacheSessionStore) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	c.cache.Set(s.ID, s.Clone(), c.ttl)
	return nil
}

// Delete removes the session. Unknown ids are ignored.
func (c *CacheSessionStore) Delete(ctx context.Context, id string) error {
	c.cache.Delete(id)
	return nil
}

// List returns the ids of unexpired sessions in sorted order.
func (c *CacheSessionStore) List(ctx context.Context) ([]string, error) {
	items := c.cache.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ SessionStore = (*CacheSessionStore)(nil)
