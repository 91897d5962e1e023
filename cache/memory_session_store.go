package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/gatehouse-id/gatehouse/domain"
)

// MemorySessionStore implements SessionStore using ttlcache.
type MemorySessionStore struct {
	cache *ttlcache.Cache[string, *domain.Session]
}

// NewMemorySessionStore creates a new in-memory session store with
// automatic cleanup.
func NewMemorySessionStore(defaultTTL time.Duration) *MemorySessionStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.Session](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, *domain.Session](),
	)
	go cache.Start()

	return &MemorySessionStore{cache: cache}
}

// Stop halts the background expiry loop.
func (s *MemorySessionStore) Stop() {
	s.cache.Stop()
}

var _ SessionStore = (*MemorySessionStore)(nil)

// Set implements SessionStore.Set.
func (s *MemorySessionStore) Set(_ context.Context, session *domain.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(session.ID, session, ttl)
	return nil
}

// Get implements SessionStore.Get.
func (s *MemorySessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	item := s.cache.Get(id)
	if item == nil {
		return nil, ErrNotCached
	}
	return item.Value(), nil
}

// Delete removes a session from the cache.
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}
