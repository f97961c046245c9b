package store

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/users"
)

// cachedStore is a read-through LRU in front of another user store.
// Misses and errors are not cached, identity records change rarely
// enough that stale positive entries are acceptable.
type cachedStore struct {
	inner  users.Store
	cache  *lru.Cache[string, *users.User]
	logger *log.Logger
}

func NewCachedStore(inner users.Store, size int, logger *log.Logger) (users.Store, error) {
	cache, err := lru.New[string, *users.User](size)
	if err != nil {
		return nil, err
	}
	return &cachedStore{
		inner:  inner,
		cache:  cache,
		logger: logger,
	}, nil
}

func (s *cachedStore) Resolve(ctx context.Context, userID string) (*users.User, error) {
	if u, ok := s.cache.Get(userID); ok {
		return u, nil
	}

	u, err := s.inner.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cache.Add(userID, u)
	return u, nil
}
