package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/misionbonos/sim-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Saves go to the primary store and refresh the cache; loads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Load(ctx context.Context, code string) (*model.GameDocument, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, gameKey(code)).Bytes()
	if err == nil {
		var doc model.GameDocument
		if json.Unmarshal(data, &doc) == nil {
			return &doc, nil
		}
	}

	// Cache miss: read from primary.
	doc, err := s.primary.Load(ctx, code)
	if err != nil {
		return nil, err
	}

	s.cacheDoc(ctx, doc)
	return doc, nil
}

func (s *CachedStore) Save(ctx context.Context, doc *model.GameDocument) error {
	if err := s.primary.Save(ctx, doc); err != nil {
		// Drop the stale cached copy so the next load hits the primary.
		s.rdb.Del(ctx, gameKey(doc.Game.Code))
		return err
	}
	s.cacheDoc(ctx, doc)
	return nil
}

func (s *CachedStore) ListCodes(ctx context.Context) ([]string, error) {
	return s.primary.ListCodes(ctx)
}

func (s *CachedStore) cacheDoc(ctx context.Context, doc *model.GameDocument) {
	if data, err := json.Marshal(doc); err == nil {
		s.rdb.Set(ctx, gameKey(doc.Game.Code), data, s.ttl)
	}
}

func gameKey(code string) string { return fmt.Sprintf("game:%s", code) }
