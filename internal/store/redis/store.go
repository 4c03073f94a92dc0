package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marksync/internal/domain"
)

// Store is the durable Local Cache Store. Every write returns once Redis
// acknowledged it.
type Store struct {
	client *redis.Client
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
	}
}

// Get returns every cached set of owner, keyed by set id
func (s *Store) Get(ctx context.Context, owner string) (map[string]domain.CachedSet, error) {
	raw, err := s.client.HGetAll(ctx, BookmarkSetsKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get cached sets: %w", err)
	}

	sets := make(map[string]domain.CachedSet, len(raw))
	for id, data := range raw {
		var rec domain.CachedSet
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			// Skip records that couldn't be decoded
			continue
		}
		sets[id] = rec
	}
	return sets, nil
}

// Put writes a single record
func (s *Store) Put(ctx context.Context, owner, setID string, rec domain.CachedSet) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal cached set: %w", err)
	}
	if err := s.client.HSet(ctx, BookmarkSetsKey(owner), setID, data).Err(); err != nil {
		return fmt.Errorf("failed to save cached set: %w", err)
	}
	return nil
}

// Remove deletes a single record. Removing a missing record is not an error.
func (s *Store) Remove(ctx context.Context, owner, setID string) error {
	if err := s.client.HDel(ctx, BookmarkSetsKey(owner), setID).Err(); err != nil {
		return fmt.Errorf("failed to remove cached set: %w", err)
	}
	return nil
}

// Owners lists every owner with at least one cached record
func (s *Store) Owners(ctx context.Context) ([]string, error) {
	var owners []string
	iter := s.client.Scan(ctx, 0, KeyPrefixBookmarkSets+"*", 0).Iterator()
	for iter.Next(ctx) {
		owner, err := ExtractOwner(iter.Val())
		if err != nil {
			continue
		}
		owners = append(owners, owner)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	return owners, nil
}

// Ping checks that Redis answers
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
