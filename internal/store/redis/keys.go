package redis

import "fmt"

const (
	// KeyPrefixBookmarkSets is the prefix of the per-owner hash of cached sets
	KeyPrefixBookmarkSets = "marksync:bookmark-sets:"
)

// BookmarkSetsKey returns the Redis hash holding owner's cached sets.
// Fields are set ids, values the JSON encoded domain.CachedSet.
func BookmarkSetsKey(owner string) string {
	return KeyPrefixBookmarkSets + owner
}

// ExtractOwner returns the owner encoded in a bookmark sets key
func ExtractOwner(key string) (string, error) {
	if len(key) <= len(KeyPrefixBookmarkSets) || key[:len(KeyPrefixBookmarkSets)] != KeyPrefixBookmarkSets {
		return "", fmt.Errorf("invalid bookmark sets key: %s", key)
	}
	return key[len(KeyPrefixBookmarkSets):], nil
}
