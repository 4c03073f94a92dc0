package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/marksync/internal/crypto"
	"github.com/MrSnakeDoc/marksync/internal/domain"
)

// EncryptItems seals the private portion as a JSON array of item tags.
// No items means no payload: the record content is the empty string and the
// provider is not consulted.
func EncryptItems(p crypto.Provider, owner string, items []domain.BookmarkItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	if p == nil || !p.CanEncrypt() {
		return "", domain.ErrCapabilityMissing
	}
	raw, err := json.Marshal(domain.ItemTags(items))
	if err != nil {
		return "", fmt.Errorf("failed to encode private items: %w", err)
	}
	ct, err := p.Encrypt(owner, string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt private items: %w", err)
	}
	return ct, nil
}

// DecryptItems recovers the private portion. An empty payload is zero items.
func DecryptItems(p crypto.Provider, owner, content string) ([]domain.BookmarkItem, error) {
	if content == "" {
		return []domain.BookmarkItem{}, nil
	}
	if p == nil || !p.CanEncrypt() {
		return nil, domain.ErrCapabilityMissing
	}
	pt, err := p.Decrypt(owner, content)
	if err != nil {
		if errors.Is(err, domain.ErrDecryption) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	var tags [][]string
	if err := json.Unmarshal([]byte(pt), &tags); err != nil {
		return nil, fmt.Errorf("%w: private payload is not a tag array", domain.ErrDecryption)
	}
	return domain.ItemsFromTags(tags), nil
}

// PrivateContent decides the content of a republished record. An unreadable
// payload is carried over untouched. Writing private items over it would
// destroy entries this identity cannot see, so that is refused.
func PrivateContent(p crypto.Provider, owner string, items []domain.BookmarkItem, original string, unreadable bool) (string, error) {
	if unreadable {
		if len(items) > 0 {
			return "", fmt.Errorf("%w: existing private items are unreadable", domain.ErrDecryption)
		}
		return original, nil
	}
	return EncryptItems(p, owner, items)
}
