package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marksync/internal/crypto"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/nostr"
)

func TestEncryptItemsWithoutPrivateItems(t *testing.T) {
	ct, err := EncryptItems(crypto.Unavailable{}, "owner", nil)
	require.NoError(t, err)
	assert.Equal(t, "", ct)
}

func TestEncryptItemsWithoutCapability(t *testing.T) {
	_, err := EncryptItems(crypto.Unavailable{}, "owner", []domain.BookmarkItem{{Kind: domain.ItemEvent, ID: "x"}})
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)
}

func TestDecryptItems(t *testing.T) {
	s, err := nostr.GenerateKeySigner()
	require.NoError(t, err)
	p := crypto.NewNIP44(s.PrivateKey())
	owner := s.PublicKey()

	items := []domain.BookmarkItem{
		{Kind: domain.ItemEvent, ID: "abc", RelayHint: "wss://relay.example"},
		{Kind: domain.ItemArticle, ID: "30023:" + owner + ":d"},
	}
	ct, err := EncryptItems(p, owner, items)
	require.NoError(t, err)

	got, err := DecryptItems(p, owner, ct)
	require.NoError(t, err)
	assert.Equal(t, items, got)

	empty, err := DecryptItems(p, owner, "")
	require.NoError(t, err)
	assert.Empty(t, empty)

	notTags, err := p.Encrypt(owner, `{"not":"tags"}`)
	require.NoError(t, err)
	_, err = DecryptItems(p, owner, notTags)
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestPrivateContent(t *testing.T) {
	items := []domain.BookmarkItem{{Kind: domain.ItemEvent, ID: "x"}}

	tests := []struct {
		name       string
		items      []domain.BookmarkItem
		unreadable bool
		want       string
		wantErr    error
	}{
		{name: "keeps unreadable payload", unreadable: true, want: "original"},
		{name: "readable and empty", want: ""},
		{name: "needs encryption", items: items, wantErr: domain.ErrCapabilityMissing},
		{name: "unreadable but new private item", items: items, unreadable: true, wantErr: domain.ErrDecryption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PrivateContent(crypto.Unavailable{}, "owner", tt.items, "original", tt.unreadable)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
