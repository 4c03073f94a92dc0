package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeNoHTMLEscape(t *testing.T) {
	ev := &Event{PubKey: "pk", CreatedAt: 10, Kind: 1, Content: "<a & b>"}
	raw, err := ev.Serialize()
	require.NoError(t, err)
	assert.Equal(t, `[0,"pk",10,1,[],"<a & b>"]`, string(raw))
}

func TestSignAndVerify(t *testing.T) {
	s, err := GenerateKeySigner()
	require.NoError(t, err)

	ev := &Event{Kind: KindBookmarkList, Tags: [][]string{{"e", "abc"}}, CreatedAt: 1700000000}
	require.NoError(t, s.Sign(ev))

	assert.Equal(t, s.PublicKey(), ev.PubKey)
	assert.Len(t, ev.ID, 64)
	assert.Len(t, ev.Sig, 128)
	require.NoError(t, Verify(ev))

	ev.Content = "tampered"
	assert.Error(t, Verify(ev))
}

func TestNewKeySignerRejectsBadKeys(t *testing.T) {
	_, err := NewKeySigner("zz")
	assert.Error(t, err)
	_, err = NewKeySigner("abcd")
	assert.Error(t, err)
}

func TestNewest(t *testing.T) {
	events := []*Event{
		{ID: "b", CreatedAt: 5},
		{ID: "c", CreatedAt: 9},
		nil,
		{ID: "a", CreatedAt: 9},
	}
	assert.Equal(t, "a", Newest(events).ID)
	assert.Nil(t, Newest(nil))
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "30003:pk:set1", Address(KindBookmarkSet, "pk", "set1"))
}
