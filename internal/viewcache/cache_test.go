package viewcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marksync/internal/domain"
)

func TestMembershipFallsBackToList(t *testing.T) {
	c := New(time.Minute)

	_, known := c.Membership("alice", "abc")
	assert.False(t, known)

	list := domain.NewBookmarkList("alice").WithItem(domain.BookmarkItem{Kind: domain.ItemEvent, ID: "abc"}, false)
	c.SetList("alice", list)

	member, known := c.Membership("alice", "abc")
	assert.True(t, known)
	assert.True(t, member)

	c.SetMembership("alice", "abc", false)
	member, _ = c.Membership("alice", "abc")
	assert.False(t, member, "optimistic value wins over the cached list")
}

func TestFlipRestore(t *testing.T) {
	c := New(time.Minute)

	snap, token := c.Flip("alice", "abc")
	assert.Equal(t, Snapshot{}, snap)
	member, known := c.Membership("alice", "abc")
	assert.True(t, known)
	assert.True(t, member)

	assert.True(t, c.RestoreIfCurrent("alice", "abc", token, snap))
	_, known = c.Membership("alice", "abc")
	assert.False(t, known, "restoring an implicit snapshot drops the optimistic value")

	c.SetMembership("alice", "abc", true)
	snap, token = c.Flip("alice", "abc")
	assert.Equal(t, Snapshot{Member: true, Explicit: true}, snap)

	assert.True(t, c.RestoreIfCurrent("alice", "abc", token, snap))
	member, _ = c.Membership("alice", "abc")
	assert.True(t, member)
}

func TestStaleTokensLeaveLaterWritesAlone(t *testing.T) {
	c := New(time.Minute)

	first, firstToken := c.Flip("alice", "abc")
	_, secondToken := c.Flip("alice", "abc")

	assert.False(t, c.RestoreIfCurrent("alice", "abc", firstToken, first))
	assert.False(t, c.ReleaseIfCurrent("alice", "abc", firstToken))
	member, known := c.Membership("alice", "abc")
	assert.True(t, known)
	assert.False(t, member, "the second flip is still shown")

	assert.True(t, c.ReleaseIfCurrent("alice", "abc", secondToken))
	_, known = c.Membership("alice", "abc")
	assert.False(t, known)
}

func TestListIsCopied(t *testing.T) {
	c := New(time.Minute)
	c.SetList("alice", nil)

	list, ok := c.List("alice")
	require.True(t, ok)
	assert.Equal(t, 0, list.Count())

	list.PublicItems = append(list.PublicItems, domain.BookmarkItem{Kind: domain.ItemEvent, ID: "x"})
	again, _ := c.List("alice")
	assert.Equal(t, 0, again.Count())

	c.InvalidateList("alice")
	_, ok = c.List("alice")
	assert.False(t, ok)
}

func TestRemoteSets(t *testing.T) {
	c := New(time.Minute)
	set := domain.NewBookmarkSet("alice", "s1", domain.SetInput{Title: "Reading List"}, time.Now())

	c.SetRemoteSets("alice", []*domain.BookmarkSet{set})
	set.Title = "changed"

	got, ok := c.RemoteSets("alice")
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "Reading List", got[0].Title)
	assert.Equal(t, 1, c.Len())

	c.InvalidateSets("alice")
	_, ok = c.RemoteSets("alice")
	assert.False(t, ok)
}

func TestEntriesExpire(t *testing.T) {
	c := New(50 * time.Millisecond)
	c.SetMembership("alice", "abc", true)

	assert.Eventually(t, func() bool {
		_, known := c.Membership("alice", "abc")
		return !known
	}, time.Second, 10*time.Millisecond)
}

func TestHiddenSets(t *testing.T) {
	c := New(time.Minute)
	assert.False(t, c.SetHidden("alice", "s1"))

	c.HideSet("alice", "s1")
	assert.True(t, c.SetHidden("alice", "s1"))
	assert.False(t, c.SetHidden("bob", "s1"))
}
