// Package viewcache holds what the UI reads between relay round trips.
// Entries expire after a fixed TTL that reads do not extend. Settled
// mutations invalidate them.
package viewcache

import (
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/MrSnakeDoc/marksync/internal/domain"
)

const (
	DefaultTTL      = 5 * time.Minute
	defaultCapacity = 10_000
)

// Snapshot is the membership state captured before an optimistic write.
type Snapshot struct {
	Member bool
	// Explicit is set when the value came from an optimistic write rather
	// than from a cached list.
	Explicit bool
}

// mark is an optimistic membership value and the write that produced it.
type mark struct {
	member bool
	token  uint64
}

// Cache is safe for concurrent use.
type Cache struct {
	// orders optimistic writes and their rollbacks
	mu    sync.Mutex
	token uint64

	membership *ttlcache.Cache[string, mark]
	lists      *ttlcache.Cache[string, *domain.BookmarkList]
	sets       *ttlcache.Cache[string, []*domain.BookmarkSet]
	hidden     *ttlcache.Cache[string, struct{}]
}

// New creates the caches. Call Start to run expiry in the background.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		membership: ttlcache.New[string, mark](
			ttlcache.WithTTL[string, mark](ttl),
			ttlcache.WithDisableTouchOnHit[string, mark](),
			ttlcache.WithCapacity[string, mark](defaultCapacity),
		),
		lists: ttlcache.New[string, *domain.BookmarkList](
			ttlcache.WithTTL[string, *domain.BookmarkList](ttl),
			ttlcache.WithDisableTouchOnHit[string, *domain.BookmarkList](),
		),
		sets: ttlcache.New[string, []*domain.BookmarkSet](
			ttlcache.WithTTL[string, []*domain.BookmarkSet](ttl),
			ttlcache.WithDisableTouchOnHit[string, []*domain.BookmarkSet](),
		),
		hidden: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](ttl),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
}

// Start runs the expiry loops until Stop.
func (c *Cache) Start() {
	go c.membership.Start()
	go c.lists.Start()
	go c.sets.Start()
	go c.hidden.Start()
}

func (c *Cache) Stop() {
	c.membership.Stop()
	c.lists.Stop()
	c.sets.Stop()
	c.hidden.Stop()
}

func membershipKey(owner, itemID string) string {
	return owner + "|" + itemID
}

// Membership reports whether itemID is shown as bookmarked. known is false
// when neither an optimistic value nor a list is cached.
func (c *Cache) Membership(owner, itemID string) (member, known bool) {
	if it := c.membership.Get(membershipKey(owner, itemID)); it != nil {
		return it.Value().member, true
	}
	if it := c.lists.Get(owner); it != nil {
		return it.Value().Contains(itemID), true
	}
	return false, false
}

// snapshot captures the visible membership so it can be restored later.
func (c *Cache) snapshot(owner, itemID string) Snapshot {
	if it := c.membership.Get(membershipKey(owner, itemID)); it != nil {
		return Snapshot{Member: it.Value().member, Explicit: true}
	}
	member, _ := c.Membership(owner, itemID)
	return Snapshot{Member: member}
}

// SetMembership records an optimistic value and returns the token naming
// this write.
func (c *Cache) SetMembership(owner, itemID string, member bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(owner, itemID, member)
}

func (c *Cache) set(owner, itemID string, member bool) uint64 {
	c.token++
	c.membership.Set(membershipKey(owner, itemID), mark{member: member, token: c.token}, ttlcache.DefaultTTL)
	return c.token
}

// Flip shows the opposite of the visible membership. It returns the state
// before the flip and the token of the new value.
func (c *Cache) Flip(owner, itemID string) (Snapshot, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snapshot(owner, itemID)
	return s, c.set(owner, itemID, !s.Member)
}

func (c *Cache) restore(owner, itemID string, s Snapshot) {
	if s.Explicit {
		c.set(owner, itemID, s.Member)
		return
	}
	c.membership.Delete(membershipKey(owner, itemID))
}

// RestoreIfCurrent restores s only while the value written under token is
// still the visible one. It reports whether it did.
func (c *Cache) RestoreIfCurrent(owner, itemID string, token uint64, s Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(owner, itemID, token) {
		return false
	}
	c.restore(owner, itemID, s)
	return true
}

// ReleaseIfCurrent drops the value written under token unless a later
// write replaced it.
func (c *Cache) ReleaseIfCurrent(owner, itemID string, token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(owner, itemID, token) {
		return false
	}
	c.membership.Delete(membershipKey(owner, itemID))
	return true
}

func (c *Cache) current(owner, itemID string, token uint64) bool {
	it := c.membership.Get(membershipKey(owner, itemID))
	return it != nil && it.Value().token == token
}

// List returns a copy of the cached list.
func (c *Cache) List(owner string) (*domain.BookmarkList, bool) {
	it := c.lists.Get(owner)
	if it == nil {
		return nil, false
	}
	return it.Value().Clone(), true
}

// SetList caches list. A nil list is cached as an empty one so that "no
// record on the relays" is not refetched on every read.
func (c *Cache) SetList(owner string, list *domain.BookmarkList) {
	if list == nil {
		list = domain.NewBookmarkList(owner)
	}
	c.lists.Set(owner, list.Clone(), ttlcache.DefaultTTL)
}

func (c *Cache) InvalidateList(owner string) {
	c.lists.Delete(owner)
}

// RemoteSets returns the cached remote snapshot of owner's sets.
func (c *Cache) RemoteSets(owner string) ([]*domain.BookmarkSet, bool) {
	it := c.sets.Get(owner)
	if it == nil {
		return nil, false
	}
	return cloneSets(it.Value()), true
}

func (c *Cache) SetRemoteSets(owner string, sets []*domain.BookmarkSet) {
	c.sets.Set(owner, cloneSets(sets), ttlcache.DefaultTTL)
}

func (c *Cache) InvalidateSets(owner string) {
	c.sets.Delete(owner)
}

// HideSet keeps a deleted set out of the view while relays may still
// return it.
func (c *Cache) HideSet(owner, setID string) {
	c.hidden.Set(owner+"|"+setID, struct{}{}, ttlcache.DefaultTTL)
}

func (c *Cache) SetHidden(owner, setID string) bool {
	return c.hidden.Has(owner + "|" + setID)
}

// Len is the number of live entries across all caches.
func (c *Cache) Len() int {
	return c.membership.Len() + c.lists.Len() + c.sets.Len() + c.hidden.Len()
}

func cloneSets(sets []*domain.BookmarkSet) []*domain.BookmarkSet {
	out := slices.Clone(sets)
	for i, s := range out {
		if s != nil {
			out[i] = s.Clone()
		}
	}
	return out
}
