package domain

import "time"

// BookmarkList is the per-owner singleton of bookmarked items.
type BookmarkList struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	OwnerID string

	// UpdatedAt is the created_at of the remote record this list was read from.
	UpdatedAt time.Time

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	PublicItems  []BookmarkItem
	PrivateItems []BookmarkItem

	// Content is the ciphertext as fetched. It is kept so an unreadable
	// private portion survives a republish untouched.
	Content string

	// PrivateUnreadable is set when Content was non-empty but could not be
	// decrypted; PrivateItems is empty in that case.
	PrivateUnreadable bool
}

// NewBookmarkList returns an empty list for owner.
func NewBookmarkList(owner string) *BookmarkList {
	return &BookmarkList{
		OwnerID:      owner,
		PublicItems:  []BookmarkItem{},
		PrivateItems: []BookmarkItem{},
	}
}

// Contains reports whether id is bookmarked, publicly or privately.
func (l *BookmarkList) Contains(id string) bool {
	if l == nil {
		return false
	}
	return indexOf(l.PublicItems, id) >= 0 || indexOf(l.PrivateItems, id) >= 0
}

// Count is the number of items across both portions.
func (l *BookmarkList) Count() int {
	if l == nil {
		return 0
	}
	return len(l.PublicItems) + len(l.PrivateItems)
}

// Clone returns a deep copy.
func (l *BookmarkList) Clone() *BookmarkList {
	if l == nil {
		return nil
	}
	c := *l
	c.PublicItems = cloneItems(l.PublicItems)
	c.PrivateItems = cloneItems(l.PrivateItems)
	return &c
}

// WithItem returns a copy holding item in the requested portion. An item
// already present elsewhere is moved so it lives in exactly one portion.
func (l *BookmarkList) WithItem(item BookmarkItem, private bool) *BookmarkList {
	c := l.Clone()
	c.PublicItems = without(c.PublicItems, item.ID)
	c.PrivateItems = without(c.PrivateItems, item.ID)
	if private {
		c.PrivateItems = append(c.PrivateItems, item)
	} else {
		c.PublicItems = append(c.PublicItems, item)
	}
	return c
}

// WithoutItem returns a copy with id removed from both portions.
func (l *BookmarkList) WithoutItem(id string) *BookmarkList {
	c := l.Clone()
	c.PublicItems = without(c.PublicItems, id)
	c.PrivateItems = without(c.PrivateItems, id)
	return c
}
