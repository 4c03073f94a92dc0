package domain

import (
	"fmt"
	"strings"
	"time"
)

// SyncStatus tracks where a set stands relative to the relays.
type SyncStatus string

const (
	StatusDraft       SyncStatus = "draft"
	StatusPendingSync SyncStatus = "pending_sync"
	StatusSynced      SyncStatus = "synced"
	StatusFailed      SyncStatus = "failed"
)

// CanTransition reports whether the state machine allows s -> to.
//
//	draft -> pending_sync -> synced | failed
//	failed -> pending_sync (retry)
//	synced -> pending_sync (new local mutation)
func (s SyncStatus) CanTransition(to SyncStatus) bool {
	switch s {
	case StatusDraft:
		return to == StatusPendingSync
	case StatusPendingSync:
		return to == StatusSynced || to == StatusFailed || to == StatusPendingSync
	case StatusFailed, StatusSynced:
		return to == StatusPendingSync
	default:
		return false
	}
}

// Unsynced reports whether a local record in this state must win over the
// remote copy during a merge.
func (s SyncStatus) Unsynced() bool {
	return s != StatusSynced
}

// BookmarkSet is a named collection of items, addressed by (OwnerID, SetID).
type BookmarkSet struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	OwnerID string `json:"owner_id"`

	// SetID is chosen at creation and never changes.
	SetID string `json:"set_id"`

	// ─────────────────────────────
	// Description
	// ─────────────────────────────

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	PublicItems  []BookmarkItem `json:"public_items"`
	PrivateItems []BookmarkItem `json:"private_items"`

	// Content holds ciphertext that could not be decrypted, so a republish
	// does not wipe private items this identity cannot read.
	Content           string `json:"content,omitempty"`
	PrivateUnreadable bool   `json:"private_unreadable,omitempty"`

	// ─────────────────────────────
	// Sync state
	// ─────────────────────────────

	CreatedAt  time.Time  `json:"created_at"`
	SyncStatus SyncStatus `json:"sync_status"`

	// Unconfirmed marks a merged entry taken from the local cache with no
	// remote counterpart in the snapshot. It is never stored.
	Unconfirmed bool `json:"-"`
}

// SetInput carries the user-editable descriptive fields.
type SetInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Validate trims and checks the input.
func (in *SetInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Image = strings.TrimSpace(in.Image)
	if in.Title == "" {
		return ErrEmptyTitle
	}
	return nil
}

// NewBookmarkSet returns an empty Draft set.
func NewBookmarkSet(owner, setID string, in SetInput, now time.Time) *BookmarkSet {
	return &BookmarkSet{
		OwnerID:      owner,
		SetID:        setID,
		Title:        in.Title,
		Description:  in.Description,
		Image:        in.Image,
		PublicItems:  []BookmarkItem{},
		PrivateItems: []BookmarkItem{},
		CreatedAt:    now,
		SyncStatus:   StatusDraft,
	}
}

// IsLocalOnly is true until the relays confirmed the current content, and
// for merged entries the remote snapshot did not contain.
func (s *BookmarkSet) IsLocalOnly() bool {
	return s.SyncStatus != StatusSynced || s.Unconfirmed
}

// ItemCount is the number of items across both portions.
func (s *BookmarkSet) ItemCount() int {
	return len(s.PublicItems) + len(s.PrivateItems)
}

// Contains reports whether id is in either portion.
func (s *BookmarkSet) Contains(id string) bool {
	return indexOf(s.PublicItems, id) >= 0 || indexOf(s.PrivateItems, id) >= 0
}

// Clone returns a deep copy.
func (s *BookmarkSet) Clone() *BookmarkSet {
	c := *s
	c.PublicItems = cloneItems(s.PublicItems)
	c.PrivateItems = cloneItems(s.PrivateItems)
	return &c
}

// AddItem appends item to the requested portion.
func (s *BookmarkSet) AddItem(item BookmarkItem, private bool) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if s.Contains(item.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateItem, item.ID)
	}
	if private {
		s.PrivateItems = append(s.PrivateItems, item)
	} else {
		s.PublicItems = append(s.PublicItems, item)
	}
	return nil
}

// RemoveItem drops id from both portions and reports whether it was present.
func (s *BookmarkSet) RemoveItem(id string) bool {
	if !s.Contains(id) {
		return false
	}
	s.PublicItems = without(s.PublicItems, id)
	s.PrivateItems = without(s.PrivateItems, id)
	return true
}

// Apply copies descriptive fields from in.
func (s *BookmarkSet) Apply(in SetInput) {
	s.Title = in.Title
	s.Description = in.Description
	s.Image = in.Image
}

// CachedSet is the Local Cache Store record for a set.
type CachedSet struct {
	Set BookmarkSet `json:"set"`

	// Revision is bumped on every local mutation. A background publish only
	// settles the record if the revision it published is still current.
	Revision int64 `json:"revision"`

	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition moves the record to status, enforcing the state machine.
func (c *CachedSet) Transition(to SyncStatus) error {
	from := c.Set.SyncStatus
	if from == "" {
		from = StatusDraft
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("invalid sync transition %s -> %s", from, to)
	}
	c.Set.SyncStatus = to
	return nil
}
