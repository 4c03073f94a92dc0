// Package repository reads and writes bookmark records on the relays.
//
// Every call is bounded by its own timeout. A deadline expiry surfaces as
// domain.ErrTimeout, a relay refusal as *domain.RejectionError.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/crypto"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/MrSnakeDoc/marksync/internal/nostr"
)

const (
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 15 * time.Second

	// tagPublishedAt carries the set's creation time. created_at moves on
	// every republish.
	tagPublishedAt = "published_at"
)

// Relays is the transport the repository needs. *relay.Pool satisfies it.
// Query may return results together with an error wrapping
// domain.ErrPartialRead when only some relays answered.
type Relays interface {
	Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	Publish(ctx context.Context, ev *nostr.Event) error
}

// SetDraft is a set ready to be turned into a wire record.
type SetDraft struct {
	SetID            string
	Title            string
	Description      string
	Image            string
	CreatedAt        time.Time
	PublicTags       [][]string
	EncryptedContent string
}

type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Repository is the Remote Bookmark Repository.
type Repository struct {
	relays Relays
	signer nostr.Signer
	crypto crypto.Provider
	logger logger.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	now          func() time.Time

	// newest created_at seen or written per record address
	mu   sync.Mutex
	seen map[string]int64
}

// New builds a repository. signer may be nil, in which case every publish
// fails with domain.ErrNotAuthenticated.
func New(relays Relays, signer nostr.Signer, p crypto.Provider, log logger.Logger, opts Options) *Repository {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if p == nil {
		p = crypto.Unavailable{}
	}
	return &Repository{
		relays:       relays,
		signer:       signer,
		crypto:       p,
		logger:       log,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		now:          time.Now,
		seen:         make(map[string]int64),
	}
}

// Owner is the public key of the signing identity, or "" when there is none.
func (r *Repository) Owner() string {
	if r.signer == nil {
		return ""
	}
	return r.signer.PublicKey()
}

// Crypto returns the provider used for private portions.
func (r *Repository) Crypto() crypto.Provider { return r.crypto }

// FetchLatestList returns the newest bookmark list of owner, or nil when the
// relays hold none.
func (r *Repository) FetchLatestList(ctx context.Context, owner string) (*domain.BookmarkList, error) {
	ctx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	events, err := r.relays.Query(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindBookmarkList},
		Authors: []string{owner},
	})
	partial := errors.Is(err, domain.ErrPartialRead)
	if err != nil && !partial {
		return nil, timeout(ctx, fmt.Errorf("failed to fetch bookmark list: %w", err))
	}
	ev := nostr.Newest(events)
	if ev == nil {
		if partial {
			// a relay that did not answer may hold the list
			return nil, fmt.Errorf("failed to fetch bookmark list: %w", err)
		}
		return nil, nil
	}
	if partial {
		r.logger.Warn("bookmark list read from a subset of relays",
			logger.String("owner", owner), logger.Error(err))
	}
	r.observe(listAddress(owner), ev.CreatedAt)

	list := domain.NewBookmarkList(owner)
	list.UpdatedAt = ev.Time()
	list.PublicItems = domain.ItemsFromTags(ev.Tags)
	list.Content = ev.Content
	list.PrivateItems, list.PrivateUnreadable = r.decodePrivate(owner, ev)
	list.PrivateItems = exclude(list.PrivateItems, list.PublicItems)
	return list, nil
}

// FetchSets returns the newest version of every set of owner. Sets whose
// address is referenced by a newer deletion record are left out.
//
// When only some relays answered, the sets found are returned together with
// an error wrapping domain.ErrPartialRead.
func (r *Repository) FetchSets(ctx context.Context, owner string) ([]*domain.BookmarkSet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	events, err := r.relays.Query(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindBookmarkSet, nostr.KindDeletion},
		Authors: []string{owner},
	})
	var partial error
	if err != nil {
		if !errors.Is(err, domain.ErrPartialRead) {
			return nil, timeout(ctx, fmt.Errorf("failed to fetch bookmark sets: %w", err))
		}
		partial = fmt.Errorf("failed to fetch every bookmark set: %w", err)
	}

	latest := make(map[string]*nostr.Event)
	deleted := make(map[string]int64)
	for _, ev := range events {
		if ev.PubKey != owner {
			continue
		}
		switch ev.Kind {
		case nostr.KindDeletion:
			for _, tag := range ev.Tags {
				if len(tag) >= 2 && tag[0] == domain.TagAddress && ev.CreatedAt > deleted[tag[1]] {
					deleted[tag[1]] = ev.CreatedAt
				}
			}
		case nostr.KindBookmarkSet:
			d := ev.TagValue("d")
			if d == "" {
				continue
			}
			latest[d] = nostr.Newest([]*nostr.Event{latest[d], ev})
		}
	}

	sets := make([]*domain.BookmarkSet, 0, len(latest))
	for d, ev := range latest {
		addr := nostr.Address(nostr.KindBookmarkSet, owner, d)
		r.observe(addr, ev.CreatedAt)
		if at, ok := deleted[addr]; ok && at >= ev.CreatedAt {
			continue
		}
		sets = append(sets, r.decodeSet(owner, ev))
	}
	return sets, partial
}

// PublishList replaces the owner's bookmark list and returns the confirmed
// created_at.
func (r *Repository) PublishList(ctx context.Context, publicTags [][]string, encryptedContent string) (time.Time, error) {
	if r.signer == nil {
		return time.Time{}, domain.ErrNotAuthenticated
	}
	return r.publish(ctx, listAddress(r.signer.PublicKey()), nostr.Draft{
		Kind:    nostr.KindBookmarkList,
		Content: encryptedContent,
		Tags:    publicTags,
	})
}

// PublishSet writes a set record.
func (r *Repository) PublishSet(ctx context.Context, d SetDraft) (time.Time, error) {
	if r.signer == nil {
		return time.Time{}, domain.ErrNotAuthenticated
	}
	if d.SetID == "" {
		return time.Time{}, fmt.Errorf("set id is required")
	}
	tags := [][]string{{"d", d.SetID}, {"title", d.Title}}
	if d.Description != "" {
		tags = append(tags, []string{"description", d.Description})
	}
	if d.Image != "" {
		tags = append(tags, []string{"image", d.Image})
	}
	if !d.CreatedAt.IsZero() {
		tags = append(tags, []string{tagPublishedAt, strconv.FormatInt(d.CreatedAt.Unix(), 10)})
	}
	tags = append(tags, d.PublicTags...)

	addr := nostr.Address(nostr.KindBookmarkSet, r.signer.PublicKey(), d.SetID)
	return r.publish(ctx, addr, nostr.Draft{
		Kind:    nostr.KindBookmarkSet,
		Content: d.EncryptedContent,
		Tags:    tags,
	})
}

// PublishDeletion asks relays to drop the record at address.
func (r *Repository) PublishDeletion(ctx context.Context, address string) (time.Time, error) {
	if r.signer == nil {
		return time.Time{}, domain.ErrNotAuthenticated
	}
	return r.publish(ctx, address, nostr.Draft{
		Kind: nostr.KindDeletion,
		Tags: [][]string{{domain.TagAddress, address}},
	})
}

func (r *Repository) publish(ctx context.Context, key string, d nostr.Draft) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	ev := &nostr.Event{
		Kind:      d.Kind,
		Content:   d.Content,
		Tags:      d.Tags,
		CreatedAt: r.stamp(key),
	}
	if err := r.signer.Sign(ev); err != nil {
		return time.Time{}, err
	}
	if err := r.relays.Publish(ctx, ev); err != nil {
		return time.Time{}, timeout(ctx, fmt.Errorf("failed to publish kind %d: %w", d.Kind, err))
	}
	return ev.Time(), nil
}

// stamp returns a created_at never older than what was last seen for key, so
// a replacement always sorts after the record it replaces.
func (r *Repository) stamp(key string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now().Unix()
	if last := r.seen[key]; ts <= last {
		ts = last + 1
	}
	r.seen[key] = ts
	return ts
}

func (r *Repository) observe(key string, ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts > r.seen[key] {
		r.seen[key] = ts
	}
}

func (r *Repository) decodeSet(owner string, ev *nostr.Event) *domain.BookmarkSet {
	s := &domain.BookmarkSet{
		OwnerID:     owner,
		SetID:       ev.TagValue("d"),
		Title:       ev.TagValue("title"),
		Description: ev.TagValue("description"),
		Image:       ev.TagValue("image"),
		PublicItems: domain.ItemsFromTags(ev.Tags),
		Content:     ev.Content,
		CreatedAt:   publishedAt(ev),
		SyncStatus:  domain.StatusSynced,
	}
	s.PrivateItems, s.PrivateUnreadable = r.decodePrivate(owner, ev)
	s.PrivateItems = exclude(s.PrivateItems, s.PublicItems)
	return s
}

// decodePrivate never fails: an unreadable payload yields zero items.
func (r *Repository) decodePrivate(owner string, ev *nostr.Event) ([]domain.BookmarkItem, bool) {
	items, err := DecryptItems(r.crypto, owner, ev.Content)
	if err != nil {
		r.logger.Warn("private bookmarks unreadable",
			logger.String("event_id", ev.ID),
			logger.Int("kind", ev.Kind),
			logger.Error(err))
		return []domain.BookmarkItem{}, true
	}
	return items, false
}

// publishedAt is the creation time a set record carries, its created_at
// when the tag is missing or malformed.
func publishedAt(ev *nostr.Event) time.Time {
	if v := ev.TagValue(tagPublishedAt); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil && ts > 0 {
			return time.Unix(ts, 0).UTC()
		}
	}
	return ev.Time()
}

func listAddress(owner string) string {
	return nostr.Address(nostr.KindBookmarkList, owner, "")
}

// exclude drops from items every id present in other.
func exclude(items, other []domain.BookmarkItem) []domain.BookmarkItem {
	if len(other) == 0 {
		return items
	}
	ids := make(map[string]struct{}, len(other))
	for _, it := range other {
		ids[it.ID] = struct{}{}
	}
	out := make([]domain.BookmarkItem, 0, len(items))
	for _, it := range items {
		if _, dup := ids[it.ID]; !dup {
			out = append(out, it)
		}
	}
	return out
}

func timeout(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return err
}
