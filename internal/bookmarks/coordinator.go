// Package bookmarks coordinates optimistic edits of the owner's bookmark list.
//
// A toggle flips what the UI shows at once, then reconciles with the relays
// in the background: it reads the latest list, applies the change to that
// snapshot and publishes. On failure the optimistic value is rolled back.
package bookmarks

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/crypto"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/MrSnakeDoc/marksync/internal/repository"
	"github.com/MrSnakeDoc/marksync/internal/viewcache"
)

// ListRepository is the part of the remote repository a toggle needs.
type ListRepository interface {
	FetchLatestList(ctx context.Context, owner string) (*domain.BookmarkList, error)
	PublishList(ctx context.Context, publicTags [][]string, encryptedContent string) (time.Time, error)
}

// Outcome is how a toggle settled.
type Outcome struct {
	// Member is the membership the relays confirmed. Meaningless when Err
	// is set.
	Member      bool
	PublishedAt time.Time
	Err         error
}

// Pending tracks a toggle whose network half has not settled yet.
type Pending struct {
	// Tentative is the membership shown to the UI right away.
	Tentative bool

	done    chan struct{}
	outcome Outcome
}

// Done is closed once the toggle settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the toggle settled or ctx ends, and returns the settle
// error.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.outcome.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the outcome. It is only meaningful after Done.
func (p *Pending) Result() Outcome {
	select {
	case <-p.done:
		return p.outcome
	default:
		return Outcome{}
	}
}

// Coordinator is the Optimistic Mutation Coordinator for bookmark lists.
type Coordinator struct {
	base     context.Context
	identity string
	repo     ListRepository
	crypto   crypto.Provider
	views    *viewcache.Cache
	queue    *Queue
	logger   logger.Logger
}

// NewCoordinator wires a coordinator. identity is the public key able to
// sign; an empty identity rejects every toggle. base bounds the lifetime of
// background work.
func NewCoordinator(
	base context.Context,
	identity string,
	repo ListRepository,
	p crypto.Provider,
	views *viewcache.Cache,
	log logger.Logger,
) *Coordinator {
	if p == nil {
		p = crypto.Unavailable{}
	}
	return &Coordinator{
		base:     base,
		identity: identity,
		repo:     repo,
		crypto:   p,
		views:    views,
		queue:    NewQueue(),
		logger:   log,
	}
}

// Toggle flips the bookmark state of itemID for owner.
func (c *Coordinator) Toggle(ctx context.Context, owner, itemID string, privateIfAdding bool) (*Pending, error) {
	item, err := domain.ItemFromRef(itemID, "")
	if err != nil {
		return nil, err
	}
	return c.ToggleItem(ctx, owner, item, privateIfAdding)
}

// ToggleItem is Toggle for a fully described item, relay hint included.
// It returns as soon as the optimistic value is visible.
func (c *Coordinator) ToggleItem(_ context.Context, owner string, item domain.BookmarkItem, privateIfAdding bool) (*Pending, error) {
	if c.identity == "" || owner != c.identity {
		return nil, domain.ErrNotAuthenticated
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if privateIfAdding && !c.crypto.CanEncrypt() {
		return nil, domain.ErrCapabilityMissing
	}

	snapshot, token := c.views.Flip(owner, item.ID)
	tentative := !snapshot.Member

	p := &Pending{Tentative: tentative, done: make(chan struct{})}
	c.queue.Go(listKey(owner), func() {
		defer close(p.done)
		p.outcome = c.settle(owner, item, privateIfAdding)
		// a later toggle of the same item owns the visible value until it settles
		if p.outcome.Err != nil {
			restored := c.views.RestoreIfCurrent(owner, item.ID, token, snapshot)
			c.logger.Warn("bookmark toggle rolled back",
				logger.String("owner", owner),
				logger.String("item", item.ID),
				logger.String("reason", domain.FailureReason(p.outcome.Err)),
				logger.Bool("view_restored", restored),
				logger.Error(p.outcome.Err))
			return
		}
		c.views.ReleaseIfCurrent(owner, item.ID, token)
		c.views.InvalidateList(owner)
		c.logger.Info("bookmark toggle settled",
			logger.String("owner", owner),
			logger.String("item", item.ID),
			logger.Bool("member", p.outcome.Member))
	})
	return p, nil
}

// settle applies the toggle to the latest remote list and publishes it.
func (c *Coordinator) settle(owner string, item domain.BookmarkItem, privateIfAdding bool) Outcome {
	ctx := c.base

	list, err := c.repo.FetchLatestList(ctx, owner)
	if err != nil {
		return Outcome{Err: err}
	}
	if list == nil {
		list = domain.NewBookmarkList(owner)
	}

	member := list.Contains(item.ID)
	var next *domain.BookmarkList
	if member {
		next = list.WithoutItem(item.ID)
	} else {
		next = list.WithItem(item, privateIfAdding)
	}

	content, err := repository.PrivateContent(c.crypto, owner, next.PrivateItems, list.Content, list.PrivateUnreadable)
	if err != nil {
		return Outcome{Err: err}
	}
	at, err := c.repo.PublishList(ctx, domain.ItemTags(next.PublicItems), content)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Member: !member, PublishedAt: at}
}

// List returns the owner's bookmark list, from the view cache when possible.
// An owner without a remote list gets an empty one.
func (c *Coordinator) List(ctx context.Context, owner string) (*domain.BookmarkList, error) {
	if list, ok := c.views.List(owner); ok {
		return list, nil
	}
	list, err := c.repo.FetchLatestList(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookmark list: %w", err)
	}
	if list == nil {
		list = domain.NewBookmarkList(owner)
	}
	c.views.SetList(owner, list)
	return list, nil
}

// IsBookmarked reports the membership the UI should show, optimistic
// values included.
func (c *Coordinator) IsBookmarked(ctx context.Context, owner, itemID string) (bool, error) {
	if member, known := c.views.Membership(owner, itemID); known {
		return member, nil
	}
	list, err := c.List(ctx, owner)
	if err != nil {
		return false, err
	}
	return list.Contains(itemID), nil
}

// Wait blocks until every background toggle settled.
func (c *Coordinator) Wait() {
	c.queue.Wait()
}

// InFlight is the number of lists with unsettled toggles.
func (c *Coordinator) InFlight() int {
	return c.queue.Busy()
}

func listKey(owner string) string {
	return "list:" + owner
}
