package bookmarks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marksync/internal/crypto"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/MrSnakeDoc/marksync/internal/nostr"
	"github.com/MrSnakeDoc/marksync/internal/relay"
	"github.com/MrSnakeDoc/marksync/internal/relay/relaytest"
	"github.com/MrSnakeDoc/marksync/internal/repository"
	"github.com/MrSnakeDoc/marksync/internal/viewcache"
)

// fakeLists keeps a single remote list record the way a relay would.
type fakeLists struct {
	mu         sync.Mutex
	crypto     crypto.Provider
	owner      string
	tags       [][]string
	content    string
	exists     bool
	publishes  int
	publishErr error
	fetchErr   error
	// when set, PublishList blocks until a value is received
	gate chan struct{}
}

func (f *fakeLists) FetchLatestList(_ context.Context, owner string) (*domain.BookmarkList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if !f.exists {
		return nil, nil
	}
	list := domain.NewBookmarkList(owner)
	list.PublicItems = domain.ItemsFromTags(f.tags)
	list.Content = f.content
	private, err := repository.DecryptItems(f.crypto, owner, f.content)
	if err != nil {
		list.PrivateUnreadable = true
	} else {
		list.PrivateItems = private
	}
	return list, nil
}

func (f *fakeLists) PublishList(_ context.Context, tags [][]string, content string) (time.Time, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes++
	if f.publishErr != nil {
		return time.Time{}, f.publishErr
	}
	f.tags, f.content, f.exists = tags, content, true
	return time.Now(), nil
}

func (f *fakeLists) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishErr = err
}

func (f *fakeLists) remote(t *testing.T) *domain.BookmarkList {
	t.Helper()
	list, err := f.FetchLatestList(context.Background(), f.owner)
	require.NoError(t, err)
	if list == nil {
		return domain.NewBookmarkList(f.owner)
	}
	return list
}

type harness struct {
	owner string
	repo  *fakeLists
	views *viewcache.Cache
	c     *Coordinator
}

func newHarness(t *testing.T, withCrypto bool) *harness {
	t.Helper()
	s, err := nostr.GenerateKeySigner()
	require.NoError(t, err)

	var p crypto.Provider = crypto.Unavailable{}
	if withCrypto {
		p = crypto.NewNIP44(s.PrivateKey())
	}
	repo := &fakeLists{crypto: p, owner: s.PublicKey()}
	views := viewcache.New(time.Minute)
	return &harness{
		owner: s.PublicKey(),
		repo:  repo,
		views: views,
		c:     NewCoordinator(context.Background(), s.PublicKey(), repo, p, views, logger.Nop()),
	}
}

func (h *harness) toggle(t *testing.T, id string, private bool) Outcome {
	t.Helper()
	p, err := h.c.Toggle(context.Background(), h.owner, id, private)
	require.NoError(t, err)
	require.NoError(t, p.Wait(context.Background()))
	return p.Result()
}

func TestToggleAddsThenRemoves(t *testing.T) {
	h := newHarness(t, true)
	h.repo.tags = [][]string{{"e", "a"}, {"e", "b"}}
	h.repo.exists = true

	out := h.toggle(t, "abc123", false)
	assert.True(t, out.Member)
	assert.True(t, h.repo.remote(t).Contains("abc123"))
	assert.Equal(t, 3, h.repo.remote(t).Count())

	out = h.toggle(t, "abc123", false)
	assert.False(t, out.Member)

	remote := h.repo.remote(t)
	assert.False(t, remote.Contains("abc123"))
	assert.Equal(t, 2, remote.Count())
	assert.Equal(t, 2, h.repo.publishes)

	member, err := h.c.IsBookmarked(context.Background(), h.owner, "abc123")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestToggleIsOptimistic(t *testing.T) {
	h := newHarness(t, true)

	p, err := h.c.Toggle(context.Background(), h.owner, "abc123", false)
	require.NoError(t, err)
	assert.True(t, p.Tentative)

	member, known := h.views.Membership(h.owner, "abc123")
	assert.True(t, known)
	assert.True(t, member)

	require.NoError(t, p.Wait(context.Background()))
	_, known = h.views.Membership(h.owner, "abc123")
	assert.False(t, known, "settled toggles invalidate the optimistic value")
}

func TestConcurrentTogglesSettleByParity(t *testing.T) {
	for _, n := range []int{2, 3, 4} {
		h := newHarness(t, true)

		var pending []*Pending
		for i := 0; i < n; i++ {
			p, err := h.c.Toggle(context.Background(), h.owner, "abc123", false)
			require.NoError(t, err)
			pending = append(pending, p)
		}
		h.c.Wait()
		for _, p := range pending {
			require.NoError(t, p.Result().Err)
		}

		assert.Equal(t, n%2 == 1, h.repo.remote(t).Contains("abc123"), "after %d toggles", n)
		assert.Equal(t, n, h.repo.publishes)
		assert.Zero(t, h.c.InFlight())
	}
}

func TestToggleRollsBackOnFailure(t *testing.T) {
	for name, failure := range map[string]error{
		"timeout":  domain.ErrTimeout,
		"rejected": &domain.RejectionError{Relay: "wss://r", Reason: "blocked"},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, true)
			h.repo.publishErr = failure

			p, err := h.c.Toggle(context.Background(), h.owner, "abc123", false)
			require.NoError(t, err)
			err = p.Wait(context.Background())
			assert.ErrorIs(t, err, failure)
			assert.Equal(t, name, domain.FailureReason(err))

			_, known := h.views.Membership(h.owner, "abc123")
			assert.False(t, known)
			assert.False(t, h.repo.remote(t).Contains("abc123"))
		})
	}
}

func TestToggleRollbackRestoresExplicitValue(t *testing.T) {
	h := newHarness(t, true)
	h.views.SetMembership(h.owner, "abc123", true)
	h.repo.fetchErr = domain.ErrTimeout

	p, err := h.c.Toggle(context.Background(), h.owner, "abc123", false)
	require.NoError(t, err)
	assert.False(t, p.Tentative)
	require.Error(t, p.Wait(context.Background()))

	member, known := h.views.Membership(h.owner, "abc123")
	assert.True(t, known)
	assert.True(t, member)
	assert.Zero(t, h.repo.publishes)
}

func TestFailedToggleKeepsLaterOptimisticValue(t *testing.T) {
	h := newHarness(t, true)
	gate := make(chan struct{})
	h.repo.gate = gate
	h.repo.failWith(domain.ErrTimeout)

	first, err := h.c.Toggle(context.Background(), h.owner, "abc123", false)
	require.NoError(t, err)
	second, err := h.c.Toggle(context.Background(), h.owner, "abc123", false)
	require.NoError(t, err)
	assert.True(t, first.Tentative)
	assert.False(t, second.Tentative)

	gate <- struct{}{}
	assert.ErrorIs(t, first.Wait(context.Background()), domain.ErrTimeout)

	member, known := h.views.Membership(h.owner, "abc123")
	assert.True(t, known)
	assert.False(t, member, "the queued toggle still owns the visible value")

	h.repo.failWith(nil)
	gate <- struct{}{}
	require.NoError(t, second.Wait(context.Background()))

	_, known = h.views.Membership(h.owner, "abc123")
	assert.False(t, known)
}

func TestToggleRejectedBeforeAnyWrite(t *testing.T) {
	s, err := nostr.GenerateKeySigner()
	require.NoError(t, err)
	repo := &fakeLists{crypto: crypto.Unavailable{}}
	views := viewcache.New(time.Minute)

	anon := NewCoordinator(context.Background(), "", repo, nil, views, logger.Nop())
	_, err = anon.Toggle(context.Background(), s.PublicKey(), "abc123", false)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	c := NewCoordinator(context.Background(), s.PublicKey(), repo, crypto.Unavailable{}, views, logger.Nop())
	_, err = c.Toggle(context.Background(), "someone-else", "abc123", false)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, err = c.Toggle(context.Background(), s.PublicKey(), "abc123", true)
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)

	_, err = c.Toggle(context.Background(), s.PublicKey(), "  ", false)
	assert.ErrorIs(t, err, domain.ErrInvalidItem)

	assert.Zero(t, views.Len())
	assert.Zero(t, repo.publishes)
}

func TestTogglePrivate(t *testing.T) {
	h := newHarness(t, true)

	out := h.toggle(t, "secret", true)
	assert.True(t, out.Member)
	assert.Empty(t, h.repo.tags)
	assert.NotEmpty(t, h.repo.content)
	assert.NotContains(t, h.repo.content, "secret")

	remote := h.repo.remote(t)
	require.Len(t, remote.PrivateItems, 1)
	assert.Equal(t, "secret", remote.PrivateItems[0].ID)

	h.toggle(t, "secret", false)
	assert.Equal(t, "", h.repo.content, "no private items left means no payload")
}

func TestTogglePreservesUnreadableContent(t *testing.T) {
	h := newHarness(t, false)
	h.repo.exists = true
	h.repo.content = "ciphertext-from-another-client"

	h.toggle(t, "abc123", false)
	assert.Equal(t, "ciphertext-from-another-client", h.repo.content)
	assert.True(t, h.repo.remote(t).Contains("abc123"))
}

func TestListIsCached(t *testing.T) {
	h := newHarness(t, true)
	h.repo.tags = [][]string{{"e", "a"}}
	h.repo.exists = true

	list, err := h.c.List(context.Background(), h.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count())

	h.repo.fetchErr = domain.ErrTimeout
	list, err = h.c.List(context.Background(), h.owner)
	require.NoError(t, err, "second read is served from the view cache")
	assert.True(t, list.Contains("a"))

	h.views.InvalidateList(h.owner)
	_, err = h.c.List(context.Background(), h.owner)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestToggleRollsBackWhenListRelayStalls(t *testing.T) {
	empty, holder := relaytest.New(), relaytest.New()
	defer empty.Close()
	defer holder.Close()

	s, err := nostr.GenerateKeySigner()
	require.NoError(t, err)
	owner := s.PublicKey()
	stored := &nostr.Event{
		Kind:      nostr.KindBookmarkList,
		Tags:      [][]string{{"e", "a"}, {"e", "b"}, {"e", "c"}},
		CreatedAt: time.Now().Add(-time.Hour).Unix(),
	}
	require.NoError(t, s.Sign(stored))
	holder.Add(stored)
	holder.Delay(2 * time.Second)

	pool := relay.NewPool([]relay.Endpoint{
		{URL: empty.URL(), Read: true, Write: true},
		{URL: holder.URL(), Read: true, Write: true},
	}, logger.Nop())
	p := crypto.NewNIP44(s.PrivateKey())
	repo := repository.New(pool, s, p, logger.Nop(), repository.Options{
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
	})
	views := viewcache.New(time.Minute)
	c := NewCoordinator(context.Background(), owner, repo, p, views, logger.Nop())

	pending, err := c.Toggle(context.Background(), owner, "newitem", false)
	require.NoError(t, err)
	err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrTimeout)

	assert.Zero(t, empty.Received(), "nothing may be published over an unknown list")
	_, known := views.Membership(owner, "newitem")
	assert.False(t, known)

	holder.Delay(0)
	list, err := repo.FetchLatestList(context.Background(), owner)
	require.NoError(t, err)
	require.NotNil(t, list)
	assert.Equal(t, 3, list.Count())
	assert.False(t, list.Contains("newitem"))
}
