package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MrSnakeDoc/marksync/internal/bookmarks"
	"github.com/MrSnakeDoc/marksync/internal/crypto"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/MrSnakeDoc/marksync/internal/nostr"
	"github.com/MrSnakeDoc/marksync/internal/repository"
	"github.com/MrSnakeDoc/marksync/internal/viewcache"
)

const (
	// DefaultRetryDelay is the pause between two publishes of a retry pass
	DefaultRetryDelay = 500 * time.Millisecond
)

// SetRepository is the part of the remote repository set sync needs.
type SetRepository interface {
	FetchSets(ctx context.Context, owner string) ([]*domain.BookmarkSet, error)
	PublishSet(ctx context.Context, d repository.SetDraft) (time.Time, error)
	PublishDeletion(ctx context.Context, address string) (time.Time, error)
}

// SetStore is the Local Cache Store.
type SetStore interface {
	Get(ctx context.Context, owner string) (map[string]domain.CachedSet, error)
	Put(ctx context.Context, owner, setID string, rec domain.CachedSet) error
	Remove(ctx context.Context, owner, setID string) error
	Owners(ctx context.Context) ([]string, error)
}

// RetryReport summarizes a retry pass.
type RetryReport struct {
	Owner     string   `json:"owner" yaml:"owner"`
	Attempted int      `json:"attempted" yaml:"attempted"`
	Succeeded int      `json:"succeeded" yaml:"succeeded"`
	Failed    int      `json:"failed" yaml:"failed"`
	SetIDs    []string `json:"set_ids,omitempty" yaml:"set_ids,omitempty"`
}

// SetSync writes set mutations to the Local Cache Store and publishes them
// in the background.
type SetSync struct {
	base       context.Context
	identity   string
	repo       SetRepository
	store      SetStore
	crypto     crypto.Provider
	views      *viewcache.Cache
	queue      *bookmarks.Queue
	logger     logger.Logger
	retryDelay time.Duration
	now        func() time.Time

	// serializes read-modify-write of one store record
	locks sync.Map
}

// NewSetSync creates the set scheduler. identity is the public key able to
// sign; base bounds every background publish.
func NewSetSync(
	base context.Context,
	identity string,
	repo SetRepository,
	store SetStore,
	p crypto.Provider,
	views *viewcache.Cache,
	log logger.Logger,
	retryDelay time.Duration,
) *SetSync {
	if p == nil {
		p = crypto.Unavailable{}
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &SetSync{
		base:       base,
		identity:   identity,
		repo:       repo,
		store:      store,
		crypto:     p,
		views:      views,
		queue:      bookmarks.NewQueue(),
		logger:     log,
		retryDelay: retryDelay,
		now:        time.Now,
	}
}

// NewSetID returns a fresh sortable set identifier.
func NewSetID() string {
	return ulid.Make().String()
}

// Identity is the owner this scheduler may publish for.
func (s *SetSync) Identity() string { return s.identity }

// CreateSet stores a new set and publishes it in the background.
func (s *SetSync) CreateSet(ctx context.Context, owner string, in domain.SetInput) (*domain.BookmarkSet, error) {
	if err := s.authorize(owner); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	// relays keep whole seconds
	set := domain.NewBookmarkSet(owner, NewSetID(), in, s.now().UTC().Truncate(time.Second))
	rec := domain.CachedSet{Set: *set}
	if err := s.commit(ctx, &rec); err != nil {
		return nil, err
	}
	return rec.Set.Clone(), nil
}

// UpdateSet changes the descriptive fields of a set.
func (s *SetSync) UpdateSet(ctx context.Context, owner, setID string, in domain.SetInput) (*domain.BookmarkSet, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, owner, setID, func(set *domain.BookmarkSet) error {
		set.Apply(in)
		return nil
	})
}

// AddItem adds item to the public or private portion of a set.
func (s *SetSync) AddItem(ctx context.Context, owner, setID string, item domain.BookmarkItem, private bool) (*domain.BookmarkSet, error) {
	return s.mutate(ctx, owner, setID, func(set *domain.BookmarkSet) error {
		if private && !s.crypto.CanEncrypt() {
			return domain.ErrCapabilityMissing
		}
		if private && set.PrivateUnreadable {
			return fmt.Errorf("%w: existing private items are unreadable", domain.ErrDecryption)
		}
		return set.AddItem(item, private)
	})
}

// RemoveItem drops itemID from a set. Removing a missing item is a no-op
// that still returns the set.
func (s *SetSync) RemoveItem(ctx context.Context, owner, setID, itemID string) (*domain.BookmarkSet, error) {
	return s.mutate(ctx, owner, setID, func(set *domain.BookmarkSet) error {
		if !set.RemoveItem(itemID) {
			return errUnchanged
		}
		return nil
	})
}

// DeleteSet removes the set locally at once and publishes a deletion
// request in the background without waiting for it.
func (s *SetSync) DeleteSet(ctx context.Context, owner, setID string) error {
	if err := s.authorize(owner); err != nil {
		return err
	}
	unlock := s.lock(owner, setID)
	defer unlock()

	if _, err := s.lookup(ctx, owner, setID); err != nil {
		return err
	}
	if err := s.store.Remove(ctx, owner, setID); err != nil {
		return fmt.Errorf("failed to remove set: %w", err)
	}
	s.views.HideSet(owner, setID)
	s.views.InvalidateSets(owner)

	addr := nostr.Address(nostr.KindBookmarkSet, owner, setID)
	s.queue.Go(recordKey(owner, setID), func() {
		if _, err := s.repo.PublishDeletion(s.base, addr); err != nil {
			s.logger.Warn("set deletion not confirmed",
				logger.String("address", addr),
				logger.String("reason", domain.FailureReason(err)),
				logger.Error(err))
			return
		}
		s.logger.Info("set deletion published", logger.String("address", addr))
	})
	return nil
}

// Sets returns the merged view of owner's sets. When the relays cannot be
// reached the local records alone are returned, and when only some answered
// their sets are merged as they are.
func (s *SetSync) Sets(ctx context.Context, owner string) ([]*domain.BookmarkSet, error) {
	local, err := s.store.Get(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read local sets: %w", err)
	}
	remote, err := s.remoteSets(ctx, owner)
	if err != nil {
		s.logger.Warn("remote sets incomplete",
			logger.String("owner", owner),
			logger.Int("remote_sets", len(remote)),
			logger.Error(err))
	}

	merged := domain.MergeSets(remote, local)
	out := merged[:0]
	for _, set := range merged {
		if _, isLocal := local[set.SetID]; !isLocal && s.views.SetHidden(owner, set.SetID) {
			continue
		}
		out = append(out, set)
	}
	return out, nil
}

// Set returns one set of the merged view.
func (s *SetSync) Set(ctx context.Context, owner, setID string) (*domain.BookmarkSet, error) {
	sets, err := s.Sets(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, set := range sets {
		if set.SetID == setID {
			return set, nil
		}
	}
	return nil, domain.ErrSetNotFound
}

// Record returns the Local Cache Store record of a set, if any.
func (s *SetSync) Record(ctx context.Context, owner, setID string) (domain.CachedSet, bool, error) {
	recs, err := s.store.Get(ctx, owner)
	if err != nil {
		return domain.CachedSet{}, false, err
	}
	rec, ok := recs[setID]
	return rec, ok, nil
}

// RunRetryPass republishes every Failed set of owner once, pausing
// retryDelay between attempts.
func (s *SetSync) RunRetryPass(ctx context.Context, owner string) RetryReport {
	report := RetryReport{Owner: owner}
	if s.authorize(owner) != nil {
		return report
	}

	recs, err := s.store.Get(ctx, owner)
	if err != nil {
		s.logger.Warn("retry pass could not read local sets",
			logger.String("owner", owner), logger.Error(err))
		return report
	}

	for setID, rec := range recs {
		if rec.Set.SyncStatus != domain.StatusFailed {
			continue
		}
		if report.Attempted > 0 {
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				return report
			}
		}

		if err := s.requeue(ctx, owner, setID); err != nil {
			s.logger.Debug("skipping retry",
				logger.String("set_id", setID), logger.Error(err))
			continue
		}
		report.Attempted++
		report.SetIDs = append(report.SetIDs, setID)

		done := make(chan error, 1)
		s.queue.Go(recordKey(owner, setID), func() {
			done <- s.publish(owner, setID)
		})
		select {
		case err = <-done:
		case <-ctx.Done():
			return report
		}
		if err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}

	if report.Attempted > 0 {
		s.logger.Info("retry pass finished",
			logger.String("owner", owner),
			logger.Int("attempted", report.Attempted),
			logger.Int("succeeded", report.Succeeded),
			logger.Int("failed", report.Failed))
	}
	return report
}

// Wait blocks until every background publish returned.
func (s *SetSync) Wait() {
	s.queue.Wait()
}

// InFlight is the number of sets with queued or running publishes.
func (s *SetSync) InFlight() int {
	return s.queue.Busy()
}

var errUnchanged = errors.New("set unchanged")

// mutate applies fn to the current version of a set, stores the result as
// PendingSync and schedules its publish.
func (s *SetSync) mutate(ctx context.Context, owner, setID string, fn func(*domain.BookmarkSet) error) (*domain.BookmarkSet, error) {
	if err := s.authorize(owner); err != nil {
		return nil, err
	}
	unlock := s.lock(owner, setID)
	defer unlock()

	rec, err := s.lookup(ctx, owner, setID)
	if err != nil {
		return nil, err
	}
	if err := fn(&rec.Set); err != nil {
		if errors.Is(err, errUnchanged) {
			return rec.Set.Clone(), nil
		}
		return nil, err
	}
	if err := s.commit(ctx, &rec); err != nil {
		return nil, err
	}
	return rec.Set.Clone(), nil
}

// commit bumps the revision, moves the record to PendingSync, writes it and
// queues the publish. The write is durable before commit returns.
func (s *SetSync) commit(ctx context.Context, rec *domain.CachedSet) error {
	if err := rec.Transition(domain.StatusPendingSync); err != nil {
		return err
	}
	rec.Revision++
	rec.UpdatedAt = s.now().UTC()

	owner, setID := rec.Set.OwnerID, rec.Set.SetID
	if err := s.store.Put(ctx, owner, setID, *rec); err != nil {
		return fmt.Errorf("failed to store set: %w", err)
	}
	s.views.InvalidateSets(owner)

	s.queue.Go(recordKey(owner, setID), func() {
		_ = s.publish(owner, setID)
	})
	return nil
}

// lookup returns the record a mutation starts from: the local record when
// there is one, the remote copy otherwise.
func (s *SetSync) lookup(ctx context.Context, owner, setID string) (domain.CachedSet, error) {
	recs, err := s.store.Get(ctx, owner)
	if err != nil {
		return domain.CachedSet{}, fmt.Errorf("failed to read local sets: %w", err)
	}
	rec, ok := recs[setID]
	if ok && rec.Set.SyncStatus.Unsynced() {
		return rec, nil
	}

	remote, err := s.remoteSets(ctx, owner)
	if err != nil && !ok {
		return domain.CachedSet{}, err
	}
	for _, set := range remote {
		if set.SetID == setID {
			created := rec.Set.CreatedAt
			rec.Set = *set.Clone()
			rec.Set.OwnerID = owner
			if ok && !created.IsZero() {
				rec.Set.CreatedAt = created
			}
			return rec, nil
		}
	}
	if ok {
		return rec, nil
	}
	return domain.CachedSet{}, domain.ErrSetNotFound
}

// requeue moves a Failed record back to PendingSync for a retry.
func (s *SetSync) requeue(ctx context.Context, owner, setID string) error {
	unlock := s.lock(owner, setID)
	defer unlock()

	recs, err := s.store.Get(ctx, owner)
	if err != nil {
		return err
	}
	rec, ok := recs[setID]
	if !ok {
		return domain.ErrSetNotFound
	}
	if err := rec.Transition(domain.StatusPendingSync); err != nil {
		return err
	}
	rec.UpdatedAt = s.now().UTC()
	return s.store.Put(ctx, owner, setID, rec)
}

// publish sends the current local version of a set and settles the record.
// It returns nil when there was nothing to do or the publish succeeded.
func (s *SetSync) publish(owner, setID string) error {
	ctx := s.base

	recs, err := s.store.Get(ctx, owner)
	if err != nil {
		s.logger.Error("set publish could not read local record",
			logger.String("set_id", setID), logger.Error(err))
		return err
	}
	rec, ok := recs[setID]
	if !ok || rec.Set.SyncStatus != domain.StatusPendingSync {
		return nil
	}
	revision := rec.Revision

	var publishErr error
	content, err := repository.PrivateContent(s.crypto, owner, rec.Set.PrivateItems, rec.Set.Content, rec.Set.PrivateUnreadable)
	if err != nil {
		publishErr = err
	} else {
		_, publishErr = s.repo.PublishSet(ctx, repository.SetDraft{
			SetID:            setID,
			Title:            rec.Set.Title,
			Description:      rec.Set.Description,
			Image:            rec.Set.Image,
			CreatedAt:        rec.Set.CreatedAt,
			PublicTags:       domain.ItemTags(rec.Set.PublicItems),
			EncryptedContent: content,
		})
	}

	s.settle(owner, setID, revision, publishErr)
	return publishErr
}

// settle records the publish outcome unless the record was deleted or
// mutated again while the publish was in flight.
func (s *SetSync) settle(owner, setID string, revision int64, publishErr error) {
	ctx := s.base
	unlock := s.lock(owner, setID)
	defer unlock()
	defer s.views.InvalidateSets(owner)

	recs, err := s.store.Get(ctx, owner)
	if err != nil {
		s.logger.Error("set settle could not read local record",
			logger.String("set_id", setID), logger.Error(err))
		return
	}
	rec, ok := recs[setID]
	if !ok {
		s.logger.Debug("set deleted before publish settled", logger.String("set_id", setID))
		return
	}
	if rec.Revision != revision || rec.Set.SyncStatus != domain.StatusPendingSync {
		s.logger.Debug("set changed while publishing, leaving it to the next task",
			logger.String("set_id", setID),
			logger.Int64("published_revision", revision),
			logger.Int64("current_revision", rec.Revision))
		return
	}

	if publishErr != nil {
		_ = rec.Transition(domain.StatusFailed)
		rec.Attempts++
		rec.LastError = publishErr.Error()
		s.logger.Warn("set publish failed",
			logger.String("set_id", setID),
			logger.String("title", rec.Set.Title),
			logger.String("reason", domain.FailureReason(publishErr)),
			logger.Int("attempts", rec.Attempts),
			logger.Error(publishErr))
	} else {
		_ = rec.Transition(domain.StatusSynced)
		rec.Attempts = 0
		rec.LastError = ""
		s.logger.Info("set synced",
			logger.String("set_id", setID),
			logger.String("title", rec.Set.Title),
			logger.Int("items", rec.Set.ItemCount()))
	}
	rec.UpdatedAt = s.now().UTC()
	if err := s.store.Put(ctx, owner, setID, rec); err != nil {
		s.logger.Error("failed to store settled set",
			logger.String("set_id", setID), logger.Error(err))
	}
}

func (s *SetSync) remoteSets(ctx context.Context, owner string) ([]*domain.BookmarkSet, error) {
	if sets, ok := s.views.RemoteSets(owner); ok {
		return sets, nil
	}
	sets, err := s.repo.FetchSets(ctx, owner)
	if err != nil {
		// a partial read is usable once but never cached
		return sets, err
	}
	s.views.SetRemoteSets(owner, sets)
	return sets, nil
}

func (s *SetSync) authorize(owner string) error {
	if s.identity == "" || owner != s.identity {
		return domain.ErrNotAuthenticated
	}
	return nil
}

func (s *SetSync) lock(owner, setID string) func() {
	v, _ := s.locks.LoadOrStore(recordKey(owner, setID), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func recordKey(owner, setID string) string {
	return "set:" + owner + ":" + setID
}
