package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

const (
	// DefaultStaleAfter is how long a record may sit in PendingSync with no
	// publish queued before it is handed to the retry pass
	DefaultStaleAfter = 10 * time.Minute
)

// StaleSweeper finds PendingSync records no publish will ever settle, such as
// one whose settle could not be written, and marks them Failed so the next
// retry pass picks them up. It covers every owner in the Local Cache Store
// and never removes a record.
type StaleSweeper struct {
	sync       *SetSync
	logger     logger.Logger
	interval   time.Duration
	staleAfter time.Duration
	stopCh     chan struct{}
}

// NewStaleSweeper creates a new sweeper
func NewStaleSweeper(
	sync *SetSync,
	log logger.Logger,
	interval time.Duration,
	staleAfter time.Duration,
) *StaleSweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	return &StaleSweeper{
		sync:       sync,
		logger:     log,
		interval:   interval,
		staleAfter: staleAfter,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (sw *StaleSweeper) Start(ctx context.Context) error {
	if sw.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", sw.interval)
	}

	ticker := time.NewTicker(sw.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := sw.Sweep(ctx); err != nil {
					sw.logger.Error("stale set sweep failed",
						logger.Error(err))
				}
			case <-sw.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the sweeper
func (sw *StaleSweeper) Stop() {
	close(sw.stopCh)
}

// Sweep marks stuck PendingSync records of every cached owner as Failed and
// returns how many it marked.
func (sw *StaleSweeper) Sweep(ctx context.Context) (int, error) {
	sw.logger.Debug("sweeping stale pending sets")

	s := sw.sync
	owners, err := s.store.Owners(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list owners: %w", err)
	}

	now := s.now()
	marked := 0
	for _, owner := range owners {
		recs, err := s.store.Get(ctx, owner)
		if err != nil {
			return marked, fmt.Errorf("failed to read local sets of %s: %w", owner, err)
		}
		for setID, rec := range recs {
			if rec.Set.SyncStatus != domain.StatusPendingSync || now.Sub(rec.UpdatedAt) < sw.staleAfter {
				continue
			}
			if sw.markFailed(ctx, owner, setID, rec.Revision) {
				marked++
			}
		}
	}

	if marked > 0 {
		sw.logger.Info("stale pending sets handed to retry",
			logger.Int("owners", len(owners)),
			logger.Int("sets_marked", marked))
	} else {
		sw.logger.Debug("no stale pending sets")
	}
	return marked, nil
}

// markFailed flips the record unless a publish for it is queued or the
// record changed since it was inspected.
func (sw *StaleSweeper) markFailed(ctx context.Context, owner, setID string, revision int64) bool {
	s := sw.sync
	key := recordKey(owner, setID)
	if s.queue.Pending(key) {
		return false
	}
	unlock := s.lock(owner, setID)
	defer unlock()

	rec, ok, err := s.Record(ctx, owner, setID)
	if err != nil || !ok || rec.Revision != revision || rec.Set.SyncStatus != domain.StatusPendingSync {
		return false
	}
	if s.queue.Pending(key) {
		return false
	}
	if err := rec.Transition(domain.StatusFailed); err != nil {
		return false
	}
	rec.LastError = "publish never settled"
	rec.UpdatedAt = s.now().UTC()
	if err := s.store.Put(ctx, owner, setID, rec); err != nil {
		sw.logger.Warn("failed to mark stale set",
			logger.String("owner", owner),
			logger.String("set_id", setID),
			logger.Error(err))
		return false
	}
	s.views.InvalidateSets(owner)
	return true
}
