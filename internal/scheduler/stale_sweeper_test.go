package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

func TestStaleSweeper_Sweep(t *testing.T) {
	h := newSetHarness(t, true)
	ctx := context.Background()
	now := time.Now()

	put := func(owner, id string, status domain.SyncStatus, age time.Duration) {
		set := domain.NewBookmarkSet(owner, id, domain.SetInput{Title: id}, now)
		set.SyncStatus = status
		rec := domain.CachedSet{Set: *set, Revision: 1, UpdatedAt: now.Add(-age)}
		require.NoError(t, h.store.Put(ctx, owner, id, rec))
	}

	put(h.owner, "stuck", domain.StatusPendingSync, time.Hour)
	put(h.owner, "fresh", domain.StatusPendingSync, time.Minute)
	put(h.owner, "failed", domain.StatusFailed, time.Hour)
	put(h.owner, "synced", domain.StatusSynced, 60*24*time.Hour)
	put("previous-identity", "stuck-elsewhere", domain.StatusPendingSync, time.Hour)

	sw := NewStaleSweeper(h.sync, logger.New("error", false), time.Hour, 10*time.Minute)
	marked, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	want := map[string]domain.SyncStatus{
		"stuck":  domain.StatusFailed,
		"fresh":  domain.StatusPendingSync,
		"failed": domain.StatusFailed,
		"synced": domain.StatusSynced,
	}
	recs, err := h.store.Get(ctx, h.owner)
	require.NoError(t, err)
	require.Len(t, recs, len(want), "the sweep never removes records")
	for id, status := range want {
		assert.Equal(t, status, recs[id].Set.SyncStatus, "set %s", id)
	}
	assert.Equal(t, "publish never settled", recs["stuck"].LastError)

	other, err := h.store.Get(ctx, "previous-identity")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, other["stuck-elsewhere"].Set.SyncStatus)

	report := h.sync.RunRetryPass(ctx, h.owner)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, domain.StatusSynced, h.record(t, "stuck").Set.SyncStatus)
}

func TestStaleSweeperSkipsQueuedPublish(t *testing.T) {
	h := newSetHarness(t, true)
	ctx := context.Background()
	gate := make(chan struct{})
	h.repo.gate = gate

	set, err := h.sync.CreateSet(ctx, h.owner, domain.SetInput{Title: "Slow relay"})
	require.NoError(t, err)

	rec := h.record(t, set.SetID)
	rec.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, h.store.Put(ctx, h.owner, set.SetID, rec))

	sw := NewStaleSweeper(h.sync, logger.Nop(), time.Hour, time.Minute)
	marked, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, marked)

	gate <- struct{}{}
	h.sync.Wait()
	assert.Equal(t, domain.StatusSynced, h.record(t, set.SetID).Set.SyncStatus)
}

func TestStaleSweeperRejectsZeroInterval(t *testing.T) {
	h := newSetHarness(t, true)
	sw := NewStaleSweeper(h.sync, logger.Nop(), 0, 0)
	assert.Error(t, sw.Start(context.Background()))
}
