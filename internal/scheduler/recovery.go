package scheduler

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// RecoverInterrupted marks records whose publish was cut short by a previous
// shutdown as Failed, so the next retry pass picks them up. It must run
// before this process queues its own publishes.
func (s *SetSync) RecoverInterrupted(ctx context.Context, owner string) (int, error) {
	s.logger.Info("recovering interrupted set publishes", logger.String("owner", owner))

	recs, err := s.store.Get(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to read local sets: %w", err)
	}

	recovered := 0
	for setID, rec := range recs {
		switch rec.Set.SyncStatus {
		case domain.StatusDraft, "":
			if err := rec.Transition(domain.StatusPendingSync); err != nil {
				continue
			}
		case domain.StatusPendingSync:
		default:
			continue
		}
		_ = rec.Transition(domain.StatusFailed)
		rec.LastError = "interrupted before the relays confirmed"
		rec.UpdatedAt = s.now().UTC()
		if err := s.store.Put(ctx, owner, setID, rec); err != nil {
			return recovered, fmt.Errorf("failed to store recovered set: %w", err)
		}
		recovered++
	}

	if recovered == 0 {
		s.logger.Debug("no interrupted set publishes")
		return 0, nil
	}
	s.logger.Info("recovered interrupted set publishes",
		logger.Int("count", recovered))
	return recovered, nil
}
