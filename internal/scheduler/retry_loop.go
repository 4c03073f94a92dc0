package scheduler

import (
	"context"

	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// RetryLoop runs set retry passes at lifecycle points only: once on start,
// on a manual trigger and when the relays come back after an outage. There
// is no periodic retry.
type RetryLoop struct {
	sync          *SetSync
	owner         string
	logger        logger.Logger
	stopCh        chan struct{}
	manualTrigger chan struct{}
	reconnect     <-chan struct{}
	reports       chan RetryReport
}

// NewRetryLoop creates the loop. reconnect may be nil.
func NewRetryLoop(
	s *SetSync,
	owner string,
	log logger.Logger,
	manualTrigger chan struct{},
	reconnect <-chan struct{},
) *RetryLoop {
	return &RetryLoop{
		sync:          s,
		owner:         owner,
		logger:        log,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
		reconnect:     reconnect,
		reports:       make(chan RetryReport, 1),
	}
}

// Start recovers interrupted publishes, runs the startup pass and then
// waits for triggers in the background.
func (rl *RetryLoop) Start(ctx context.Context) error {
	if _, err := rl.sync.RecoverInterrupted(ctx, rl.owner); err != nil {
		rl.logger.Warn("failed to recover interrupted publishes",
			logger.Error(err))
	}

	go func() {
		rl.run(ctx, "startup")
		for {
			select {
			case <-rl.manualTrigger:
				rl.run(ctx, "manual")
			case <-rl.reconnect:
				rl.run(ctx, "reconnect")
			case <-rl.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the loop
func (rl *RetryLoop) Stop() {
	close(rl.stopCh)
}

// Reports delivers the latest pass report. Older unread reports are
// dropped.
func (rl *RetryLoop) Reports() <-chan RetryReport {
	return rl.reports
}

func (rl *RetryLoop) run(ctx context.Context, trigger string) {
	rl.logger.Info("set retry pass triggered",
		logger.String("trigger", trigger),
		logger.String("owner", rl.owner))

	report := rl.sync.RunRetryPass(ctx, rl.owner)

	select {
	case <-rl.reports:
	default:
	}
	select {
	case rl.reports <- report:
	default:
	}
}
