package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// Pinger probes the relays. *relay.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectivityWatcher probes the relays on an interval and signals every
// offline to online transition.
type ConnectivityWatcher struct {
	pinger     Pinger
	logger     logger.Logger
	interval   time.Duration
	timeout    time.Duration
	online     atomic.Bool
	reconnects chan struct{}
	stopCh     chan struct{}
}

// NewConnectivityWatcher creates a watcher. The relays are assumed online
// until a probe says otherwise.
func NewConnectivityWatcher(p Pinger, log logger.Logger, interval, timeout time.Duration) *ConnectivityWatcher {
	w := &ConnectivityWatcher{
		pinger:     p,
		logger:     log,
		interval:   interval,
		timeout:    timeout,
		reconnects: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
	w.online.Store(true)
	return w
}

// Start begins probing in the background
func (w *ConnectivityWatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.Probe(ctx)
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the watcher
func (w *ConnectivityWatcher) Stop() {
	close(w.stopCh)
}

// Online reports the result of the last probe.
func (w *ConnectivityWatcher) Online() bool {
	return w.online.Load()
}

// Reconnects receives a value after each offline to online transition.
func (w *ConnectivityWatcher) Reconnects() <-chan struct{} {
	return w.reconnects
}

// Probe pings the relays once and updates the state.
func (w *ConnectivityWatcher) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.pinger.Ping(ctx)
	up := err == nil
	was := w.online.Swap(up)

	switch {
	case was && !up:
		w.logger.Warn("relays unreachable", logger.Error(err))
	case !was && up:
		w.logger.Info("relays reachable again")
		select {
		case w.reconnects <- struct{}{}:
		default:
		}
	}
	return up
}
