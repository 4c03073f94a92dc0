package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/bookmarks"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/MrSnakeDoc/marksync/internal/scheduler"
)

// Pinger is anything /readyz and /infra can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	AllowedHosts []string         // Host headers allowed to access the server
	AllowedCIDRS []string         // IPs allowed to access the API
	TrustProxy   bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)
	RateLimit    int              // mutations per minute and client IP (0 = unlimited)

	Owner      string // owner read when the request does not name one
	CanEncrypt bool   // private items can be added

	Bookmarks *bookmarks.Coordinator         // single-list toggles
	Sets      *scheduler.SetSync             // bookmark sets
	Watcher   *scheduler.ConnectivityWatcher // nil when connectivity is not watched

	Store      Pinger // Local Cache Store
	StoreMode  string // "redis" | "memory"
	Relays     Pinger // relay pool
	RelayCount int

	RetryTrigger chan struct{} // Channel to trigger a manual retry pass
}
