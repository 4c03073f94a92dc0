package handlers

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
)

type healthzResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Uptime    string `json:"uptime"`
	Owner     string `json:"owner,omitempty"`
	CanSign   bool   `json:"can_sign"`
	Unsettled int    `json:"unsettled"`
}

// Healthz is the liveness probe. It never touches the store or the relays;
// unsettled counts lists and sets with background publishes still queued.
func Healthz(d deps.Deps) http.HandlerFunc {
	now := d.TimeNow
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		unsettled := 0
		canSign := false
		if d.Sets != nil {
			unsettled += d.Sets.InFlight()
			canSign = d.Sets.Identity() != ""
		}
		if d.Bookmarks != nil {
			unsettled += d.Bookmarks.InFlight()
		}

		writeJSON(w, http.StatusOK, healthzResponse{
			Status:    "ok",
			Service:   "marksync",
			Version:   d.Version,
			Commit:    d.Commit,
			Uptime:    now().Sub(d.StartTime).Truncate(time.Second).String(),
			Owner:     d.Owner,
			CanSign:   canSign,
			Unsettled: unsettled,
		})
	}
}
