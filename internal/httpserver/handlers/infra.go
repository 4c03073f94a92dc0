package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
)

type componentStatus struct {
	OK       bool   `json:"ok"`
	Relays   *int   `json:"relays,omitempty"`
	InFlight *int   `json:"in_flight,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Impact   string `json:"impact,omitempty"`
	Error    string `json:"error,omitempty"`
}

type infraResponse struct {
	SyncMode   string                     `json:"sync_mode"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		relayCount := d.RelayCount
		inFlight := 0
		if d.Sets != nil {
			inFlight += d.Sets.InFlight()
		}
		if d.Bookmarks != nil {
			inFlight += d.Bookmarks.InFlight()
		}

		relays := checkRelays(d)
		relays.Relays = &relayCount

		components := map[string]componentStatus{
			"relays": relays,
			"store":  checkStore(d),
			"crypto": checkCrypto(d),
			"sync": {
				OK:       true,
				InFlight: &inFlight,
			},
		}

		response := infraResponse{
			SyncMode:   determineSyncMode(components),
			Components: components,
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func determineSyncMode(components map[string]componentStatus) string {
	// Local store down = nothing can be recorded
	if store, exists := components["store"]; exists && !store.OK {
		return "critical"
	}

	// Relays down = mutations stay local until the next retry pass
	if relays, exists := components["relays"]; exists && !relays.OK {
		return "offline"
	}

	return "online"
}

func checkRelays(d deps.Deps) componentStatus {
	if d.Watcher != nil {
		if d.Watcher.Online() {
			return componentStatus{OK: true, Mode: "watched"}
		}
		return componentStatus{OK: false, Mode: "watched", Impact: "publishes-queued-locally", Error: "unreachable"}
	}
	if d.Relays == nil {
		return componentStatus{OK: false, Error: "pool not initialized"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Relays.Ping(ctx); err != nil {
		return componentStatus{OK: false, Mode: "probed", Impact: "publishes-queued-locally", Error: "unreachable"}
	}
	return componentStatus{OK: true, Mode: "probed"}
}

func checkStore(d deps.Deps) componentStatus {
	if d.Store == nil {
		return componentStatus{
			OK:    false,
			Mode:  d.StoreMode,
			Error: "store not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.Store.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   d.StoreMode,
			Impact: "mutations-rejected",
			Error:  "timeout",
		}
	}

	impact := "durable"
	if d.StoreMode == "memory" {
		impact = "lost-on-restart"
	}
	return componentStatus{
		OK:     true,
		Mode:   d.StoreMode,
		Impact: impact,
	}
}

func checkCrypto(d deps.Deps) componentStatus {
	if d.CanEncrypt {
		return componentStatus{OK: true, Mode: "nip44"}
	}
	return componentStatus{OK: true, Mode: "disabled", Impact: "private-items-unavailable"}
}
