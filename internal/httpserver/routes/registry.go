package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/mw"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type entry struct {
	reg Registrar
	mws []Middleware
}

var registry []entry

// Register a registrar with optional per-route middlewares.
func Register(reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{reg: reg, mws: mws})
}

// Called once from server.New()
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, e := range registry {
		if len(e.mws) == 0 {
			e.reg(r, d)
			continue
		}
		sub := r.With(e.mws...) // apply per-route middlewares
		e.reg(sub, d)
	}
}

// mutationLimit rate limits writes per client IP. A zero limit disables it.
func mutationLimit(d deps.Deps) Middleware {
	if d.RateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw.RateLimit(mw.RateLimitConfig{
		Burst:             d.RateLimit,
		RefillPerIPPerMin: d.RateLimit,
		MaxEntries:        10_000,
		IdleTTL:           15 * time.Minute,
		TrustProxy:        d.TrustProxy,
	})
}
