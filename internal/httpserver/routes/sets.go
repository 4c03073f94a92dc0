package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/mw"
)

func init() { Register(registerSets) }

func registerSets(r chi.Router, d deps.Deps) {
	r.Route("/api/sets", func(r chi.Router) {
		r.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger), mw.EnforceHost(d.AllowedHosts, d.Logger))
		r.Get("/", handlers.ListSets(d))
		r.Get("/{setID}", handlers.GetSet(d))

		r.Group(func(r chi.Router) {
			r.Use(mutationLimit(d))
			r.Post("/", handlers.CreateSet(d))
			r.Patch("/{setID}", handlers.UpdateSet(d))
			r.Delete("/{setID}", handlers.DeleteSet(d))
			r.Post("/{setID}/items", handlers.AddSetItem(d))
			r.Delete("/{setID}/items/{itemID}", handlers.RemoveSetItem(d))
		})
	})
}
