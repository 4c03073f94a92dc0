package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
)

type listResponse struct {
	Owner             string                `json:"owner"`
	UpdatedAt         *time.Time            `json:"updated_at,omitempty"`
	Public            []domain.BookmarkItem `json:"public"`
	Private           []domain.BookmarkItem `json:"private"`
	PrivateUnreadable bool                  `json:"private_unreadable,omitempty"`
	Count             int                   `json:"count"`
}

type membershipResponse struct {
	ItemID     string `json:"item_id"`
	Bookmarked bool   `json:"bookmarked"`
}

type toggleResponse struct {
	ItemID      string     `json:"item_id"`
	Bookmarked  bool       `json:"bookmarked"`
	Settled     bool       `json:"settled"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ListBookmarks returns the owner's bookmark list.
func ListBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o := owner(r, d)
		list, err := d.Bookmarks.List(r.Context(), o)
		if err != nil {
			writeError(w, d, err)
			return
		}

		resp := listResponse{
			Owner:             o,
			Public:            list.PublicItems,
			Private:           list.PrivateItems,
			PrivateUnreadable: list.PrivateUnreadable,
			Count:             list.Count(),
		}
		if !list.UpdatedAt.IsZero() {
			resp.UpdatedAt = &list.UpdatedAt
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// GetBookmark reports whether an item is bookmarked, optimistic state
// included.
func GetBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := chi.URLParam(r, "itemID")
		member, err := d.Bookmarks.IsBookmarked(r.Context(), owner(r, d), itemID)
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, membershipResponse{ItemID: itemID, Bookmarked: member})
	}
}

// ToggleBookmark flips an item. It answers 202 with the tentative state, or
// 200 with the settled state when ?wait=true.
func ToggleBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := chi.URLParam(r, "itemID")
		item, err := domain.ItemFromRef(itemID, r.URL.Query().Get("relay"))
		if err != nil {
			writeError(w, d, err)
			return
		}

		p, err := d.Bookmarks.ToggleItem(r.Context(), owner(r, d), item, flag(r, "private"))
		if err != nil {
			writeError(w, d, err)
			return
		}

		if !flag(r, "wait") {
			writeJSON(w, http.StatusAccepted, toggleResponse{ItemID: item.ID, Bookmarked: p.Tentative})
			return
		}

		if err := p.Wait(r.Context()); err != nil {
			writeError(w, d, err)
			return
		}
		out := p.Result()
		writeJSON(w, http.StatusOK, toggleResponse{
			ItemID:      item.ID,
			Bookmarked:  out.Member,
			Settled:     true,
			PublishedAt: &out.PublishedAt,
		})
	}
}
