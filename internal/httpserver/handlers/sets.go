package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
)

// maxBody bounds JSON request bodies.
const maxBody = 64 << 10

type setResponse struct {
	SetID             string                `json:"set_id"`
	Owner             string                `json:"owner"`
	Title             string                `json:"title"`
	Description       string                `json:"description,omitempty"`
	Image             string                `json:"image,omitempty"`
	Public            []domain.BookmarkItem `json:"public"`
	Private           []domain.BookmarkItem `json:"private"`
	PrivateUnreadable bool                  `json:"private_unreadable,omitempty"`
	Count             int                   `json:"count"`
	CreatedAt         time.Time             `json:"created_at"`
	SyncStatus        domain.SyncStatus     `json:"sync_status"`
	LocalOnly         bool                  `json:"local_only"`
}

type setsResponse struct {
	Owner string        `json:"owner"`
	Sets  []setResponse `json:"sets"`
}

type addItemRequest struct {
	ID        string `json:"id"`
	RelayHint string `json:"relay_hint,omitempty"`
	Private   bool   `json:"private,omitempty"`
}

func toSetResponse(s *domain.BookmarkSet) setResponse {
	return setResponse{
		SetID:             s.SetID,
		Owner:             s.OwnerID,
		Title:             s.Title,
		Description:       s.Description,
		Image:             s.Image,
		Public:            s.PublicItems,
		Private:           s.PrivateItems,
		PrivateUnreadable: s.PrivateUnreadable,
		Count:             s.ItemCount(),
		CreatedAt:         s.CreatedAt,
		SyncStatus:        s.SyncStatus,
		LocalOnly:         s.IsLocalOnly(),
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid json body: "+err.Error())
		return false
	}
	return true
}

// ListSets returns the merged view of the owner's sets.
func ListSets(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o := owner(r, d)
		sets, err := d.Sets.Sets(r.Context(), o)
		if err != nil {
			writeError(w, d, err)
			return
		}
		resp := setsResponse{Owner: o, Sets: make([]setResponse, 0, len(sets))}
		for _, s := range sets {
			resp.Sets = append(resp.Sets, toSetResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// GetSet returns one set of the merged view.
func GetSet(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := d.Sets.Set(r.Context(), owner(r, d), chi.URLParam(r, "setID"))
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, toSetResponse(set))
	}
}

// CreateSet stores a new set; the publish happens in the background.
func CreateSet(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in domain.SetInput
		if !decode(w, r, &in) {
			return
		}
		set, err := d.Sets.CreateSet(r.Context(), owner(r, d), in)
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSetResponse(set))
	}
}

// UpdateSet replaces the descriptive fields of a set.
func UpdateSet(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in domain.SetInput
		if !decode(w, r, &in) {
			return
		}
		set, err := d.Sets.UpdateSet(r.Context(), owner(r, d), chi.URLParam(r, "setID"), in)
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, toSetResponse(set))
	}
}

// DeleteSet removes a set locally and requests deletion from the relays.
func DeleteSet(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Sets.DeleteSet(r.Context(), owner(r, d), chi.URLParam(r, "setID")); err != nil {
			writeError(w, d, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AddSetItem adds an item to a set.
func AddSetItem(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addItemRequest
		if !decode(w, r, &req) {
			return
		}
		item, err := domain.ItemFromRef(req.ID, req.RelayHint)
		if err != nil {
			writeError(w, d, err)
			return
		}
		set, err := d.Sets.AddItem(r.Context(), owner(r, d), chi.URLParam(r, "setID"), item, req.Private)
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, toSetResponse(set))
	}
}

// RemoveSetItem removes an item from a set. Removing an absent item is a
// no-op.
func RemoveSetItem(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := d.Sets.RemoveItem(r.Context(), owner(r, d), chi.URLParam(r, "setID"), chi.URLParam(r, "itemID"))
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, toSetResponse(set))
	}
}
