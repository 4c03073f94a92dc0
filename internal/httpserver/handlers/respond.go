package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var rej *domain.RejectionError
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSetNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidItem), errors.Is(err, domain.ErrEmptyTitle):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateItem), errors.Is(err, domain.ErrDecryption):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCapabilityMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &rej):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, d deps.Deps, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		d.Logger.Warn("request failed", logger.Error(err))
	}
	resp := errorResponse{Error: err.Error()}
	if reason := domain.FailureReason(err); reason != "error" {
		resp.Reason = reason
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// owner is the ?owner= query parameter, defaulting to the configured one.
func owner(r *http.Request, d deps.Deps) string {
	if o := strings.TrimSpace(r.URL.Query().Get("owner")); o != "" {
		return o
	}
	return d.Owner
}

func flag(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
