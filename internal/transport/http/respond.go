package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	apperrors "casevault/internal/errors"
	"casevault/internal/infrastructure"
)

// LockedResponse is the body of every lockout rejection.
type LockedResponse struct {
	Success   bool   `json:"success"`
	Locked    bool   `json:"locked"`
	Remaining int64  `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

// respondLocked writes the lockout shape when err is a LOCKED error and
// reports whether it did.
func respondLocked(w http.ResponseWriter, r *http.Request, err error) bool {
	remaining, ok := apperrors.RemainingOf(err)
	if !ok {
		return false
	}
	secs := apperrors.RemainingSeconds(remaining)
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, LockedResponse{
		Locked:    true,
		Remaining: secs,
		Error:     apperrors.UserMessage(err),
	})
	return true
}

// respondInline writes body with the status err maps to, setting
// Retry-After for lockouts. It is used by routes whose failure body is the
// operation's own response.
func respondInline(w http.ResponseWriter, r *http.Request, err error, body interface{}) {
	infrastructure.RecordError(r.Context(), err)
	status := apperrors.StatusCode(err)
	if remaining, ok := apperrors.RemainingOf(err); ok {
		w.Header().Set("Retry-After", strconv.FormatInt(apperrors.RemainingSeconds(remaining), 10))
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}

// failure renders err as problem details, or as the lockout shape.
func failure(w http.ResponseWriter, r *http.Request, errs *apperrors.ErrorHandler, err error) {
	infrastructure.RecordError(r.Context(), err)
	if respondLocked(w, r, err) {
		return
	}
	errs.HandleError(w, r, err)
}

type successResponse struct {
	Success bool `json:"success"`
}

func ok(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, successResponse{Success: true})
}
