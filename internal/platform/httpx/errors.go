package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

const problemBase = "urn:reembolso:problem:"

var problemTable = []struct {
	target error
	status int
	slug   string
	title  string
}{
	{shared.ErrNotFound, http.StatusNotFound, "not-found", "Not Found"},
	{shared.ErrPermissionDenied, http.StatusForbidden, "permission-denied", "Permission Denied"},
	{shared.ErrPeriodClosed, http.StatusUnprocessableEntity, "period-closed", "Period Closed"},
	{shared.ErrInvalidTransition, http.StatusConflict, "invalid-transition", "Invalid Transition"},
	{shared.ErrConflictingTransition, http.StatusConflict, "conflicting-transition", "Conflicting Transition"},
	{shared.ErrValidation, http.StatusBadRequest, "validation", "Validation Failed"},
}

// RespondError maps err to a problem response. Dependency and unknown failures
// carry no detail so internal messages stay in the logs.
func RespondError(w http.ResponseWriter, err error) {
	for _, entry := range problemTable {
		if !errors.Is(err, entry.target) {
			continue
		}
		p := ProblemDetail{
			Type:   problemBase + entry.slug,
			Title:  entry.title,
			Status: entry.status,
			Detail: err.Error(),
		}
		var verr *shared.ValidationError
		if errors.As(err, &verr) {
			p.Field = verr.Field
		}
		WriteProblem(w, p)
		return
	}
	if errors.Is(err, shared.ErrDependencyUnavailable) {
		w.Header().Set("Retry-After", "1")
		WriteProblem(w, ProblemDetail{
			Type:   problemBase + "dependency-unavailable",
			Title:  "Dependency Unavailable",
			Status: http.StatusServiceUnavailable,
		})
		return
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
