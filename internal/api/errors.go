package api

import (
	"errors"
	"net/http"

	"github.com/brwyatt/dffmpeg-coordinator/internal/coordinator"
)

// writeCoordinatorError maps a coordinator.Service error to the HTTP
// status codes spec.md §7 defines. Unrecognized errors are treated as
// internal (500) and the detail is not exposed to the caller.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrNotFound):
		ErrNotFound(w)
	case errors.Is(err, coordinator.ErrForbidden):
		ErrForbidden(w)
	case errors.Is(err, coordinator.ErrValidation):
		ErrBadRequest(w, err.Error())
	default:
		ErrInternal(w)
	}
}
