package generichttp

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/mcdserver/registry"
)

// StatusCoder is implemented by errors that know their HTTP status
type StatusCoder interface {
	StatusCode() int
}

// StatusFor maps an error to an HTTP status code.
// Registry rejections are client errors, anything else is a server error.
func StatusFor(err error) int {
	var sc StatusCoder
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &sc):
		return sc.StatusCode()
	case errors.Is(err, registry.ErrUnknownVariable):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrTypeMismatch), errors.Is(err, registry.ErrCapacityExceeded):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
