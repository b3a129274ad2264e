// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for transport-level failures.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// DomainError is implemented by errors that know their own problem representation.
type DomainError interface {
	error
	ErrorCode() string
	HTTPStatus() int
	Details() map[string]any
}

// RespondError maps errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		status := domainErr.HTTPStatus()
		detail := domainErr.Error()
		if status >= http.StatusInternalServerError {
			detail = ""
		}
		WriteProblem(w, ProblemDetail{
			Status:  status,
			Detail:  detail,
			Code:    domainErr.ErrorCode(),
			Details: domainErr.Details(),
		})
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
