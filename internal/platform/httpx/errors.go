package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the domain layer. Services wrap these so handlers
// can map failures to responses without knowing the concrete cause.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("operation not valid for current state")
	ErrPersistence  = errors.New("store write failed")
	ErrGateway      = errors.New("payment gateway failure")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Internal failures deliberately render no detail; callers log the cause.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrPersistence):
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	case errors.Is(err, ErrGateway):
		Problem(w, http.StatusBadGateway, "Gateway Error", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
