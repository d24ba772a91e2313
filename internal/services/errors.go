package services

import (
	"errors"
	"net/http"
)

// NotFoundError is returned when a camera or alert does not exist
type NotFoundError struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (e *NotFoundError) Error() string { return e.Message + ": " + e.ID }

// BadRequestError is returned for invalid payloads and refused operations
type BadRequestError struct {
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

func (e *BadRequestError) Error() string {
	if e.Details != nil {
		return e.Message + ": " + *e.Details
	}
	return e.Message
}

// UnauthorizedError is returned on failed logins
type UnauthorizedError struct {
	Message string `json:"message"`
}

func (e *UnauthorizedError) Error() string { return e.Message }

// UnavailableError is returned when a dependency is not ready
type UnavailableError struct {
	Message string `json:"message"`
}

func (e *UnavailableError) Error() string { return e.Message }

func badRequest(message string, err error) *BadRequestError {
	details := err.Error()
	return &BadRequestError{Message: message, Details: &details}
}

// errorStatus maps a service error to its HTTP status
func errorStatus(err error) (int, string) {
	var (
		notFound     *NotFoundError
		badReq       *BadRequestError
		unauthorized *UnauthorizedError
		unavailable  *UnavailableError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &badReq):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}
