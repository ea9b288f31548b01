package domain

import "errors"

// Error taxonomy shared by every component. Callers wrap these with
// fmt.Errorf("%w: ...") and the HTTP boundary maps them to status codes.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidPolicy       = errors.New("invalid policy")
	ErrInvalidInputs       = errors.New("invalid inputs")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInvalidState        = errors.New("invalid state")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
