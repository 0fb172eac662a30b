package interfaces

import "errors"

var (
	// ErrUnauthorized means the caller could not be identified
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidRequest means the request body failed validation
	ErrInvalidRequest = errors.New("invalid request")
	// ErrForbidden means the caller does not own the resource
	ErrForbidden = errors.New("forbidden")
	// ErrCompanionNotFound means the requested persona does not exist
	ErrCompanionNotFound = errors.New("companion not found")
	// ErrRateLimited means the caller exceeded the request budget
	ErrRateLimited = errors.New("rate limit exceeded")
)
