package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned when a request carries no usable credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a record or credential does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by a store when an insert collides with an
	// existing mobile_uid. The upsert engine recovers from it.
	ErrConflict = errors.New("mobile_uid already exists")
)

// BadRequestError reports client input the service refuses to process.
type BadRequestError struct {
	Message string
	Details map[string]any
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// BadRequest builds a BadRequestError. details may be nil.
func BadRequest(message string, details map[string]any) *BadRequestError {
	return &BadRequestError{Message: message, Details: details}
}

// RateLimitError is returned when a caller exhausted its request window.
type RateLimitError struct {
	Limit      int
	Window     time.Duration
	RetryAfter int // whole seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s, retry after %ds", e.Limit, e.Window, e.RetryAfter)
}

// NotFoundError names the missing record. It matches ErrNotFound with errors.Is.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
