package api

import (
	"errors"
	"fmt"

	"github.com/datnetwork/datmind/internal/api/objects"
	"github.com/datnetwork/datmind/internal/command"
	"github.com/datnetwork/datmind/internal/identity"
	"github.com/datnetwork/datmind/internal/session"
	"github.com/datnetwork/datmind/internal/views"
)

// Application error codes, outside the range reserved by JSON-RPC
const (
	ErrServerError      = -32000
	ErrUnauthorized     = -32001
	ErrAlreadySubmitted = -32002
	ErrSessionClosed    = -32003
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// classify maps a handler error onto a JSON-RPC code and message
func classify(err error) (int, string) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code, apiErr.Message
	case errors.Is(err, objects.ErrInvalidParams),
		errors.Is(err, command.ErrInvalidArgument),
		errors.Is(err, command.ErrUnknownAction),
		errors.Is(err, views.ErrViewpointNotAllowed):
		return ErrInvalidParams, "Invalid params"
	case errors.Is(err, command.ErrAlreadySubmitting):
		return ErrAlreadySubmitted, "Already submitting"
	case errors.Is(err, identity.ErrMissingToken),
		errors.Is(err, identity.ErrMissingParty):
		return ErrUnauthorized, "Unauthorized"
	case errors.Is(err, session.ErrClosed):
		return ErrSessionClosed, "Session closed"
	}
	return ErrServerError, "Server error"
}
