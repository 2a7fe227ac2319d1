package core

import (
	"errors"
	"net/http"
)

// Error codes attached to log lines for support reference.
const (
	CodeBadRequest   = "REQ001"
	CodeUnauthorized = "AUTH001"
	CodeNotFound     = "REQ404"
	CodeRateLimited  = "RATE001"
	CodeInternal     = "ERR000"
)

// UserMessage is the client-facing rendering of an error.
type UserMessage struct {
	Status  int            // HTTP status
	Message string         // envelope "error"
	Details map[string]any // envelope "details", omitted when nil
	Code    string         // error code for support reference
}

var defaultMessage = UserMessage{
	Status:  http.StatusInternalServerError,
	Message: "Internal server error",
	Code:    CodeInternal,
}

// MapError converts an error returned by the service into the message sent to
// the client. Unknown errors map to a generic 500 whose text never leaves the
// server unless exposeDetails is set.
//
// Example:
//
//	msg := MapError(core.ErrUnauthorized, false)
//	// msg.Status == 401
//	// msg.Message == "Unauthorized"
func MapError(err error, exposeDetails bool) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var badReq *BadRequestError
	var limited *RateLimitError

	switch {
	case errors.As(err, &badReq):
		return UserMessage{
			Status:  http.StatusBadRequest,
			Message: badReq.Message,
			Details: badReq.Details,
			Code:    CodeBadRequest,
		}
	case errors.As(err, &limited):
		return UserMessage{
			Status:  http.StatusTooManyRequests,
			Message: "Rate limit exceeded",
			Details: map[string]any{
				"limit":          limited.Limit,
				"window_seconds": int(limited.Window.Seconds()),
				"retry_after":    limited.RetryAfter,
			},
			Code: CodeRateLimited,
		}
	case errors.Is(err, ErrUnauthorized):
		return UserMessage{
			Status:  http.StatusUnauthorized,
			Message: "Unauthorized",
			Code:    CodeUnauthorized,
		}
	case errors.Is(err, ErrNotFound):
		return UserMessage{
			Status:  http.StatusNotFound,
			Message: notFoundMessage(err),
			Code:    CodeNotFound,
		}
	}

	msg := defaultMessage
	if exposeDetails {
		msg.Details = map[string]any{"error": err.Error()}
	}
	return msg
}

// IsUserFacing reports whether err maps to anything other than the generic 500.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err, false).Code != defaultMessage.Code
}

func notFoundMessage(err error) string {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Error()
	}
	return "Not found"
}
