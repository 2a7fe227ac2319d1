package web

// errors.go renders every failure as the JSON envelope
//
//	{"error": "<message>", "details": {...}}
//
// via core.MapError. The technical error is logged with the request id; its
// text reaches the client only when detail exposure is enabled.

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/logging"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// respondError maps err to a status and envelope, logs it and writes it.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err, s.opts.ExposeErrorDetails)

	logger := logging.FromContext(r.Context()).With(
		"path", r.URL.Path,
		"method", r.Method,
		"status", msg.Status,
		"code", msg.Code,
	)
	if core.IsUserFacing(err) {
		logger.Warn("request rejected", "error", err.Error())
	} else {
		logger.Error("request error", "error", err)
	}

	var limited *core.RateLimitError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfter))
	}

	writeJSON(w, r, msg.Status, ErrorResponse{
		Error:   msg.Message,
		Details: msg.Details,
	})
}
