package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/logging"
)

// writeJSON encodes v with the given status. Encoding failures can only be
// logged since the header is already out.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

// readBody reads the request body up to the configured limit.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, core.BadRequest("Request body too large", map[string]any{"limit_bytes": tooLarge.Limit})
		}
		return nil, core.BadRequest("Could not read request body", map[string]any{"error": err.Error()})
	}
	return body, nil
}
