package web

import (
	"net/http"

	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/logging"
)

// handleHealth reports whether the store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleList serves one page of a resource.
func (s *Server) handleList(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.service.List(r.Context(), name, r.URL.Query())
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, result)
	}
}

// handleSync upserts a batch of records.
func (s *Server) handleSync(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := s.readBody(w, r)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		result, err := s.service.Sync(r.Context(), name, body)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, result)
	}
}

// handleCompleteDelivery marks a delivery done and answers with the batch
// envelope holding the updated delivery.
func (s *Server) handleCompleteDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	data, err := s.service.CompleteDelivery(r.Context(), body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, core.BatchResult{Count: 1, Data: []any{data}})
}
