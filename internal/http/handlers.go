package http

import (
	"context"
	"net/http"
	"time"

	"kesefly/internal/log"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady checks that the database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed",
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeDatabase)
			NewResponse().Status(http.StatusServiceUnavailable).Error("database unavailable", nil).Write(w)
			return
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleShared serves the PDF behind a public share token. No API key is
// needed; the token is the credential.
func (s *Server) handleShared(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Delivery.Shared(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeFile(w, "application/pdf", doc.Filename, doc.Content, true)
}
