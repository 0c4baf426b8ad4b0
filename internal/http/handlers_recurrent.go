package http

import (
	"net/http"

	"kesefly/internal/core"
)

// handleCancelSeries ends a recurring series from ?fromYear=&fromMonth=
// (default: the current month) and deletes the children from then on.
func (s *Server) handleCancelSeries(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseItemKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, r, core.NewValidationError("kind", err.Error()))
		return
	}
	from, err := ParseMonthParams(r.URL.Query(), "fromYear", "fromMonth", s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	deleted, err := s.svc.Recurring.CancelSeries(r.Context(), userID(r), kind, id, from)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"id":        id,
		"kind":      kind,
		"from":      from.String(),
		"deleted":   deleted,
		"cancelled": true,
	})
}
