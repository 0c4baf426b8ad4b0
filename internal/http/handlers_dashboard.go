package http

import (
	"bytes"
	"fmt"
	"net/http"

	"kesefly/internal/core"
	"kesefly/internal/export"
)

func (s *Server) handleQuickStats(w http.ResponseWriter, r *http.Request) {
	scope, err := QueryScope(r.URL.Query(), core.ScopePersonal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.svc.Reports.QuickStats(r.Context(), userID(r), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// handleNetWorth returns the series through ?year=&month=, by default the
// current month.
func (s *Server) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := QueryScope(q, core.ScopePersonal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	through, err := ParseMonthParams(q, "year", "month", s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	points, err := s.svc.Reports.NetWorth(r.Context(), userID(r), scope, through)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, points)
}

func (s *Server) reportParams(r *http.Request) (core.Scope, int, error) {
	scope, err := QueryScope(r.URL.Query(), core.ScopeBusiness)
	if err != nil {
		return "", 0, err
	}
	year, err := ParseYear("year", r.PathValue("year"), 0)
	if err != nil {
		return "", 0, err
	}
	return scope, year, nil
}

func (s *Server) handleProfitLoss(w http.ResponseWriter, r *http.Request) {
	scope, year, err := s.reportParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := s.svc.Reports.ProfitLoss(r.Context(), userID(r), scope, year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

func (s *Server) handleProfitLossPDF(w http.ResponseWriter, r *http.Request) {
	scope, year, err := s.reportParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := s.svc.Reports.ProfitLossPDF(r.Context(), userID(r), scope, year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeFile(w, "application/pdf", doc.Filename, doc.Content, false)
}

// handleOpenFormat returns INI.TXT and BKMVDATA.TXT zipped.
func (s *Server) handleOpenFormat(w http.ResponseWriter, r *http.Request) {
	year, err := ParseYear("year", r.PathValue("year"), 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	files, err := s.svc.Reports.OpenFormat(r.Context(), userID(r), year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := files.WriteZip(&buf); err != nil {
		writeError(w, r, fmt.Errorf("zip open format: %w", err))
		return
	}
	writeFile(w, "application/zip", fmt.Sprintf("openformat-%d.zip", year), buf.Bytes(), false)
}

// handleExport serves /api/v1/export/{entity}.{csv|xlsx}. ?scope= and
// ?year= narrow incomes, expenses and invoices.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	entity, format, err := export.ParseTarget(r.PathValue("target"))
	if err != nil {
		writeError(w, r, core.NewValidationError("entity", err.Error()))
		return
	}
	q := r.URL.Query()
	scope, err := QueryScope(q, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	year, err := ParseYear("year", q.Get("year"), 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	table, err := s.svc.Exports.Table(r.Context(), userID(r), entity, scope, year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, format, table); err != nil {
		writeError(w, r, fmt.Errorf("write %s export: %w", format, err))
		return
	}
	writeFile(w, format.ContentType(), entity+"."+string(format), buf.Bytes(), false)
}
