package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"kesefly/internal/core"
	"kesefly/internal/services"
)

const uploadField = "file"

// handleQuickAdd records a personal expense. The description is required.
func (s *Server) handleQuickAdd(w http.ResponseWriter, r *http.Request) {
	var req services.ExpenseRequest
	if err := DecodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := req.Expense(s.now(), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.svc.Capture.CaptureExpense(r.Context(), userID(r), core.ScopePersonal, e)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, saved)
}

// handleCreateExpense is the versioned capture endpoint: scope or
// budgetType pick the ledger and the description has a default.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req services.ExpenseRequest
	if err := DecodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	scope, err := req.RequestScope(core.ScopePersonal)
	if err != nil {
		writeError(w, r, core.FieldError(err))
		return
	}
	e, err := req.Expense(s.now(), services.ShortcutDescription)
	if err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.svc.Capture.CaptureExpense(r.Context(), userID(r), scope, e)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, saved)
}

// handleScanInvoice takes a multipart receipt photo in "file" and an
// optional "scope" field.
func (s *Server) handleScanInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, core.NewValidationError(uploadField, "file too large"))
			return
		}
		writeError(w, r, core.NewValidationError(uploadField, "expected a multipart upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	scope, err := core.ParseScope(r.FormValue("scope"), core.ScopePersonal)
	if err != nil {
		writeError(w, r, core.FieldError(err))
		return
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, r, core.NewValidationError(uploadField, "file is required"))
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, core.NewValidationError(uploadField, "unreadable upload"))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(image)
	}
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, r, core.NewValidationError(uploadField, "file must be an image"))
		return
	}

	saved, err := s.svc.Capture.ScanReceipt(r.Context(), userID(r), scope, image)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, saved)
}
