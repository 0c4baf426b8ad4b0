package http

import (
	"net/http"

	"kesefly/internal/core"
	"kesefly/internal/services"
	"kesefly/internal/share"
)

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req services.CounterpartyRequest
	if err := DecodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.svc.Documents.CreateClient(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, c)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.svc.Documents.Clients(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, clients)
}

func (s *Server) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req services.CounterpartyRequest
	if err := DecodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sup, err := s.svc.Documents.CreateSupplier(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, sup)
}

func (s *Server) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := s.svc.Documents.Suppliers(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, suppliers)
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req services.InvoiceRequest
	if err := DecodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := s.svc.Documents.CreateInvoice(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, inv)
}

// handleListInvoices accepts optional ?scope= and ?year= filters.
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
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
	invoices, err := s.svc.Documents.Invoices(r.Context(), userID(r), scope, year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, invoices)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.svc.Documents.Invoice(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, inv)
}

func (s *Server) handleSignInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.svc.Documents.SignInvoice(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, inv)
}

func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Documents.MarkPaid(r.Context(), userID(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "status": string(core.StatusPaid)})
}

func (s *Server) handleInvoicePDF(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Delivery.InvoicePDF(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeFile(w, "application/pdf", doc.Filename, doc.Content, false)
}

func (s *Server) handleShareInvoice(w http.ResponseWriter, r *http.Request) {
	s.shareDocument(w, r, share.KindInvoice)
}

func (s *Server) handleShareCreditNote(w http.ResponseWriter, r *http.Request) {
	s.shareDocument(w, r, share.KindCreditNote)
}

func (s *Server) shareDocument(w http.ResponseWriter, r *http.Request, kind string) {
	link, err := s.svc.Delivery.Share(r.Context(), userID(r), kind, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, link)
}

func (s *Server) handleSendInvoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Delivery.SendInvoice(r.Context(), userID(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "sent": true})
}

func (s *Server) handleIssueCreditNote(w http.ResponseWriter, r *http.Request) {
	var req services.CreditNoteRequest
	if err := DecodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cn, err := s.svc.Documents.IssueCreditNote(r.Context(), userID(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, cn)
}

// handleListCreditNotes lists the credit notes issued against one invoice.
func (s *Server) handleListCreditNotes(w http.ResponseWriter, r *http.Request) {
	ctx, user, invoiceID := r.Context(), userID(r), r.PathValue("id")
	if _, err := s.svc.Documents.Invoice(ctx, user, invoiceID); err != nil {
		writeError(w, r, err)
		return
	}
	all, err := s.svc.Documents.CreditNotes(ctx, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	notes := make([]core.CreditNote, 0, len(all))
	for _, cn := range all {
		if cn.InvoiceID == invoiceID {
			notes = append(notes, cn)
		}
	}
	writeData(w, http.StatusOK, notes)
}

func (s *Server) handleGetCreditNote(w http.ResponseWriter, r *http.Request) {
	cn, err := s.svc.Documents.CreditNote(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, cn)
}

func (s *Server) handleCreditNotePDF(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Delivery.CreditNotePDF(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeFile(w, "application/pdf", doc.Filename, doc.Content, false)
}
