// Package http serves the ledger's JSON API: quick capture, reports,
// documents and exports.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"kesefly/internal/log"
	"kesefly/internal/middleware/ratelimit"
	"kesefly/internal/middleware/security"
	"kesefly/internal/middleware/trace"
	"kesefly/internal/services"
)

const defaultMaxUpload = 10 << 20

// Services are the use cases behind the routes.
type Services struct {
	Capture   *services.CaptureService
	Documents *services.DocumentService
	Delivery  *services.DeliveryService
	Reports   *services.ReportService
	Exports   *services.ExportService
	Recurring *services.RecurringProcessor
}

// Pinger reports database readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr string
	// RequestsPerMinute limits POST requests per client IP.
	RequestsPerMinute int
	MaxUploadBytes    int64
}

type Server struct {
	http.Server
	svc      Services
	users    UserStore
	db       Pinger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	logger   *log.Logger

	maxUpload    int64
	now          func() time.Time
	shutdownOnce sync.Once
}

// NewServer wires the routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(cfg Config, svc Services, users UserStore, db Pinger, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		svc:       svc,
		users:     users,
		db:        db,
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RequestsPerMinute}, logger),
		detector:  security.NewDetector(logger),
		logger:    logger,
		maxUpload: cfg.MaxUploadBytes,
		now:       time.Now,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = s.detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = trace.NewMiddleware(logger, s.detector.ExtractClientIP).Middleware(handler)

	s.Addr = cfg.Addr
	s.Handler = handler
	s.ReadHeaderTimeout = 5 * time.Second
	s.ReadTimeout = 30 * time.Second
	s.WriteTimeout = 60 * time.Second
	s.IdleTimeout = 60 * time.Second
	s.MaxHeaderBytes = 1 << 16
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /share/{token}", s.handleShared)

	// quick capture
	mux.Handle("POST /api/quick-add", s.post(s.handleQuickAdd))
	mux.Handle("POST /api/v1/expenses", s.post(s.handleCreateExpense))
	mux.Handle("POST /api/scan-invoice", s.post(s.handleScanInvoice))

	// reports
	mux.Handle("GET /api/quick-stats", s.authed(s.handleQuickStats))
	mux.Handle("GET /api/v1/net-worth", s.authed(s.handleNetWorth))
	mux.Handle("GET /api/v1/reports/profit-loss/{year}", s.authed(s.handleProfitLoss))
	mux.Handle("GET /api/v1/reports/profit-loss/{year}/pdf", s.authed(s.handleProfitLossPDF))
	mux.Handle("GET /api/v1/open-format/{year}", s.authed(s.handleOpenFormat))
	mux.Handle("GET /api/v1/export/{target}", s.authed(s.handleExport))

	// counterparties
	mux.Handle("POST /api/v1/clients", s.post(s.handleCreateClient))
	mux.Handle("GET /api/v1/clients", s.authed(s.handleListClients))
	mux.Handle("POST /api/v1/suppliers", s.post(s.handleCreateSupplier))
	mux.Handle("GET /api/v1/suppliers", s.authed(s.handleListSuppliers))

	// documents
	mux.Handle("POST /api/v1/invoices", s.post(s.handleCreateInvoice))
	mux.Handle("GET /api/v1/invoices", s.authed(s.handleListInvoices))
	mux.Handle("GET /api/v1/invoices/{id}", s.authed(s.handleGetInvoice))
	mux.Handle("POST /api/v1/invoices/{id}/sign", s.post(s.handleSignInvoice))
	mux.Handle("POST /api/v1/invoices/{id}/paid", s.post(s.handleMarkPaid))
	mux.Handle("GET /api/v1/invoices/{id}/pdf", s.authed(s.handleInvoicePDF))
	mux.Handle("POST /api/v1/invoices/{id}/share", s.post(s.handleShareInvoice))
	mux.Handle("POST /api/v1/invoices/{id}/send", s.post(s.handleSendInvoice))
	mux.Handle("POST /api/v1/invoices/{id}/credit-notes", s.post(s.handleIssueCreditNote))
	mux.Handle("GET /api/v1/invoices/{id}/credit-notes", s.authed(s.handleListCreditNotes))
	mux.Handle("GET /api/v1/credit-notes/{id}", s.authed(s.handleGetCreditNote))
	mux.Handle("GET /api/v1/credit-notes/{id}/pdf", s.authed(s.handleCreditNotePDF))
	mux.Handle("POST /api/v1/credit-notes/{id}/share", s.post(s.handleShareCreditNote))

	// recurring
	mux.Handle("DELETE /api/v1/recurring/{kind}/{id}", s.authed(s.handleCancelSeries))
}

// authed authenticates; post also rate limits.
func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return s.requireUser(h)
}

func (s *Server) post(h http.HandlerFunc) http.Handler {
	limit := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		NewResponse().Status(http.StatusTooManyRequests).Error("rate limit exceeded", nil).Write(w)
	})
	return limit(s.requireUser(h))
}

// Shutdown stops the limiter and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
