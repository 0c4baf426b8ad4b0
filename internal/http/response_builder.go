package http

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
	"kesefly/internal/currency"
	"kesefly/internal/log"
	"kesefly/internal/openformat"
	"kesefly/internal/scan"
)

func init() {
	// Amounts go out as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ResponseBuilder assembles a response before writing it.
type ResponseBuilder struct {
	statusCode int
	headers    map[string]string
	envelope   Envelope
}

func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{statusCode: http.StatusOK, headers: map[string]string{}}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *ResponseBuilder) Data(data any) *ResponseBuilder {
	b.envelope = Envelope{Success: true, Data: data}
	return b
}

func (b *ResponseBuilder) Error(message string, fields map[string]string) *ResponseBuilder {
	b.envelope = Envelope{Error: message, Fields: fields}
	return b
}

func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.envelope)
}

func writeData(w http.ResponseWriter, status int, data any) {
	NewResponse().Status(status).Data(data).Write(w)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrValidation), errors.Is(err, scan.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateExpense),
		errors.Is(err, core.ErrDuplicateNumber),
		errors.Is(err, core.ErrDuplicateEmail),
		errors.Is(err, core.ErrCreditExceedsInvoice),
		errors.Is(err, core.ErrInvoiceNotSigned),
		errors.Is(err, core.ErrInvoiceNotDraft),
		errors.Is(err, core.ErrScopeMismatch),
		errors.Is(err, openformat.ErrMissingTaxID):
		return http.StatusConflict
	case errors.Is(err, core.ErrUpstream), errors.Is(err, currency.ErrRateUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return log.ErrorTypeAuth
	case http.StatusBadRequest:
		return log.ErrorTypeValidation
	case http.StatusNotFound:
		return log.ErrorTypeNotFound
	case http.StatusConflict:
		return log.ErrorTypeConflict
	case http.StatusBadGateway:
		return log.ErrorTypeUpstream
	case http.StatusServiceUnavailable:
		return log.ErrorTypeConfiguration
	}
	return log.ErrorTypeInternal
}

// writeError sends err in the envelope. Internal errors are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	logger := log.FromContext(r.Context())

	b := NewResponse().Status(status)
	switch status {
	case http.StatusInternalServerError:
		log.LogError(r.Context(), logger, "Request failed", err, r.URL.Path, log.ErrorTypeInternal, nil)
		b.Error("internal server error", nil)
	case http.StatusBadRequest:
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			b.Error("validation failed", ve.Fields)
		} else {
			b.Error(err.Error(), nil)
		}
	default:
		logger.WarnContext(r.Context(), "Request rejected",
			log.FieldError, err,
			log.FieldErrorType, errorType(status),
			log.FieldStatusCode, status)
		b.Error(err.Error(), nil)
	}
	b.Write(w)
}

// writeFile sends a download. inline asks the browser to display it.
func writeFile(w http.ResponseWriter, contentType, filename string, body []byte, inline bool) {
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
