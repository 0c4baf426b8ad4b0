package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"kesefly/internal/core"
	"kesefly/internal/log"
	"kesefly/internal/mailer"
	"kesefly/internal/pdf"
	"kesefly/internal/share"
)

type DeliveryStore interface {
	GetInvoice(ctx context.Context, userID, id string) (core.Invoice, error)
	GetCreditNote(ctx context.Context, userID, id string) (core.CreditNote, error)
	GetBusinessProfile(ctx context.Context, userID string) (core.BusinessProfile, error)
}

// Renderer prints an HTML document to PDF.
type Renderer interface {
	Render(ctx context.Context, html []byte) ([]byte, error)
}

type MailSender interface {
	Send(msg mailer.Message) error
}

// Document is a rendered PDF ready to download.
type Document struct {
	Filename string
	Content  []byte
}

type ShareLink struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// DeliveryService renders documents to PDF and hands them out as
// downloads, signed public links or e-mail attachments. signer and mail
// may be nil; the matching operations then report core.ErrNotConfigured.
type DeliveryService struct {
	store    DeliveryStore
	renderer Renderer
	signer   *share.Signer
	mail     MailSender
	baseURL  string
	logger   *log.Logger
}

func NewDeliveryService(store DeliveryStore, renderer Renderer, signer *share.Signer, mail MailSender, baseURL string, logger *log.Logger) *DeliveryService {
	if logger == nil {
		logger = log.Discard()
	}
	return &DeliveryService{
		store:    store,
		renderer: renderer,
		signer:   signer,
		mail:     mail,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

// profile returns the issuer, or a blank one for users who have not set
// up their business details yet.
func (s *DeliveryService) profile(ctx context.Context, userID string) (core.BusinessProfile, error) {
	p, err := s.store.GetBusinessProfile(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.BusinessProfile{UserID: userID}, nil
	}
	return p, err
}

func (s *DeliveryService) render(ctx context.Context, html []byte) ([]byte, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("pdf rendering: %w", core.ErrNotConfigured)
	}
	out, err := s.renderer.Render(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	return out, nil
}

func (s *DeliveryService) InvoicePDF(ctx context.Context, userID, id string) (Document, error) {
	inv, err := s.store.GetInvoice(ctx, userID, id)
	if err != nil {
		return Document{}, err
	}
	issuer, err := s.profile(ctx, userID)
	if err != nil {
		return Document{}, err
	}
	html, err := pdf.InvoiceHTML(issuer, inv)
	if err != nil {
		return Document{}, err
	}
	content, err := s.render(ctx, html)
	if err != nil {
		return Document{}, err
	}
	return Document{Filename: "invoice-" + inv.Number + ".pdf", Content: content}, nil
}

func (s *DeliveryService) CreditNotePDF(ctx context.Context, userID, id string) (Document, error) {
	cn, err := s.store.GetCreditNote(ctx, userID, id)
	if err != nil {
		return Document{}, err
	}
	issuer, err := s.profile(ctx, userID)
	if err != nil {
		return Document{}, err
	}
	html, err := pdf.CreditNoteHTML(issuer, cn)
	if err != nil {
		return Document{}, err
	}
	content, err := s.render(ctx, html)
	if err != nil {
		return Document{}, err
	}
	return Document{Filename: "credit-note-" + cn.Number + ".pdf", Content: content}, nil
}

// Share issues a public link to a document of kind share.KindInvoice or
// share.KindCreditNote. The document must exist.
func (s *DeliveryService) Share(ctx context.Context, userID, kind, id string) (ShareLink, error) {
	if s.signer == nil {
		return ShareLink{}, fmt.Errorf("document sharing: %w", core.ErrNotConfigured)
	}
	var err error
	switch kind {
	case share.KindInvoice:
		_, err = s.store.GetInvoice(ctx, userID, id)
	case share.KindCreditNote:
		_, err = s.store.GetCreditNote(ctx, userID, id)
	default:
		err = core.NewValidationError("kind", "unknown document kind")
	}
	if err != nil {
		return ShareLink{}, err
	}
	token, exp, err := s.signer.Issue(kind, userID, id)
	if err != nil {
		return ShareLink{}, err
	}
	s.logger.InfoContext(ctx, "Share link issued", log.FieldUserID, userID, log.FieldKind, kind, log.FieldItemID, id)
	return ShareLink{URL: s.baseURL + "/share/" + url.PathEscape(token), Token: token, ExpiresAt: exp}, nil
}

// Shared renders the document a share token points to. Bad or expired
// tokens are reported as core.ErrNotFound.
func (s *DeliveryService) Shared(ctx context.Context, token string) (Document, error) {
	if s.signer == nil {
		return Document{}, fmt.Errorf("document sharing: %w", core.ErrNotConfigured)
	}
	c, err := s.signer.Parse(token)
	if err != nil {
		s.logger.WarnContext(ctx, "Rejected share token", log.FieldError, err, log.FieldErrorType, log.ErrorTypeAuth)
		return Document{}, fmt.Errorf("shared document: %w", core.ErrNotFound)
	}
	if c.Kind == share.KindCreditNote {
		return s.CreditNotePDF(ctx, c.UserID, c.Subject)
	}
	return s.InvoicePDF(ctx, c.UserID, c.Subject)
}

// SendInvoice e-mails the invoice PDF to the client's address.
func (s *DeliveryService) SendInvoice(ctx context.Context, userID, id string) error {
	if s.mail == nil {
		return fmt.Errorf("e-mail: %w", core.ErrNotConfigured)
	}
	inv, err := s.store.GetInvoice(ctx, userID, id)
	if err != nil {
		return err
	}
	if inv.Client == nil || inv.Client.Email == "" {
		return core.NewValidationError("email", "client has no e-mail address")
	}
	doc, err := s.InvoicePDF(ctx, userID, id)
	if err != nil {
		return err
	}
	issuer, err := s.profile(ctx, userID)
	if err != nil {
		return err
	}

	from := issuer.CompanyName
	if from == "" {
		from = "Kesefly"
	}
	msg := mailer.Message{
		To:      inv.Client.Email,
		Subject: fmt.Sprintf("חשבונית %s מאת %s", inv.Number, from),
		Body: fmt.Sprintf("שלום %s,\n\nמצורפת חשבונית %s על סך %s.\n\nתודה,\n%s\n",
			inv.Client.Name, inv.Number, core.FormatAmount(inv.Total, inv.Currency), from),
		Attachments: []mailer.Attachment{{Filename: doc.Filename, Content: doc.Content}},
	}
	if err := s.mail.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	s.logger.InfoContext(ctx, "Invoice sent", log.FieldUserID, userID, log.FieldItemID, id)
	return nil
}
