// Package invoices wraps the backend's invoice endpoints with user
// notifications and typed errors.
package invoices

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/invobilled/invobilled/internal/client"
	"github.com/invobilled/invobilled/internal/pkg/metrics"
)

const (
	invoicesPath = "/invoices"
	sendPath     = "/invoices/sendinvoice"
)

// APIClient is the subset of client.Client used by the service
type APIClient interface {
	Get(ctx context.Context, path string) (*client.Response, error)
	Post(ctx context.Context, path string, body any) (*client.Response, error)
	Delete(ctx context.Context, path string) (*client.Response, error)
	Do(ctx context.Context, r *client.Request) (*client.Response, error)
}

// Notifier shows short messages to the user
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

type nopNotifier struct{}

func (nopNotifier) Success(string) {}
func (nopNotifier) Error(string)   {}

// SendRequest is an invoice PDF to email to a customer
type SendRequest struct {
	Email    string
	Filename string
	PDF      []byte
	// InvoiceID links the email to a saved invoice; optional
	InvoiceID string
}

// Service handles invoice operations against the backend
type Service struct {
	api      APIClient
	notifier Notifier
	log      *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a new invoice service. A nil notifier discards messages.
func NewService(api APIClient, notifier Notifier, opts ...Option) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &Service{
		api:      api,
		notifier: notifier,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "invoice_service"))
	return s
}

// List returns all invoices of the signed-in user
func (s *Service) List(ctx context.Context) (list []Invoice, err error) {
	defer s.record("list", time.Now(), &err)

	resp, err := s.api.Get(ctx, invoicesPath)
	if err != nil {
		s.fail("error fetching invoices", failedList, err)
		return nil, err
	}

	if err := resp.Decode(&list); err != nil {
		s.fail("error decoding invoices", failedList, err)
		return nil, err
	}
	return list, nil
}

// Save creates or updates an invoice and returns the stored version
func (s *Service) Save(ctx context.Context, inv *Invoice) (saved *Invoice, err error) {
	defer s.record("save", time.Now(), &err)

	if inv == nil {
		return nil, client.NewValidationError("Invoice is required")
	}

	resp, err := s.api.Post(ctx, invoicesPath, inv)
	if err != nil {
		s.fail("error saving invoice", failedSave, err)
		return nil, err
	}

	saved = &Invoice{}
	if err := resp.Decode(saved); err != nil {
		s.fail("error decoding saved invoice", failedSave, err)
		return nil, err
	}

	s.notifier.Success(MsgSaved)
	return saved, nil
}

// Delete removes an invoice
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	defer s.record("delete", time.Now(), &err)

	if id == "" {
		return client.NewValidationError("Invoice ID is required")
	}

	if _, err := s.api.Delete(ctx, invoicesPath+"/"+url.PathEscape(id)); err != nil {
		s.fail("error deleting invoice", failedDelete, err, slog.String("invoice_id", id))
		return err
	}

	s.notifier.Success(MsgDeleted)
	return nil
}

// Send emails an invoice PDF and returns the server's reply
func (s *Service) Send(ctx context.Context, req *SendRequest) (reply string, err error) {
	defer s.record("send", time.Now(), &err)

	if err := req.validate(); err != nil {
		return "", err
	}

	body, contentType, err := req.encode()
	if err != nil {
		return "", &client.APIError{
			Kind:    client.KindRequestSetup,
			Method:  http.MethodPost,
			URL:     sendPath,
			Message: client.MsgRequestSetup,
			Err:     err,
		}
	}

	resp, err := s.api.Do(ctx, &client.Request{
		Method:      http.MethodPost,
		Path:        sendPath,
		Body:        body,
		ContentType: contentType,
	})
	if err != nil {
		s.fail("error sending invoice", failedSend, err, slog.String("email", req.Email))
		return "", err
	}

	s.notifier.Success(MsgSent)
	return string(resp.Data), nil
}

func (s *Service) fail(logMsg, prefix string, err error, attrs ...any) {
	s.log.Error(logMsg, append(attrs, slog.String("error", err.Error()))...)
	s.notifier.Error(failureMessage(prefix, err))
}

func (s *Service) record(op string, start time.Time, err *error) {
	metrics.RecordInvoiceOperation(op, time.Since(start), *err)
}

func (r *SendRequest) validate() error {
	switch {
	case r == nil:
		return client.NewValidationError("Form data is required")
	case r.Email == "":
		return client.NewValidationError("Recipient email is required")
	case len(r.PDF) == 0:
		return client.NewValidationError("Invoice PDF is required")
	}
	return nil
}

// encode builds the multipart form expected by the send endpoint
func (r *SendRequest) encode() (*bytes.Buffer, string, error) {
	filename := r.Filename
	if filename == "" {
		filename = "invoice.pdf"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(r.PDF); err != nil {
		return nil, "", err
	}

	if err := w.WriteField("email", r.Email); err != nil {
		return nil, "", err
	}
	if r.InvoiceID != "" {
		if err := w.WriteField("invoiceId", r.InvoiceID); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
