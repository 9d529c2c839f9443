package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/invobilled/invobilled/internal/client"
	"github.com/invobilled/invobilled/internal/invoices"
	"github.com/invobilled/invobilled/internal/upload"
)

// maxUploadSize bounds multipart bodies (invoice PDFs)
const maxUploadSize = 10 << 20

// invoiceService creates a per-request service that reports into notes
func (h *Handler) invoiceService(w http.ResponseWriter, r *http.Request, notes *notifications) (*invoices.Service, bool) {
	c, _, err := h.getClient(w, r)
	if err != nil {
		h.log.Error("failed to create API client", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, response{Error: invoices.MsgGeneric})
		return nil, false
	}
	return invoices.NewService(c, notes, invoices.WithLogger(h.log)), true
}

// ListInvoices returns the user's invoices
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	notes := &notifications{}
	svc, ok := h.invoiceService(w, r, notes)
	if !ok {
		return
	}

	list, err := svc.List(r.Context())
	if err != nil {
		h.writeError(w, err, notes)
		return
	}
	if list == nil {
		list = []invoices.Invoice{}
	}
	writeJSON(w, http.StatusOK, response{Data: list, Notifications: notes.items})
}

// SaveInvoice creates or updates an invoice
func (h *Handler) SaveInvoice(w http.ResponseWriter, r *http.Request) {
	var inv invoices.Invoice
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		h.writeError(w, client.NewValidationError("Invalid invoice JSON"), nil)
		return
	}

	notes := &notifications{}
	svc, ok := h.invoiceService(w, r, notes)
	if !ok {
		return
	}

	saved, err := svc.Save(r.Context(), &inv)
	if err != nil {
		h.writeError(w, err, notes)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: saved, Notifications: notes.items})
}

// DeleteInvoice removes an invoice by ID
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	notes := &notifications{}
	svc, ok := h.invoiceService(w, r, notes)
	if !ok {
		return
	}

	if err := svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err, notes)
		return
	}
	writeJSON(w, http.StatusOK, response{Notifications: notes.items})
}

// SendInvoice emails an invoice PDF. The request is multipart with fields
// email, invoiceId and file.
func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.writeError(w, client.NewValidationError("Invalid upload"), nil)
		return
	}

	req := &invoices.SendRequest{
		Email:     r.FormValue("email"),
		InvoiceID: r.FormValue("invoiceId"),
	}
	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			h.writeError(w, client.NewValidationError("Invalid upload"), nil)
			return
		}
		req.PDF = data
		req.Filename = header.Filename
	}

	notes := &notifications{}
	svc, ok := h.invoiceService(w, r, notes)
	if !ok {
		return
	}

	reply, err := svc.Send(r.Context(), req)
	if err != nil {
		h.writeError(w, err, notes)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: map[string]string{"message": reply}, Notifications: notes.items})
}

type thumbnailRequest struct {
	Title string `json:"title"`
	Image string `json:"image"` // base64 data URL
}

// UploadThumbnail stores an invoice preview image and returns its URL
func (h *Handler) UploadThumbnail(w http.ResponseWriter, r *http.Request) {
	var req thumbnailRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&req); err != nil {
		h.writeError(w, client.NewValidationError("Invalid thumbnail JSON"), nil)
		return
	}

	c, _, err := h.getClient(w, r)
	if err != nil {
		h.log.Error("failed to create API client", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, response{Error: invoices.MsgGeneric})
		return
	}

	opts := append([]upload.Option{upload.WithLogger(h.log)}, h.cfg.UploadOptions...)
	url, err := upload.New(c, opts...).UploadDataURL(r.Context(), req.Title, req.Image)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: map[string]string{"url": url}})
}
