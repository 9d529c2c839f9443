// Package upload stores invoice thumbnails on Cloudinary using unsigned uploads.
package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/gosimple/slug"

	"github.com/invobilled/invobilled/internal/client"
	"github.com/invobilled/invobilled/internal/pkg/idgen"
)

const (
	DefaultEndpoint = "https://api.cloudinary.com"
	DefaultCloud    = "dhadf5h7j"
	DefaultPreset   = "invoices-thumbnail"
)

// ErrInvalidDataURL is returned for data URLs that are not base64 encoded
var ErrInvalidDataURL = errors.New("invalid data URL")

// Doer sends requests through the API client
type Doer interface {
	Do(ctx context.Context, r *client.Request) (*client.Response, error)
}

// Uploader uploads images to a Cloudinary cloud
type Uploader struct {
	api      Doer
	endpoint string
	cloud    string
	preset   string
	log      *slog.Logger
}

// Option configures an Uploader
type Option func(*Uploader)

// WithCloud sets the Cloudinary cloud name
func WithCloud(name string) Option {
	return func(u *Uploader) {
		if name != "" {
			u.cloud = name
		}
	}
}

// WithPreset sets the unsigned upload preset
func WithPreset(preset string) Option {
	return func(u *Uploader) {
		if preset != "" {
			u.preset = preset
		}
	}
}

// WithEndpoint overrides the Cloudinary API origin
func WithEndpoint(endpoint string) Option {
	return func(u *Uploader) {
		if endpoint != "" {
			u.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(u *Uploader) { u.log = l }
}

// New creates an Uploader that sends requests through api
func New(api Doer, opts ...Option) *Uploader {
	u := &Uploader{
		api:      api,
		endpoint: DefaultEndpoint,
		cloud:    DefaultCloud,
		preset:   DefaultPreset,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.log = u.log.With(slog.String("component", "cloudinary"))
	return u
}

// Image is an image to upload
type Image struct {
	// Title names the image; it is slugified into the public ID
	Title       string
	Filename    string
	ContentType string
	Data        []byte
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
}

// Upload stores img and returns its HTTPS delivery URL
func (u *Uploader) Upload(ctx context.Context, img Image) (string, error) {
	if len(img.Data) == 0 {
		return "", client.NewValidationError("Image data is required")
	}

	publicID := PublicID(img.Title)
	body, contentType, err := u.encode(img, publicID)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	resp, err := u.api.Do(ctx, &client.Request{
		Method:      http.MethodPost,
		Path:        u.uploadURL(),
		Body:        body,
		ContentType: contentType,
		External:    true,
	})
	if err != nil {
		u.log.Error("error uploading to Cloudinary",
			slog.String("public_id", publicID),
			slog.String("error", err.Error()))
		return "", err
	}

	var out uploadResponse
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	if out.SecureURL == "" {
		return "", errors.New("cloudinary response did not include secure_url")
	}

	u.log.Debug("uploaded thumbnail",
		slog.String("public_id", out.PublicID),
		slog.String("url", out.SecureURL))
	return out.SecureURL, nil
}

// UploadDataURL uploads a base64 data URL, as produced by a canvas snapshot
func (u *Uploader) UploadDataURL(ctx context.Context, title, dataURL string) (string, error) {
	contentType, data, err := DecodeDataURL(dataURL)
	if err != nil {
		return "", client.NewValidationError(err.Error())
	}
	return u.Upload(ctx, Image{Title: title, ContentType: contentType, Data: data})
}

func (u *Uploader) uploadURL() string {
	return fmt.Sprintf("%s/v1_1/%s/image/upload", u.endpoint, url.PathEscape(u.cloud))
}

func (u *Uploader) encode(img Image, publicID string) (*bytes.Buffer, string, error) {
	filename := img.Filename
	if filename == "" {
		filename = publicID + extension(img.ContentType)
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"upload_preset", u.preset},
		{"cloud_name", u.cloud},
		{"public_id", publicID},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// PublicID derives a unique Cloudinary public ID from a title
func PublicID(title string) string {
	base := slug.Make(title)
	if base == "" {
		base = "invoice"
	}
	return base + "-" + idgen.NewRequestID()
}

// DecodeDataURL splits a base64 data URL into its media type and payload
func DecodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return mediaType, data, nil
}

func extension(contentType string) string {
	if contentType == "" {
		return ""
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
