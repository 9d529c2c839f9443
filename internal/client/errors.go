package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an APIError
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthExpired
	KindForbidden
	KindNotFound
	KindServerError
	KindHTTP
	KindNetworkUnavailable
	KindRequestSetup
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	case KindHTTP:
		return "http"
	case KindNetworkUnavailable:
		return "network_unavailable"
	case KindRequestSetup:
		return "request_setup"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// User-facing messages attached to classified errors
const (
	MsgAuthExpired  = "Your session has expired. Please sign in again."
	MsgForbidden    = "You do not have permission to perform this action."
	MsgNotFound     = "The requested resource was not found."
	MsgServerError  = "An internal server error occurred. Please try again later."
	MsgNoResponse   = "No response from server. Please check your connection."
	MsgRequestSetup = "An error occurred while processing your request."
)

// APIError is returned for every failed call made through Client
type APIError struct {
	Kind       Kind
	StatusCode int
	Method     string
	URL        string
	Message    string
	Data       []byte
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Method != "" {
		b.WriteString(e.Method)
		b.WriteByte(' ')
	}
	if e.URL != "" {
		b.WriteString(e.URL)
		b.WriteString(": ")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "status %d: ", e.StatusCode)
	}
	b.WriteString(e.Message)
	if e.Message == "" && e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ServerMessage returns the "message" field of a JSON error body, if present
func (e *APIError) ServerMessage() string {
	return serverMessage(e.Data)
}

// NewValidationError creates a local validation failure that never reached the network
func NewValidationError(message string) *APIError {
	return &APIError{Kind: KindValidation, Message: message}
}

// KindOf returns the Kind of err, or KindUnknown if err is not an APIError
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an APIError of the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// classifyResponse maps a non-2xx response onto the error taxonomy
func classifyResponse(method, url string, status int, data []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Method:     method,
		URL:        url,
		Data:       data,
	}

	switch status {
	case http.StatusUnauthorized:
		// Only reached when no session is attached to the client
		apiErr.Kind = KindAuthExpired
		apiErr.Message = firstNonEmpty(serverMessage(data), MsgAuthExpired)
	case http.StatusForbidden:
		apiErr.Kind = KindForbidden
		apiErr.Message = MsgForbidden
	case http.StatusNotFound:
		apiErr.Kind = KindNotFound
		apiErr.Message = MsgNotFound
	case http.StatusInternalServerError:
		apiErr.Kind = KindServerError
		apiErr.Message = MsgServerError
	default:
		apiErr.Kind = KindHTTP
		apiErr.Message = firstNonEmpty(serverMessage(data), http.StatusText(status), fmt.Sprintf("request failed with status %d", status))
	}

	return apiErr
}

func serverMessage(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Message)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
