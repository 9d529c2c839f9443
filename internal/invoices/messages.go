package invoices

import (
	"errors"
	"net/http"

	"github.com/invobilled/invobilled/internal/client"
)

// User-facing notification text
const (
	MsgSaved   = "Invoice saved successfully!"
	MsgDeleted = "Invoice deleted successfully!"
	MsgSent    = "Invoice sent successfully!"

	MsgInvalidRequest = "Invalid request. Please check your input and try again."
	MsgOffline        = "You are offline. Please check your internet connection."
	MsgGeneric        = "Something went wrong. Please try again."

	failedList   = "Failed to load invoices. "
	failedSave   = "Failed to save invoice. "
	failedDelete = "Failed to delete invoice. "
	failedSend   = "Failed to send invoice. "
)

// UserMessage turns an operation error into text suitable for a notification.
// Classified failures keep the client's message so backend internals never
// reach the user; a message supplied by the server is shown only for plain
// HTTP errors such as a rejected request.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}

	switch apiErr.Kind {
	case client.KindNetworkUnavailable:
		return MsgOffline
	case client.KindValidation:
		return MsgInvalidRequest
	case client.KindForbidden:
		return classified(apiErr.Message, client.MsgForbidden)
	case client.KindNotFound:
		return classified(apiErr.Message, client.MsgNotFound)
	case client.KindServerError:
		return classified(apiErr.Message, client.MsgServerError)
	case client.KindAuthExpired:
		return classified(apiErr.Message, client.MsgAuthExpired)
	case client.KindRequestSetup:
		return classified(apiErr.Message, client.MsgRequestSetup)
	}

	if msg := apiErr.ServerMessage(); msg != "" {
		return msg
	}
	switch {
	case apiErr.StatusCode == http.StatusBadRequest:
		return MsgInvalidRequest
	case apiErr.Message != "":
		return apiErr.Message
	default:
		return MsgGeneric
	}
}

func classified(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// failureMessage prefixes the reason with what failed. Being offline
// replaces the whole message.
func failureMessage(prefix string, err error) string {
	if client.IsKind(err, client.KindNetworkUnavailable) {
		return MsgOffline
	}
	return prefix + UserMessage(err)
}
