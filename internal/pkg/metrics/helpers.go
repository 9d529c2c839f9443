package metrics

import (
	"time"
)

// RecordInvoiceOperation records invoice operation metrics consistently
// operation: "list", "save", "delete", "send"
// err: error from the operation (nil if successful)
func RecordInvoiceOperation(operation string, duration time.Duration, err error) {
	InvoiceOperationDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))

	status := "success"
	if err != nil {
		status = "error"
	}
	InvoiceOperations.WithLabelValues(operation, status).Inc()
}

// RecordHTTPRequest records a request served by the web front end
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, path, statusLabel(status)).Inc()
	HTTPDuration.WithLabelValues(method, path).Observe(float64(duration.Milliseconds()))
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
