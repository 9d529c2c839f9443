package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backend API Metrics
var (
	// APICalls tracks calls made to the invoicing backend and third-party hosts
	APICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invobilled_api_calls_total",
			Help: "Total API calls by method, host, normalized route, and status code",
		},
		[]string{"method", "host", "route", "status_code"},
	)

	// APIDuration tracks API call latency
	APIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "invobilled_api_duration_ms",
			Help:                            "API call duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "host", "route"},
	)

	// APIErrors tracks failed API calls by error type
	APIErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invobilled_api_errors_total",
			Help: "Total API errors by host, route, and error type",
		},
		[]string{"host", "route", "error_type"},
	)

	// TokenRefreshes tracks forced token refreshes triggered by 401 responses
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invobilled_token_refreshes_total",
			Help: "Total forced token refreshes after an unauthorized response, by result",
		},
		[]string{"result"},
	)
)

// User Sync Metrics
var (
	// UserSyncs tracks terminal outcomes of the user sync handshake
	UserSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invobilled_user_syncs_total",
			Help: "Total user sync attempts by outcome",
		},
		[]string{"outcome"},
	)

	// UserSyncPolls tracks polling rounds spent waiting for a session token
	UserSyncPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invobilled_user_sync_polls_total",
			Help: "Total polling rounds while waiting for a session token",
		},
	)
)

// Invoice Operation Metrics
var (
	// InvoiceOperations tracks invoice operations by operation and status
	InvoiceOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invobilled_invoice_operations_total",
			Help: "Total invoice operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// InvoiceOperationDuration tracks invoice operation latency
	InvoiceOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "invobilled_invoice_operation_duration_ms",
			Help:                            "Invoice operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"operation"},
	)
)

// HTTP/Web Handler Metrics
var (
	// HTTPRequests tracks HTTP requests served by the web front end
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invobilled_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration tracks HTTP request duration
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "invobilled_http_request_duration_ms",
			Help:                            "HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "path"},
	)

	// HTTPActiveRequests tracks in-flight HTTP requests
	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "invobilled_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)
)
